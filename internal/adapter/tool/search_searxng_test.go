package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSearXNGSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "golang" {
			t.Errorf("q = %s", q.Get("q"))
		}
		if q.Get("format") != "json" {
			t.Errorf("format = %s", q.Get("format"))
		}
		if q.Get("time_range") != "week" {
			t.Errorf("time_range = %s", q.Get("time_range"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "A", "url": "https://a.example", "content": "aaa"},
				{"title": "B", "url": "https://b.example", "content": "bbb"},
				{"title": "C", "url": "https://c.example", "content": "ccc"},
			},
		})
	}))
	defer server.Close()

	backend := NewSearXNGBackend(server.URL, 5*time.Second, newTestLogger())

	results, err := backend.Search(context.Background(), "golang", 2, "week")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (count cap)", len(results))
	}
	if results[0].Title != "A" || results[0].URL != "https://a.example" {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestSearXNGSearchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	backend := NewSearXNGBackend(server.URL, 5*time.Second, newTestLogger())

	if _, err := backend.Search(context.Background(), "x", 5, ""); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
