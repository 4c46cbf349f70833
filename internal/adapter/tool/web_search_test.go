package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"parley/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearchBackend returns scripted results and counts calls.
type fakeSearchBackend struct {
	results []SearchResult
	err     error
	calls   atomic.Int64
}

func (b *fakeSearchBackend) Name() string { return "fake" }

func (b *fakeSearchBackend) Search(ctx context.Context, query string, count int, timeRange string) ([]SearchResult, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return b.results, nil
}

func TestWebSearchExecute(t *testing.T) {
	backend := &fakeSearchBackend{
		results: []SearchResult{
			{Title: "Go", URL: "https://go.dev", Content: "The Go programming language"},
			{Title: "Go blog", URL: "https://go.dev/blog", Content: "News"},
		},
	}
	ws := NewWebSearchTool(backend, 10, time.Minute, time.Minute, newTestLogger())

	result, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, "https://go.dev") {
		t.Errorf("content missing URL: %s", result.Content)
	}
	if len(result.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(result.Citations))
	}
	if result.Citations[0].URL != "https://go.dev" || result.Citations[0].Title != "Go" {
		t.Errorf("citation[0] = %+v", result.Citations[0])
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	ws := NewWebSearchTool(&fakeSearchBackend{}, 10, time.Minute, time.Minute, newTestLogger())

	result, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for empty query")
	}
}

func TestWebSearchInvalidTimeRange(t *testing.T) {
	ws := NewWebSearchTool(&fakeSearchBackend{}, 10, time.Minute, time.Minute, newTestLogger())

	result, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"x","time_range":"decade"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for invalid time_range")
	}
}

func TestWebSearchCacheHit(t *testing.T) {
	backend := &fakeSearchBackend{
		results: []SearchResult{{Title: "T", URL: "https://example.com", Content: "c"}},
	}
	ws := NewWebSearchTool(backend, 10, time.Minute, time.Minute, newTestLogger())

	params := json.RawMessage(`{"query":"repeat"}`)
	first, err := ws.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := ws.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if backend.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1 (second call cached)", backend.calls.Load())
	}
	if first.Content != second.Content {
		t.Error("cached content differs from original")
	}
	if len(second.Citations) != 1 {
		t.Errorf("cached citations = %d, want 1", len(second.Citations))
	}
}

func TestWebSearchThrottle(t *testing.T) {
	backend := &fakeSearchBackend{
		results: []SearchResult{{Title: "T", URL: "https://example.com", Content: "c"}},
	}
	// One request per hour: the second distinct query must be throttled.
	ws := NewWebSearchTool(backend, 1, time.Hour, time.Minute, newTestLogger())

	if res, _ := ws.Execute(context.Background(), json.RawMessage(`{"query":"a"}`)); res.IsError {
		t.Fatalf("first call should pass: %s", res.Content)
	}
	res, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"b"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected throttled error result")
	}
	if !strings.Contains(res.Content, "throttled") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestWebSearchBackendError(t *testing.T) {
	backend := &fakeSearchBackend{err: errors.New("boom")}
	ws := NewWebSearchTool(backend, 10, time.Minute, time.Minute, newTestLogger())

	result, err := ws.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestWebSearchTransientErrorHint(t *testing.T) {
	backend := &fakeSearchBackend{err: domain.ErrNetwork}
	ws := NewWebSearchTool(backend, 10, time.Minute, time.Minute, newTestLogger())

	result, _ := ws.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content, "transient") {
		t.Errorf("expected retry hint, got %q", result.Content)
	}
}
