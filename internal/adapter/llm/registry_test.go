package llm

import (
	"context"
	"errors"
	"testing"

	"parley/internal/domain"
)

// chatOnlyProvider implements LLMProvider without streaming.
type chatOnlyProvider struct{ name string }

func (p *chatOnlyProvider) Name() string { return p.name }
func (p *chatOnlyProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&chatOnlyProvider{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, err := r.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name() != "a" {
		t.Errorf("name = %q", p.Name())
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register(&chatOnlyProvider{name: "a"})
	if err := r.Register(&chatOnlyProvider{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRegistryGetStreaming(t *testing.T) {
	r := NewRegistry()
	r.Register(&chatOnlyProvider{name: "plain"})
	r.Register(&fakeStreamProvider{name: "stream"})

	if _, err := r.GetStreaming("plain"); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound for non-streaming provider, got %v", err)
	}
	if _, err := r.GetStreaming("stream"); err != nil {
		t.Errorf("GetStreaming: %v", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&chatOnlyProvider{name: "a"})
	r.Register(&chatOnlyProvider{name: "b"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
}
