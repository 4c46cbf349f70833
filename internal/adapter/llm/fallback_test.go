package llm

import (
	"context"
	"errors"
	"testing"

	"parley/internal/domain"
)

// fakeStreamProvider scripts ChatStream behavior for fallback tests.
type fakeStreamProvider struct {
	name       string
	reasoning  bool
	structErr  error // returned when req.Reasoning is set
	textEvents []domain.StreamEvent
	calls      []domain.ChatRequest
}

func (f *fakeStreamProvider) Name() string { return f.name }

func (f *fakeStreamProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeStreamProvider) SupportsReasoning(model string) bool { return f.reasoning }

func (f *fakeStreamProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	f.calls = append(f.calls, req)
	if req.Reasoning != nil && req.Reasoning.Enabled {
		if f.structErr != nil {
			return nil, f.structErr
		}
	}
	ch := make(chan domain.StreamEvent, len(f.textEvents))
	for _, ev := range f.textEvents {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestOpenStreamStructuredPreferred(t *testing.T) {
	p := &fakeStreamProvider{
		name:      "fake",
		reasoning: true,
		textEvents: []domain.StreamEvent{
			{Kind: domain.StreamTextDelta, Text: "ok"},
			{Kind: domain.StreamFinish, FinishReason: "stop"},
		},
	}

	ch, err := OpenStream(context.Background(), p, domain.ChatRequest{
		Model:     "m",
		Reasoning: &domain.ReasoningConfig{Enabled: true},
	}, newTestLogger())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	collect(ch)

	if len(p.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(p.calls))
	}
	if p.calls[0].Reasoning == nil {
		t.Error("expected structured stream request to keep reasoning config")
	}
}

func TestOpenStreamFallsBackToTextOnly(t *testing.T) {
	p := &fakeStreamProvider{
		name:      "fake",
		reasoning: true,
		structErr: domain.ErrModelUnavailable,
		textEvents: []domain.StreamEvent{
			{Kind: domain.StreamTextDelta, Text: "<thinking>hm</thinking>result"},
			{Kind: domain.StreamFinish, FinishReason: "stop"},
		},
	}

	ch, err := OpenStream(context.Background(), p, domain.ChatRequest{
		Model:     "m",
		Reasoning: &domain.ReasoningConfig{Enabled: true},
	}, newTestLogger())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	var text, reasoning string
	for ev := range ch {
		switch ev.Kind {
		case domain.StreamTextDelta:
			text += ev.Text
		case domain.StreamReasoningDelta:
			reasoning += ev.Text
		}
	}

	if len(p.calls) != 2 {
		t.Fatalf("calls = %d, want 2 (structured then text-only)", len(p.calls))
	}
	if p.calls[1].Reasoning != nil {
		t.Error("fallback request should drop the reasoning config")
	}
	if reasoning != "hm" {
		t.Errorf("reasoning = %q, want inline markup extracted", reasoning)
	}
	if text != "result" {
		t.Errorf("text = %q", text)
	}
}

func TestOpenStreamNoFallbackOnCancel(t *testing.T) {
	p := &fakeStreamProvider{
		name:      "fake",
		reasoning: true,
		structErr: context.Canceled,
	}

	_, err := OpenStream(context.Background(), p, domain.ChatRequest{
		Model:     "m",
		Reasoning: &domain.ReasoningConfig{Enabled: true},
	}, newTestLogger())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(p.calls) != 1 {
		t.Fatalf("calls = %d, cancellation must not trigger fallback", len(p.calls))
	}
}

func TestOpenStreamTextOnlyWhenNotReasoningCapable(t *testing.T) {
	p := &fakeStreamProvider{
		name:      "fake",
		reasoning: false,
		textEvents: []domain.StreamEvent{
			{Kind: domain.StreamTextDelta, Text: "<think>a</think>b"},
			{Kind: domain.StreamFinish, FinishReason: "stop"},
		},
	}

	ch, err := OpenStream(context.Background(), p, domain.ChatRequest{
		Model:     "m",
		Reasoning: &domain.ReasoningConfig{Enabled: true},
	}, newTestLogger())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	var text, reasoning string
	for ev := range ch {
		switch ev.Kind {
		case domain.StreamTextDelta:
			text += ev.Text
		case domain.StreamReasoningDelta:
			reasoning += ev.Text
		}
	}

	if len(p.calls) != 1 {
		t.Fatalf("calls = %d, want direct text-only path", len(p.calls))
	}
	if reasoning != "a" || text != "b" {
		t.Errorf("reasoning = %q, text = %q", reasoning, text)
	}
}

func TestOpenStreamEventOrderPreserved(t *testing.T) {
	p := &fakeStreamProvider{
		name: "fake",
		textEvents: []domain.StreamEvent{
			{Kind: domain.StreamStatus, Status: "thinking"},
			{Kind: domain.StreamTextDelta, Text: "one "},
			{Kind: domain.StreamTextDelta, Text: "two"},
			{Kind: domain.StreamFinish, FinishReason: "stop"},
		},
	}

	ch, err := OpenStream(context.Background(), p, domain.ChatRequest{Model: "m"}, newTestLogger())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	events := collect(ch)
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[0].Kind != domain.StreamStatus ||
		events[1].Text != "one " || events[2].Text != "two" ||
		events[3].Kind != domain.StreamFinish {
		t.Errorf("order not preserved: %+v", events)
	}
}
