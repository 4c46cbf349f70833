package llm

import (
	"context"
	"log/slog"

	"parley/internal/domain"
)

// OpenStream opens a normalized event stream for req, choosing between the
// provider's structured multi-channel stream and a text-only fallback.
//
// When reasoning is requested and the provider advertises structured
// reasoning for the model, the structured stream is tried first. If opening
// it fails with anything other than a cancellation, the request is retried
// once as a plain text stream with inline <thinking> extraction; a
// successful fallback swallows the original error. Failures after the
// stream is open are not retried here; partial output has already been
// observed downstream.
func OpenStream(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest, logger *slog.Logger) (<-chan domain.StreamEvent, error) {
	wantStructured := req.Reasoning != nil && req.Reasoning.Enabled && supportsReasoning(p, req.Model)

	if wantStructured {
		ch, err := p.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		if domain.ClassifyStreamError(err) == domain.StreamErrCancelled {
			return nil, err
		}
		logger.Warn("structured stream failed, falling back to text-only",
			"provider", p.Name(),
			"model", req.Model,
			"error", domain.TruncateErrorDetail(err),
		)
	}

	// Text-only path: strip the reasoning request and recover inline
	// thinking markup as reasoning deltas.
	plain := req
	plain.Reasoning = nil
	ch, err := p.ChatStream(ctx, plain)
	if err != nil {
		return nil, err
	}
	return extractInlineReasoning(ch), nil
}

// supportsReasoning reports whether the provider streams reasoning as a
// first-class channel for the given model.
func supportsReasoning(p domain.LLMProvider, model string) bool {
	rc, ok := p.(domain.ReasoningCapable)
	return ok && rc.SupportsReasoning(model)
}

// extractInlineReasoning pipes a stream through a thinkingExtractor,
// rewriting text deltas that carry inline thinking markup into reasoning
// deltas. All other events pass through unchanged, in order.
func extractInlineReasoning(in <-chan domain.StreamEvent) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		var x thinkingExtractor

		flush := func() {
			text, reasoning := x.Flush()
			if reasoning != "" {
				out <- domain.StreamEvent{Kind: domain.StreamReasoningDelta, Text: reasoning}
			}
			if text != "" {
				out <- domain.StreamEvent{Kind: domain.StreamTextDelta, Text: text}
			}
		}

		for ev := range in {
			if ev.Kind != domain.StreamTextDelta {
				if ev.Kind == domain.StreamFinish || ev.Kind == domain.StreamError {
					flush()
				}
				out <- ev
				continue
			}
			text, reasoning := x.Feed(ev.Text)
			if reasoning != "" {
				out <- domain.StreamEvent{Kind: domain.StreamReasoningDelta, Text: reasoning}
			}
			if text != "" {
				out <- domain.StreamEvent{Kind: domain.StreamTextDelta, Text: text}
			}
		}
		flush()
	}()
	return out
}
