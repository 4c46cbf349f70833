package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"parley/internal/domain"
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into zero or more normalized StreamEvents using the
// provider-specific parseLine function. Events are delivered in wire order.
// The returned channel is closed when a finish event is emitted, the body is
// exhausted, or ctx is cancelled.
//
// On the "[DONE]" sentinel, onDone supplies the closing events so providers
// that buffer finish reason or usage across chunks can flush them. A nil
// onDone emits a plain finish.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) ([]domain.StreamEvent, error), onDone func() []domain.StreamEvent) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// We only care about "data: ..." lines; the event type is
			// recoverable from the payload's own "type" field.
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				closing := []domain.StreamEvent{{Kind: domain.StreamFinish, FinishReason: "stop"}}
				if onDone != nil {
					closing = onDone()
				}
				for _, ev := range closing {
					if !emit(ctx, ch, ev) {
						return
					}
				}
				return
			}

			events, err := parseLine(data)
			if err != nil {
				// Skip unparseable lines.
				continue
			}

			for _, ev := range events {
				if !emit(ctx, ch, ev) {
					return
				}
				if ev.Kind == domain.StreamFinish {
					return
				}
			}
		}
		// An I/O error mid-stream surfaces as a network error event so the
		// consumer knows the stream terminated abnormally.
		if err := scanner.Err(); err != nil {
			emit(ctx, ch, domain.StreamEvent{
				Kind:    domain.StreamError,
				ErrKind: domain.StreamErrNetwork,
				Err:     err,
			})
		}
	}()
	return ch
}

// emit sends ev unless ctx is done. Reports whether the send happened.
func emit(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
