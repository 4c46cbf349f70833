package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/domain"
	"parley/internal/usecase"
)

// notifyBuffer bounds the overlay notification queue. Deltas arrive far
// faster than a terminal can repaint; dropping a notification is fine
// because the model re-resolves full state on the next one.
const notifyBuffer = 64

// Notifier bridges the synchronous overlay subscription and the event bus
// into the Bubble Tea message loop.
type Notifier struct {
	overlayCh   chan string
	lifecycleCh chan LifecycleMsg
	unsubs      []func()
}

// NewNotifier subscribes to the overlay and the bus. Close releases both
// subscriptions.
func NewNotifier(overlay *usecase.Overlay, bus domain.EventBus) *Notifier {
	n := &Notifier{
		overlayCh:   make(chan string, notifyBuffer),
		lifecycleCh: make(chan LifecycleMsg, notifyBuffer),
	}

	n.unsubs = append(n.unsubs, overlay.Subscribe(func(messageID string) {
		select {
		case n.overlayCh <- messageID:
		default:
			// Queue full; the pending notification already forces a
			// re-resolve of current state.
		}
	}))

	if bus != nil {
		n.unsubs = append(n.unsubs, bus.SubscribeAll(func(_ context.Context, e domain.Event) {
			select {
			case n.lifecycleCh <- LifecycleMsg{Type: string(e.Type), SessionID: e.SessionID}:
			default:
			}
		}))
	}
	return n
}

// WaitOverlay returns a command that blocks for the next overlay change.
func (n *Notifier) WaitOverlay() tea.Cmd {
	return func() tea.Msg {
		id, ok := <-n.overlayCh
		if !ok {
			return nil
		}
		return OverlayChangedMsg{MessageID: id}
	}
}

// WaitLifecycle returns a command that blocks for the next lifecycle event.
func (n *Notifier) WaitLifecycle() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-n.lifecycleCh
		if !ok {
			return nil
		}
		return msg
	}
}

// Close unsubscribes and releases the channels.
func (n *Notifier) Close() {
	for _, unsub := range n.unsubs {
		unsub()
	}
	close(n.overlayCh)
	close(n.lifecycleCh)
}
