package usecase

import (
	"parley/internal/domain"
)

// DisplayMessage is what the rendering layer shows for a message id at an
// instant: the persisted record with live overlay fields layered on top.
type DisplayMessage struct {
	domain.Message

	// Streaming is true while an overlay entry exists for the message.
	Streaming bool
	// TransientStatus is the short ephemeral label from the overlay
	// ("thinking", "searching"), distinct from the persisted Status.
	TransientStatus string
	// ToolEvents is the live tool event log, present only while streaming.
	ToolEvents []OverlayToolEvent
}

// messageLoader is the slice of the persistence surface the reconciler reads.
type messageLoader interface {
	GetMessage(id string) (*domain.Message, error)
}

// Reconciler merges persisted message records with overlay entries. It never
// writes either side; it only decides which value to expose.
//
// The overlay wins for content, reasoning, citations and transient status
// until it is explicitly cleared, so the rendering layer never flickers back
// to a stale persisted record between stream end and persistence catching up.
// Identity fields (id, model, provider, attachments) always come from the
// persisted record.
type Reconciler struct {
	overlay *Overlay
	store   messageLoader
}

// NewReconciler creates a reconciler over the given overlay and store.
func NewReconciler(overlay *Overlay, store messageLoader) *Reconciler {
	return &Reconciler{overlay: overlay, store: store}
}

// Resolve returns the display value for messageID. A missing persisted record
// is not an error while an overlay entry exists (the message is mid-flight
// and persistence happens at finalization); with neither present the
// persistence error is returned.
func (r *Reconciler) Resolve(messageID string) (DisplayMessage, error) {
	persisted, err := r.store.GetMessage(messageID)

	entry, live := r.overlay.Get(messageID)
	if !live {
		if err != nil {
			return DisplayMessage{}, domain.WrapOp("Reconciler.Resolve", err)
		}
		return DisplayMessage{Message: *persisted}, nil
	}

	var msg domain.Message
	if persisted != nil {
		msg = *persisted
	} else {
		msg.ID = messageID
		msg.Role = domain.RoleAssistant
		msg.Status = domain.StatusStreaming
	}

	if entry.HasContent {
		msg.Content = entry.Content
	}
	if entry.HasReasoning {
		msg.Reasoning = entry.Reasoning
	}
	if entry.HasCitations {
		msg.Citations = entry.Citations
	}

	return DisplayMessage{
		Message:         msg,
		Streaming:       true,
		TransientStatus: entry.Status,
		ToolEvents:      entry.ToolEvents,
	}, nil
}
