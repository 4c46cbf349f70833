package store

import "parley/internal/domain"

// RoutingSink sends messages that belong to a conversation to the persistent
// store and conversation-less (private/ephemeral) messages to the in-memory
// sink. Reads consult the persistent side first.
type RoutingSink struct {
	Persistent domain.MessageSink
	Ephemeral  domain.MessageSink
}

// Compile-time interface check.
var _ domain.MessageSink = (*RoutingSink)(nil)

// NewRoutingSink creates a routing sink over the two backends.
func NewRoutingSink(persistent, ephemeral domain.MessageSink) *RoutingSink {
	return &RoutingSink{Persistent: persistent, Ephemeral: ephemeral}
}

// AppendMessage routes on the conversation id.
func (s *RoutingSink) AppendMessage(conversationID string, msg domain.Message) error {
	if conversationID == "" {
		return s.Ephemeral.AppendMessage(conversationID, msg)
	}
	return s.Persistent.AppendMessage(conversationID, msg)
}

// UpdateMessage tries the persistent store first, then the ephemeral one.
func (s *RoutingSink) UpdateMessage(msg domain.Message) error {
	if err := s.Persistent.UpdateMessage(msg); err == nil {
		return nil
	}
	return s.Ephemeral.UpdateMessage(msg)
}

// GetMessage tries the persistent store first, then the ephemeral one.
func (s *RoutingSink) GetMessage(id string) (*domain.Message, error) {
	if msg, err := s.Persistent.GetMessage(id); err == nil {
		return msg, nil
	}
	return s.Ephemeral.GetMessage(id)
}
