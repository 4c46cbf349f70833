package store

import (
	"sync"
	"time"

	"parley/internal/domain"
)

// MemorySink is the in-memory MessageSink used in private/ephemeral mode:
// messages live for the duration of the session and never reach disk.
type MemorySink struct {
	mu       sync.RWMutex
	messages map[string]domain.Message
	order    []string
}

// Compile-time interface check.
var _ domain.MessageSink = (*MemorySink)(nil)

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{messages: make(map[string]domain.Message)}
}

// AppendMessage stores msg. The conversation id is ignored; a private
// session has no persisted conversation.
func (s *MemorySink) AppendMessage(_ string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.order = append(s.order, msg.ID)
	}
	s.messages[msg.ID] = msg
	return nil
}

// UpdateMessage replaces a stored message.
func (s *MemorySink) UpdateMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		return domain.ErrMessageNotFound
	}
	s.messages[msg.ID] = msg
	return nil
}

// GetMessage returns a message by id.
func (s *MemorySink) GetMessage(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return &msg, nil
}

// Messages returns all stored messages in insertion order.
func (s *MemorySink) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id])
	}
	return out
}

// Clear drops everything, ending the ephemeral session.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]domain.Message)
	s.order = nil
}
