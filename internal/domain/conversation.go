package domain

import "time"

// Conversation is the persisted container for an ordered message history.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Branch linkage: set when this conversation was created by branching
	// from a point in another conversation.
	SourceConversationID string `json:"source_conversation_id,omitempty"`
	SourceMessageID      string `json:"source_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStore is the persistence boundary for conversations and
// messages. The streaming core writes through it exactly once per session,
// at finalization.
type ConversationStore interface {
	CreateConversation(title string) (*Conversation, error)
	// CreateConversationFrom creates a conversation branched from
	// sourceConversationID at sourceMessageID. A non-empty contextSummary is
	// stored as a leading context-role message for continuity.
	CreateConversationFrom(sourceConversationID, sourceMessageID, title, contextSummary string) (*Conversation, error)
	GetConversation(id string) (*Conversation, error)
	ListConversations() ([]Conversation, error)
	DeleteConversation(id string) error

	AppendMessage(conversationID string, msg Message) error
	UpdateMessage(msg Message) error
	GetMessage(id string) (*Message, error)
	ListMessages(conversationID string) ([]Message, error)
}

// MessageSink is the subset of ConversationStore the Streaming Coordinator
// writes through. Private/ephemeral sessions substitute an in-memory sink so
// nothing reaches disk.
type MessageSink interface {
	AppendMessage(conversationID string, msg Message) error
	UpdateMessage(msg Message) error
	GetMessage(id string) (*Message, error)
}
