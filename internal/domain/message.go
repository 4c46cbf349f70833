package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	// RoleContext marks a carried-over context summary message created when a
	// conversation is branched from another one.
	RoleContext = "context"
)

// Message status values for persisted messages.
const (
	StatusPending   = "pending"
	StatusStreaming = "streaming"
	StatusDone      = "done"
	StatusError     = "error"
)

// Attachment describes a file attached to a message. The streaming core never
// reads attachment bytes; it only carries descriptors.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Citation is a source reference produced by a provider (e.g. web search).
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Name        string       `json:"name,omitempty"`
	Model       string       `json:"model,omitempty"`
	Provider    string       `json:"provider,omitempty"`
	Status      string       `json:"status,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Citations   []Citation   `json:"citations,omitempty"`

	// Branch linkage: the message in the source conversation this message
	// descends from, when the conversation was branched.
	ParentMessageID string `json:"parent_message_id,omitempty"`

	FinishReason string    `json:"finish_reason,omitempty"`
	ErrorText    string    `json:"error_text,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ReasoningConfig controls extended-thinking behavior for a request.
type ReasoningConfig struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolSchema     `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
}

// ChatResponse is returned from an LLM provider's non-streaming call.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
