package domain

// StreamEventKind identifies the kind of a normalized stream event.
type StreamEventKind string

// Normalized stream event kinds. Every provider adapter translates its wire
// format into this set; downstream components never special-case providers.
const (
	StreamTextDelta      StreamEventKind = "text_delta"
	StreamReasoningDelta StreamEventKind = "reasoning_delta"
	StreamToolCall       StreamEventKind = "tool_call"
	StreamToolResult     StreamEventKind = "tool_result"
	StreamCitations      StreamEventKind = "citations"
	StreamStatus         StreamEventKind = "status"
	StreamFinish         StreamEventKind = "finish"
	StreamError          StreamEventKind = "error"
)

// StreamErrorKind classifies a stream failure for user presentation.
type StreamErrorKind string

const (
	StreamErrAuth             StreamErrorKind = "auth"
	StreamErrRateLimit        StreamErrorKind = "rate_limit"
	StreamErrNetwork          StreamErrorKind = "network"
	StreamErrModelUnavailable StreamErrorKind = "model_unavailable"
	// StreamErrCancelled is a cooperative abort, not a failure.
	StreamErrCancelled StreamErrorKind = "cancelled"
	StreamErrUnknown   StreamErrorKind = "unknown"
)

// ToolResultEvent summarizes a completed tool execution for display.
type ToolResultEvent struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
}

// StreamEvent is a single normalized event from a provider stream. Exactly
// one payload field is meaningful, selected by Kind.
type StreamEvent struct {
	Kind StreamEventKind `json:"kind"`

	// Text carries the delta for StreamTextDelta and StreamReasoningDelta.
	Text string `json:"text,omitempty"`
	// Status is a short ephemeral label ("searching", "thinking").
	Status string `json:"status,omitempty"`

	ToolCall   *ToolCall        `json:"tool_call,omitempty"`
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`
	Citations  []Citation       `json:"citations,omitempty"`

	// Finish payload.
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`

	// Error payload.
	ErrKind StreamErrorKind `json:"err_kind,omitempty"`
	Err     error           `json:"-"`
}

// StreamStartedPayload is the event-bus payload published when a streaming
// session enters the streaming state.
type StreamStartedPayload struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
}

// StreamCompletedPayload is published once when a session reaches a terminal
// state with a usable response.
type StreamCompletedPayload struct {
	SessionID    string `json:"session_id"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// StreamErrorPayload is published when a session fails.
type StreamErrorPayload struct {
	SessionID string          `json:"session_id"`
	Kind      StreamErrorKind `json:"kind"`
	Message   string          `json:"message"`
}
