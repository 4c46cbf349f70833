package domain

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrSessionActive        = fmt.Errorf("streaming session already active")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")
	ErrEncryption           = fmt.Errorf("encryption operation failed")

	// Stream failure taxonomy sentinels.
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrNetwork          = fmt.Errorf("network failure")
	ErrModelUnavailable = fmt.Errorf("model unavailable")
	ErrCancelled        = fmt.Errorf("cancelled")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Coordinator.Start")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ClassifyStreamError maps an error to the stream failure taxonomy. Context
// cancellation (from Stop or a dropped caller) classifies as cancelled, which
// is a cooperative abort rather than a failure.
func ClassifyStreamError(err error) StreamErrorKind {
	switch {
	case err == nil:
		return StreamErrUnknown
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		return StreamErrCancelled
	case errors.Is(err, ErrAuthInvalid):
		return StreamErrAuth
	case errors.Is(err, ErrRateLimit):
		return StreamErrRateLimit
	case errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrProviderNotFound):
		return StreamErrModelUnavailable
	case errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded):
		return StreamErrNetwork
	default:
		return StreamErrUnknown
	}
}

// userMessages holds the fixed user-presentable message per failure kind.
// Raw provider error text is never surfaced through these.
var userMessages = map[StreamErrorKind]string{
	StreamErrAuth:             "Authentication failed. Check the API key for this provider.",
	StreamErrRateLimit:        "Rate limit reached. Wait a moment before sending again.",
	StreamErrNetwork:          "Network error while streaming the response.",
	StreamErrModelUnavailable: "The selected model is currently unavailable.",
	StreamErrCancelled:        "Stopped.",
	StreamErrUnknown:          "The response could not be completed.",
}

// UserMessage returns the short user-visible message for a failure kind. The
// mapping is fixed: the same kind always yields the same text.
func UserMessage(kind StreamErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[StreamErrUnknown]
}

// maxErrorDetail caps raw error text recorded for diagnostics.
const maxErrorDetail = 200

// TruncateErrorDetail bounds raw provider error text before it is logged or
// stored alongside a failed message. The cut lands on a rune boundary so the
// stored text stays valid UTF-8.
func TruncateErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > maxErrorDetail {
		cut := maxErrorDetail
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
	return s
}
