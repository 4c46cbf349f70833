package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/usecase"
)

// OverlayChangedMsg is delivered when the overlay entry for a message id
// changed; the model re-resolves the message through the reconciler.
type OverlayChangedMsg struct {
	MessageID string
}

// LifecycleMsg is delivered for coarse stream lifecycle events from the bus
// (started, completed, stopped, failed).
type LifecycleMsg struct {
	Type      string
	SessionID string
	Detail    string
}

// SubmitResultMsg reports the outcome of dispatching a submission.
type SubmitResultMsg struct {
	Err error
}

// NavigateMsg asks the model to switch to a conversation, or to the private
// session when Private is set. Draft, when non-nil, travels with the
// navigation and is submitted on arrival.
type NavigateMsg struct {
	ConversationID string
	Private        bool
	Draft          *usecase.SubmissionRequest
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}

func quitCmd() tea.Msg { return QuitMsg{} }
