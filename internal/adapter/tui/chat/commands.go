package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/usecase"
)

// submitCmd dispatches a submission through the selected strategy off the UI
// goroutine.
func submitCmd(strategy usecase.SubmissionStrategy, req usecase.SubmissionRequest) tea.Cmd {
	return func() tea.Msg {
		return SubmitResultMsg{Err: strategy.Submit(context.Background(), req)}
	}
}

// branchCmd spins off a new conversation from the current one. Navigation to
// the new conversation arrives through the strategy's navigator.
func branchCmd(strategy usecase.BranchingStrategy, req usecase.SubmissionRequest) tea.Cmd {
	return func() tea.Msg {
		_, err := strategy.SubmitToNewConversation(context.Background(), req)
		return SubmitResultMsg{Err: err}
	}
}
