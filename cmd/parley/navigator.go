package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/adapter/tui/chat"
	"parley/internal/usecase"
)

// teaNavigator delivers navigation requests from submission strategies into
// the running Bubble Tea program. The program field is set after the program
// is constructed; navigation before that is impossible because strategies
// only run from inside the program's update loop.
type teaNavigator struct {
	program *tea.Program
}

func (n *teaNavigator) NavigateToConversation(conversationID string, draft *usecase.SubmissionRequest) {
	if n.program == nil {
		return
	}
	n.program.Send(chat.NavigateMsg{ConversationID: conversationID, Draft: draft})
}

func (n *teaNavigator) NavigateToPrivate(draft usecase.SubmissionRequest) {
	if n.program == nil {
		return
	}
	n.program.Send(chat.NavigateMsg{Private: true, Draft: &draft})
}
