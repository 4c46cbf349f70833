// Package chat is the Bubble Tea rendering collaborator around the streaming
// core: it feeds the composer into the submission selector, routes the stop
// key to the coordinator, and re-renders on overlay changes. The core never
// imports this package.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"parley/internal/domain"
	"parley/internal/usecase"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	citationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Faint(true)
	privateStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// Deps are the collaborators injected into the chat model.
type Deps struct {
	Coordinator *usecase.Coordinator
	Reconciler  *usecase.Reconciler
	Selector    *usecase.Selector
	Store       domain.ConversationStore
	Notifier    *Notifier
	Logger      *slog.Logger

	Provider         string
	ModelName        string
	UseWebSearch     bool
	MaxContextTokens int
}

// Model is the root Bubble Tea model for the chat view.
type Model struct {
	deps Deps

	viewport viewport.Model
	composer textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	conversationID string
	privateMode    bool
	messageIDs     []string
	statusLine     string
	width          int
	height         int
	ready          bool
	quitting       bool
}

// New creates the chat model.
func New(deps Deps) Model {
	composer := textarea.New()
	composer.Placeholder = "Send a message..."
	composer.SetHeight(3)
	composer.ShowLineNumbers = false
	composer.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot

	return Model{
		deps:     deps,
		composer: composer,
		spinner:  s,
	}
}

// Init starts the spinner and the overlay/lifecycle pumps.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textarea.Blink,
		m.deps.Notifier.WaitOverlay(),
		m.deps.Notifier.WaitLifecycle(),
	)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.contentHeight())
			m.ready = true
			if r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-4),
			); err == nil {
				m.renderer = r
			}
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.contentHeight()
		}
		m.composer.SetWidth(msg.Width - 2)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case OverlayChangedMsg:
		m.trackMessage(msg.MessageID)
		m.refresh()
		return m, m.deps.Notifier.WaitOverlay()

	case LifecycleMsg:
		m.applyLifecycle(msg)
		m.refresh()
		return m, m.deps.Notifier.WaitLifecycle()

	case SubmitResultMsg:
		if msg.Err != nil {
			m.statusLine = errorStyle.Render(domain.TruncateErrorDetail(msg.Err))
		}
		m.refresh()
		return m, nil

	case NavigateMsg:
		m.conversationID = msg.ConversationID
		m.privateMode = msg.Private
		m.messageIDs = nil
		m.loadHistory()
		m.refresh()
		if msg.Draft != nil {
			// The draft travels with the navigation and is dispatched in
			// the destination's context.
			strategy := m.deps.Selector.Select(usecase.SelectorInputs{
				Send:           m.send,
				ConversationID: m.conversationID,
				Branch:         m.branch,
				PrivateMode:    m.privateMode,
			})
			return m, submitCmd(strategy, *msg.Draft)
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.deps.Coordinator.IsStreaming() {
			m.deps.Coordinator.Stop()
			m.statusLine = "Stopped."
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		// Stop is optimistic: the token is revoked immediately and any
		// straggling deltas are dropped by the coordinator.
		if m.deps.Coordinator.IsStreaming() {
			m.deps.Coordinator.Stop()
			m.statusLine = "Stopped."
		}
		return m, nil

	case tea.KeyCtrlP:
		m.privateMode = !m.privateMode
		if m.privateMode {
			m.conversationID = ""
			m.messageIDs = nil
		}
		m.refresh()
		return m, nil

	case tea.KeyCtrlB:
		return m.handleBranch()

	case tea.KeyEnter:
		if msg.Alt {
			break // Alt+Enter inserts a newline via the textarea
		}
		return m.handleSubmit()
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// handleSubmit feeds the composer through the submission selector.
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := m.composer.Value()
	strategy, req, ok := m.prepare(text)
	if !ok {
		return m, nil
	}
	m.composer.Reset()
	return m, submitCmd(strategy, req)
}

// handleBranch spins the draft off into a new conversation seeded from the
// current one.
func (m Model) handleBranch() (tea.Model, tea.Cmd) {
	text := m.composer.Value()
	strategy, req, ok := m.prepare(text)
	if !ok {
		return m, nil
	}
	branching, isBranching := strategy.(usecase.BranchingStrategy)
	if !isBranching {
		m.statusLine = "Branching needs an open conversation."
		return m, nil
	}
	m.composer.Reset()
	return m, branchCmd(branching, req)
}

func (m *Model) prepare(text string) (usecase.SubmissionStrategy, usecase.SubmissionRequest, bool) {
	strategy := m.deps.Selector.Select(usecase.SelectorInputs{
		Send:           m.send,
		ConversationID: m.conversationID,
		Branch:         m.branch,
		PrivateMode:    m.privateMode,
	})
	if !strategy.CanSubmit(text, nil) {
		return nil, usecase.SubmissionRequest{}, false
	}
	return strategy, usecase.SubmissionRequest{
		Content:      text,
		UseWebSearch: m.deps.UseWebSearch,
	}, true
}

// send is the explicit send handler handed to the selector: persist the user
// turn, then start a streaming session over the updated history.
func (m *Model) send(ctx context.Context, req usecase.SubmissionRequest) error {
	userMsg := domain.Message{
		Role:        domain.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
		Status:      domain.StatusDone,
	}
	if !m.privateMode && m.conversationID != "" {
		if err := m.deps.Store.AppendMessage(m.conversationID, userMsg); err != nil {
			return err
		}
	}

	history := m.history()
	history = append(history, userMsg)

	_, err := m.deps.Coordinator.Start(ctx, usecase.StartParams{
		ConversationID:   m.conversationID,
		Provider:         m.deps.Provider,
		Model:            m.deps.ModelName,
		Messages:         history,
		Reasoning:        req.Reasoning,
		UseWebSearch:     req.UseWebSearch,
		MaxContextTokens: m.deps.MaxContextTokens,
	})
	return err
}

// branch dispatches into a conversation just created by the branching
// strategy.
func (m *Model) branch(ctx context.Context, conversationID string, req usecase.SubmissionRequest) error {
	saved := m.conversationID
	m.conversationID = conversationID
	err := m.send(ctx, req)
	if err != nil {
		m.conversationID = saved
	}
	return err
}

func (m *Model) history() []domain.Message {
	if m.conversationID == "" {
		return nil
	}
	messages, err := m.deps.Store.ListMessages(m.conversationID)
	if err != nil {
		m.deps.Logger.Warn("could not load history",
			"conversation_id", m.conversationID,
			"error", domain.TruncateErrorDetail(err),
		)
		return nil
	}
	return messages
}

func (m *Model) loadHistory() {
	for _, msg := range m.history() {
		m.trackMessage(msg.ID)
	}
}

func (m *Model) trackMessage(id string) {
	for _, known := range m.messageIDs {
		if known == id {
			return
		}
	}
	m.messageIDs = append(m.messageIDs, id)
}

func (m *Model) applyLifecycle(msg LifecycleMsg) {
	switch domain.EventType(msg.Type) {
	case domain.EventStreamStarted:
		m.trackMessage(msg.SessionID)
		m.statusLine = ""
	case domain.EventStreamCompleted:
		m.statusLine = ""
	case domain.EventStreamStopped:
		m.statusLine = "Stopped."
	case domain.EventStreamError:
		m.statusLine = errorStyle.Render("Response failed.")
	}
}

// refresh re-resolves every tracked message through the reconciler and
// repaints the transcript.
func (m *Model) refresh() {
	if !m.ready {
		return
	}

	var b strings.Builder
	for _, id := range m.messageIDs {
		display, err := m.deps.Reconciler.Resolve(id)
		if err != nil {
			continue
		}
		b.WriteString(m.renderMessage(display))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg usecase.DisplayMessage) string {
	var b strings.Builder

	switch msg.Role {
	case domain.RoleUser:
		b.WriteString(userStyle.Render("You") + "\n")
	case domain.RoleContext:
		b.WriteString(citationStyle.Render("Context: "+msg.Content) + "\n")
		return b.String()
	default:
		label := "Assistant"
		if msg.Model != "" {
			label = msg.Model
		}
		b.WriteString(assistantStyle.Render(label) + "\n")
	}

	if msg.Reasoning != "" {
		b.WriteString(reasoningStyle.Render(msg.Reasoning) + "\n")
	}

	content := msg.Content
	if m.renderer != nil && !msg.Streaming {
		if rendered, err := m.renderer.Render(content); err == nil {
			content = rendered
		}
	}
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}

	for _, ev := range msg.ToolEvents {
		switch {
		case ev.Call != nil:
			b.WriteString(statusStyle.Render(fmt.Sprintf("  ~ %s(%s)", ev.Call.Name, ev.Call.Arguments)) + "\n")
		case ev.Result != nil:
			mark := "ok"
			if !ev.Result.OK {
				mark = "failed"
			}
			b.WriteString(statusStyle.Render(fmt.Sprintf("  ~ %s %s (%d results)", ev.Result.Name, mark, ev.Result.Count)) + "\n")
		}
	}

	for _, cit := range msg.Citations {
		b.WriteString(citationStyle.Render("  - "+cit.URL) + "\n")
	}

	if msg.Streaming && msg.TransientStatus != "" {
		b.WriteString(statusStyle.Render(m.spinner.View()+" "+msg.TransientStatus) + "\n")
	}
	if msg.Status == domain.StatusError && msg.ErrorText != "" {
		b.WriteString(errorStyle.Render(msg.ErrorText) + "\n")
	}
	return b.String()
}

func (m Model) contentHeight() int {
	h := m.height - m.composer.Height() - 2
	if h < 3 {
		h = 3
	}
	return h
}

// View renders the chat UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "  Initializing..."
	}

	header := m.headerLine()
	footer := m.statusLine
	if m.deps.Coordinator.IsStreaming() && footer == "" {
		footer = statusStyle.Render(m.spinner.View() + " streaming (Esc to stop)")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.composer.View(),
		footer,
	)
}

func (m Model) headerLine() string {
	title := m.deps.ModelName
	if m.privateMode {
		title += "  " + privateStyle.Render("[private]")
	}
	if m.conversationID != "" {
		if conv, err := m.deps.Store.GetConversation(m.conversationID); err == nil {
			title += "  " + conv.Title
		}
	}
	return lipgloss.NewStyle().Bold(true).Render(title)
}
