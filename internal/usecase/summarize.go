package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/internal/domain"
)

const (
	summaryPrompt = "Summarize the conversation so far in at most three short sentences. " +
		"State the topic and any decisions or facts the next conversation needs. " +
		"Reply with the summary only."
	summaryMaxTokens = 256
	summaryTimeout   = 15 * time.Second
	// summaryInputBudget bounds how much history is sent to the summarizer.
	summaryInputBudget = 4000
)

// Summarizer produces a short continuity summary of a conversation, used
// when branching into a new conversation. Summaries are best-effort by
// contract: every failure path returns an empty summary, never an error.
type Summarizer struct {
	provider domain.LLMProvider
	model    string
	counter  *TokenCounter
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer backed by the given provider and model.
func NewSummarizer(provider domain.LLMProvider, model string, counter *TokenCounter, logger *slog.Logger) *Summarizer {
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &Summarizer{provider: provider, model: model, counter: counter, logger: logger}
}

// Summarize returns a short summary of messages, or "" if one could not be
// produced in time.
func (s *Summarizer) Summarize(ctx context.Context, messages []domain.Message) string {
	if s == nil || s.provider == nil || len(messages) == 0 {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	transcript := s.renderTranscript(messages)
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Model: s.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: summaryPrompt},
			{Role: domain.RoleUser, Content: transcript},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		s.logger.Warn("context summary failed, branching without one",
			"error", domain.TruncateErrorDetail(err),
		)
		return ""
	}
	return strings.TrimSpace(resp.Message.Content)
}

// renderTranscript flattens the history into a plain text transcript, trimmed
// to the summarizer's input budget.
func (s *Summarizer) renderTranscript(messages []domain.Message) string {
	trimmed := s.counter.Trim(messages, summaryInputBudget)

	var b strings.Builder
	for _, m := range trimmed {
		if m.Content == "" || m.Role == domain.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
