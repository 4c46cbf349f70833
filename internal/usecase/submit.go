package usecase

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"parley/internal/domain"
	"parley/internal/usecase/eventbus"
)

// SubmissionRequest is the normalized shape every submission strategy
// consumes, regardless of dispatch pathway.
type SubmissionRequest struct {
	Content      string
	Attachments  []domain.Attachment
	UseWebSearch bool
	PersonaID    string
	Reasoning    *domain.ReasoningConfig
}

// SendFunc dispatches a request into the current conversation.
type SendFunc func(ctx context.Context, req SubmissionRequest) error

// BranchFunc dispatches a request into a freshly branched conversation.
type BranchFunc func(ctx context.Context, conversationID string, req SubmissionRequest) error

// Navigator is the routing collaborator. NavigateToPrivate carries the draft
// as navigation payload; nothing is persisted on that path.
type Navigator interface {
	NavigateToConversation(conversationID string, draft *SubmissionRequest)
	NavigateToPrivate(draft SubmissionRequest)
}

// SubmissionStrategy is one dispatch pathway for a send action.
type SubmissionStrategy interface {
	// Name identifies the strategy for logging and tests.
	Name() string
	CanSubmit(text string, attachments []domain.Attachment) bool
	Submit(ctx context.Context, req SubmissionRequest) error
}

// BranchingStrategy additionally supports spinning off a new conversation
// while the current one is preserved.
type BranchingStrategy interface {
	SubmissionStrategy
	// SubmitToNewConversation branches the source conversation, carrying a
	// best-effort context summary, and dispatches req into the new one.
	// Returns the new conversation id.
	SubmitToNewConversation(ctx context.Context, req SubmissionRequest) (string, error)
}

// SelectorInputs describe the submission context for one send action.
type SelectorInputs struct {
	// Send is the explicit send handler, nil when the composer has none.
	Send SendFunc
	// ConversationID is the current conversation, "" when none is open.
	ConversationID string
	// Branch dispatches into a branched conversation, nil when unsupported.
	Branch BranchFunc
	// PrivateMode marks the ephemeral, nothing-persisted mode.
	PrivateMode bool
}

// Selector picks exactly one strategy per send action:
//
//	send handler + conversation + branch handler -> branching direct send
//	send handler only                            -> direct send
//	no send handler, private mode                -> navigate to private session
//	no send handler, not private                 -> create conversation, navigate
//
// Unmatched combinations (a branch handler without a send handler, a
// conversation id in private mode) fall through to the nearest defined row
// rather than failing.
type Selector struct {
	store      domain.ConversationStore
	summarizer *Summarizer
	navigator  Navigator
	logger     *slog.Logger

	// Bus, when set, receives conversation.created events from the
	// conversation-creating strategies.
	Bus domain.EventBus
}

// NewSelector creates a strategy selector. summarizer may be nil; branching
// then carries no context summary.
func NewSelector(store domain.ConversationStore, summarizer *Summarizer, navigator Navigator, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{store: store, summarizer: summarizer, navigator: navigator, logger: logger}
}

// Select returns the strategy for the given inputs. It never fails; every
// input combination maps to a row.
func (s *Selector) Select(in SelectorInputs) SubmissionStrategy {
	switch {
	case in.Send != nil && in.ConversationID != "" && in.Branch != nil:
		return &branchingSendStrategy{selector: s, in: in}
	case in.Send != nil:
		return &directSendStrategy{send: in.Send}
	case in.PrivateMode:
		return &privateNavigateStrategy{navigator: s.navigator}
	default:
		return &newConversationStrategy{selector: s}
	}
}

// canSubmit is shared by all strategies: non-empty text or at least one
// attachment.
func canSubmit(text string, attachments []domain.Attachment) bool {
	return strings.TrimSpace(text) != "" || len(attachments) > 0
}

// maxTitleLen bounds conversation titles derived from the first message.
const maxTitleLen = 60

// deriveTitle builds a conversation title from the message content. The
// length cut lands on a rune boundary so multibyte content cannot produce an
// invalid UTF-8 title.
func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut]) + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

// branchingSendStrategy sends directly and can also spin off a new
// conversation seeded with a summary of the current one.
type branchingSendStrategy struct {
	selector *Selector
	in       SelectorInputs
}

func (st *branchingSendStrategy) Name() string { return "branching_send" }

func (st *branchingSendStrategy) CanSubmit(text string, attachments []domain.Attachment) bool {
	return canSubmit(text, attachments)
}

func (st *branchingSendStrategy) Submit(ctx context.Context, req SubmissionRequest) error {
	return st.in.Send(ctx, req)
}

// SubmitToNewConversation branches the current conversation. The context
// summary is best-effort: a summarizer failure must never block the branch.
func (st *branchingSendStrategy) SubmitToNewConversation(ctx context.Context, req SubmissionRequest) (string, error) {
	s := st.selector

	var summary, sourceMessageID string
	if messages, err := s.store.ListMessages(st.in.ConversationID); err == nil {
		if len(messages) > 0 {
			sourceMessageID = messages[len(messages)-1].ID
		}
		summary = s.summarizer.Summarize(ctx, messages)
	} else {
		s.logger.Warn("could not load source history for branch",
			"conversation_id", st.in.ConversationID,
			"error", domain.TruncateErrorDetail(err),
		)
	}

	conv, err := s.store.CreateConversationFrom(st.in.ConversationID, sourceMessageID, deriveTitle(req.Content), summary)
	if err != nil {
		return "", domain.WrapOp("SubmitToNewConversation", err)
	}
	eventbus.PublishJSON(ctx, s.Bus, domain.EventConversationCreated, "", conv)

	if err := st.in.Branch(ctx, conv.ID, req); err != nil {
		return conv.ID, domain.WrapOp("SubmitToNewConversation", err)
	}
	if s.navigator != nil {
		s.navigator.NavigateToConversation(conv.ID, nil)
	}
	return conv.ID, nil
}

// directSendStrategy appends to the existing conversation via the explicit
// send handler.
type directSendStrategy struct {
	send SendFunc
}

func (st *directSendStrategy) Name() string { return "direct_send" }

func (st *directSendStrategy) CanSubmit(text string, attachments []domain.Attachment) bool {
	return canSubmit(text, attachments)
}

func (st *directSendStrategy) Submit(ctx context.Context, req SubmissionRequest) error {
	return st.send(ctx, req)
}

// privateNavigateStrategy routes to the ephemeral session, carrying the
// draft as navigation payload.
type privateNavigateStrategy struct {
	navigator Navigator
}

func (st *privateNavigateStrategy) Name() string { return "private_navigate" }

func (st *privateNavigateStrategy) CanSubmit(text string, attachments []domain.Attachment) bool {
	return canSubmit(text, attachments)
}

func (st *privateNavigateStrategy) Submit(_ context.Context, req SubmissionRequest) error {
	if st.navigator != nil {
		st.navigator.NavigateToPrivate(req)
	}
	return nil
}

// newConversationStrategy creates a persisted conversation from this message
// and navigates to it.
type newConversationStrategy struct {
	selector *Selector
}

func (st *newConversationStrategy) Name() string { return "new_conversation" }

func (st *newConversationStrategy) CanSubmit(text string, attachments []domain.Attachment) bool {
	return canSubmit(text, attachments)
}

func (st *newConversationStrategy) Submit(ctx context.Context, req SubmissionRequest) error {
	s := st.selector
	conv, err := s.store.CreateConversation(deriveTitle(req.Content))
	if err != nil {
		return domain.WrapOp("Submit", err)
	}
	eventbus.PublishJSON(ctx, s.Bus, domain.EventConversationCreated, "", conv)
	if s.navigator != nil {
		s.navigator.NavigateToConversation(conv.ID, &req)
	}
	return nil
}
