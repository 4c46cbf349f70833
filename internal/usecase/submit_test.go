package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

// memConversationStore is an in-memory ConversationStore for selector tests.
type memConversationStore struct {
	memSink
	conversations map[string]domain.Conversation
	byConv        map[string][]domain.Message
	listErr       error
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{
		memSink:       memSink{messages: make(map[string]domain.Message)},
		conversations: make(map[string]domain.Conversation),
		byConv:        make(map[string][]domain.Message),
	}
}

func (s *memConversationStore) CreateConversation(title string) (*domain.Conversation, error) {
	conv := domain.Conversation{ID: newID(), Title: title, CreatedAt: time.Now()}
	s.conversations[conv.ID] = conv
	return &conv, nil
}

func (s *memConversationStore) CreateConversationFrom(sourceConversationID, sourceMessageID, title, contextSummary string) (*domain.Conversation, error) {
	conv := domain.Conversation{
		ID:                   newID(),
		Title:                title,
		SourceConversationID: sourceConversationID,
		SourceMessageID:      sourceMessageID,
		CreatedAt:            time.Now(),
	}
	s.conversations[conv.ID] = conv
	if contextSummary != "" {
		s.byConv[conv.ID] = append(s.byConv[conv.ID], domain.Message{
			ID: newID(), Role: domain.RoleContext, Content: contextSummary,
		})
	}
	return &conv, nil
}

func (s *memConversationStore) GetConversation(id string) (*domain.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return &conv, nil
}

func (s *memConversationStore) ListConversations() ([]domain.Conversation, error) {
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (s *memConversationStore) DeleteConversation(id string) error {
	delete(s.conversations, id)
	return nil
}

func (s *memConversationStore) AppendMessage(conversationID string, msg domain.Message) error {
	s.byConv[conversationID] = append(s.byConv[conversationID], msg)
	return s.memSink.AppendMessage(conversationID, msg)
}

func (s *memConversationStore) ListMessages(conversationID string) ([]domain.Message, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.byConv[conversationID], nil
}

// recordingNavigator captures navigation calls.
type recordingNavigator struct {
	conversationID string
	draft          *SubmissionRequest
	privateDraft   *SubmissionRequest
}

func (n *recordingNavigator) NavigateToConversation(id string, draft *SubmissionRequest) {
	n.conversationID = id
	n.draft = draft
}

func (n *recordingNavigator) NavigateToPrivate(draft SubmissionRequest) {
	n.privateDraft = &draft
}

// failingSummarizerProvider always errors, exercising the best-effort path.
type failingSummarizerProvider struct{}

func (failingSummarizerProvider) Name() string { return "failing" }
func (failingSummarizerProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("summarizer exploded")
}

// cannedSummarizerProvider returns a fixed summary.
type cannedSummarizerProvider struct{}

func (cannedSummarizerProvider) Name() string { return "canned" }
func (cannedSummarizerProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Message: domain.Message{
		Role: domain.RoleAssistant, Content: "They discussed Go generics.",
	}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSelector(store domain.ConversationStore, provider domain.LLMProvider, nav Navigator) *Selector {
	var summarizer *Summarizer
	if provider != nil {
		summarizer = NewSummarizer(provider, "summary-model", nil, discardLogger())
	}
	return NewSelector(store, summarizer, nav, discardLogger())
}

func TestSelectorTable(t *testing.T) {
	send := SendFunc(func(context.Context, SubmissionRequest) error { return nil })
	branch := BranchFunc(func(context.Context, string, SubmissionRequest) error { return nil })
	sel := newTestSelector(newMemConversationStore(), nil, &recordingNavigator{})

	cases := []struct {
		name string
		in   SelectorInputs
		want string
	}{
		{"send+conv+branch", SelectorInputs{Send: send, ConversationID: "c1", Branch: branch}, "branching_send"},
		{"send only", SelectorInputs{Send: send}, "direct_send"},
		{"no send, private", SelectorInputs{PrivateMode: true}, "private_navigate"},
		{"no send, not private", SelectorInputs{}, "new_conversation"},
		// Unmatched combinations fall back to the nearest defined row.
		{"branch without send", SelectorInputs{ConversationID: "c1", Branch: branch}, "new_conversation"},
		{"send+branch without conv", SelectorInputs{Send: send, Branch: branch}, "direct_send"},
		{"send in private mode", SelectorInputs{Send: send, PrivateMode: true}, "direct_send"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sel.Select(tc.in).Name())
		})
	}
}

func TestCanSubmit(t *testing.T) {
	sel := newTestSelector(newMemConversationStore(), nil, nil)
	st := sel.Select(SelectorInputs{})

	assert.False(t, st.CanSubmit("", nil))
	assert.False(t, st.CanSubmit("   \n\t", nil))
	assert.True(t, st.CanSubmit("hello", nil))
	assert.True(t, st.CanSubmit("", []domain.Attachment{{ID: "a1"}}))
}

func TestDirectSendStrategy(t *testing.T) {
	var got *SubmissionRequest
	send := SendFunc(func(_ context.Context, req SubmissionRequest) error {
		got = &req
		return nil
	})
	sel := newTestSelector(newMemConversationStore(), nil, nil)

	st := sel.Select(SelectorInputs{Send: send})
	err := st.Submit(context.Background(), SubmissionRequest{Content: "hi there"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hi there", got.Content)
}

func TestPrivateNavigateCarriesDraft(t *testing.T) {
	nav := &recordingNavigator{}
	sel := newTestSelector(newMemConversationStore(), nil, nav)

	st := sel.Select(SelectorInputs{PrivateMode: true})
	err := st.Submit(context.Background(), SubmissionRequest{Content: "secret question"})
	require.NoError(t, err)
	require.NotNil(t, nav.privateDraft)
	assert.Equal(t, "secret question", nav.privateDraft.Content)
}

func TestNewConversationStrategyCreatesAndNavigates(t *testing.T) {
	store := newMemConversationStore()
	nav := &recordingNavigator{}
	sel := newTestSelector(store, nil, nav)

	st := sel.Select(SelectorInputs{})
	err := st.Submit(context.Background(), SubmissionRequest{Content: "How do goroutines work?\nsecond line"})
	require.NoError(t, err)

	require.NotEmpty(t, nav.conversationID)
	conv, err := store.GetConversation(nav.conversationID)
	require.NoError(t, err)
	assert.Equal(t, "How do goroutines work?", conv.Title)
	require.NotNil(t, nav.draft, "draft travels with the navigation")
}

func TestBranchingSubmitToNewConversation(t *testing.T) {
	store := newMemConversationStore()
	store.AppendMessage("c1", domain.Message{ID: "u1", Role: domain.RoleUser, Content: "what are generics?"})
	store.AppendMessage("c1", domain.Message{ID: "a1", Role: domain.RoleAssistant, Content: "type parameters"})

	nav := &recordingNavigator{}
	sel := newTestSelector(store, cannedSummarizerProvider{}, nav)

	var branched string
	branch := BranchFunc(func(_ context.Context, conversationID string, _ SubmissionRequest) error {
		branched = conversationID
		return nil
	})

	st := sel.Select(SelectorInputs{
		Send:           func(context.Context, SubmissionRequest) error { return nil },
		ConversationID: "c1",
		Branch:         branch,
	})
	branching, ok := st.(BranchingStrategy)
	require.True(t, ok)

	convID, err := branching.SubmitToNewConversation(context.Background(), SubmissionRequest{Content: "tell me more"})
	require.NoError(t, err)
	require.NotEmpty(t, convID)
	assert.Equal(t, convID, branched)
	assert.Equal(t, convID, nav.conversationID)

	conv, err := store.GetConversation(convID)
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.SourceConversationID)
	assert.Equal(t, "a1", conv.SourceMessageID)

	// The carried summary is stored as a context-role message.
	msgs, err := store.ListMessages(convID)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.RoleContext, msgs[0].Role)
	assert.Equal(t, "They discussed Go generics.", msgs[0].Content)
}

func TestBranchingSurvivesSummarizerFailure(t *testing.T) {
	store := newMemConversationStore()
	store.AppendMessage("c1", domain.Message{ID: "u1", Role: domain.RoleUser, Content: "hello"})

	sel := newTestSelector(store, failingSummarizerProvider{}, &recordingNavigator{})

	st := sel.Select(SelectorInputs{
		Send:           func(context.Context, SubmissionRequest) error { return nil },
		ConversationID: "c1",
		Branch:         func(context.Context, string, SubmissionRequest) error { return nil },
	})
	branching := st.(BranchingStrategy)

	convID, err := branching.SubmitToNewConversation(context.Background(), SubmissionRequest{Content: "branch me"})
	require.NoError(t, err, "a summarizer failure must not block the branch")
	assert.NotEmpty(t, convID)
}

func TestBranchingSurvivesHistoryLoadFailure(t *testing.T) {
	store := newMemConversationStore()
	store.listErr = errors.New("disk on fire")

	sel := newTestSelector(store, cannedSummarizerProvider{}, nil)
	st := sel.Select(SelectorInputs{
		Send:           func(context.Context, SubmissionRequest) error { return nil },
		ConversationID: "c1",
		Branch:         func(context.Context, string, SubmissionRequest) error { return nil },
	})
	branching := st.(BranchingStrategy)

	convID, err := branching.SubmitToNewConversation(context.Background(), SubmissionRequest{Content: "branch"})
	require.NoError(t, err)
	assert.NotEmpty(t, convID)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "New conversation", deriveTitle("   "))
	assert.Equal(t, "short", deriveTitle("short"))
	long := "this is a very long first line that should definitely be truncated somewhere sensible"
	title := deriveTitle(long)
	assert.LessOrEqual(t, len([]rune(title)), maxTitleLen+1)

	assert.Equal(t, "first line", deriveTitle("first line\nsecond line"))
}

func TestDeriveTitleKeepsValidUTF8(t *testing.T) {
	// A multibyte rune straddling the length cap must not be split.
	title := deriveTitle(strings.Repeat("x", maxTitleLen-1) + "会話のタイトル")
	assert.True(t, utf8.ValidString(title), "title is invalid UTF-8: %q", title)
}
