package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/infra/tracer"
	"parley/internal/usecase/eventbus"
)

// Session status values. A session moves
// starting -> streaming -> finalizing -> {completed | stopped | failed},
// then the coordinator returns to idle.
const (
	StatusIdle       = "idle"
	StatusStarting   = "starting"
	StatusStreaming  = "streaming"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusStopped    = "stopped"
	StatusFailed     = "failed"
)

// maxToolIterations bounds how many times a session re-opens the stream to
// feed tool results back to the model.
const maxToolIterations = 4

// ProviderSource resolves a streaming provider by name.
type ProviderSource interface {
	GetStreaming(name string) (domain.StreamingLLMProvider, error)
}

// StreamOpener opens a normalized event stream for a request. The adapter
// layer supplies one that handles the structured/text-only fallback.
type StreamOpener func(ctx context.Context, p domain.StreamingLLMProvider, req domain.ChatRequest) (<-chan domain.StreamEvent, error)

// StartParams carries everything a session needs. Messages is the normalized
// history including the just-submitted user message.
type StartParams struct {
	// ConversationID is empty in private/ephemeral mode.
	ConversationID string
	// MessageID is the assistant message id to stream into. Generated when
	// empty.
	MessageID string

	Provider string
	Model    string
	Messages []domain.Message

	Reasoning    *domain.ReasoningConfig
	UseWebSearch bool
	MaxTokens    int
	Temperature  float64
	// MaxContextTokens trims the history oldest-first before the session
	// starts. Zero disables trimming.
	MaxContextTokens int
}

// streamSession is the singleton record of the active stream.
type streamSession struct {
	id             string
	conversationID string
	ctx            context.Context
	cancel         context.CancelFunc

	// stopped is set by Stop before the token is revoked, so finalization
	// can tell a user stop from an upstream close.
	mu      sync.Mutex
	stopped bool
	status  string

	finalizeOnce sync.Once
	done         chan struct{}
}

func (s *streamSession) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *streamSession) getStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *streamSession) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *streamSession) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// CoordinatorDeps are the collaborators a Coordinator is wired with. Sink,
// Tools, Bus and Credentials may be nil; a nil Credentials skips the key
// check (local providers).
type CoordinatorDeps struct {
	Providers   ProviderSource
	OpenStream  StreamOpener
	Overlay     *Overlay
	Sink        domain.MessageSink
	Tools       domain.ToolExecutor
	Credentials domain.CredentialSource
	Bus         domain.EventBus
	Counter     *TokenCounter
	Logger      *slog.Logger

	// MaxToolIterations bounds stream re-opens within one session. Zero
	// means the default.
	MaxToolIterations int
}

// Coordinator enforces at most one active stream process-wide. It owns the
// session's cancellation token, drives the provider stream, and funnels every
// normalized event into the overlay as exactly one update.
type Coordinator struct {
	deps CoordinatorDeps

	// startMu serializes Start calls end to end, from stopping the
	// predecessor through installing the new session. Opening a stream is a
	// network round-trip; without this, two concurrent Starts can both pass
	// the Stop and leave an orphaned live session behind.
	startMu sync.Mutex

	mu      sync.Mutex
	session *streamSession
}

// NewCoordinator creates a coordinator. It is an injectable instance, not a
// package singleton, so tests can create isolated coordinators.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Counter == nil {
		deps.Counter = NewTokenCounter()
	}
	if deps.MaxToolIterations <= 0 {
		deps.MaxToolIterations = maxToolIterations
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Coordinator{deps: deps}
}

// IsStreaming reports whether a session is active.
func (c *Coordinator) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// CurrentSessionID returns the active session's id, or "" when idle. The
// session id equals the assistant message id it streams into.
func (c *Coordinator) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// Status returns the active session's status, or idle.
func (c *Coordinator) Status() string {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return StatusIdle
	}
	return s.getStatus()
}

// Stop revokes the active session's cancellation token. It returns as soon
// as the token is revoked; network teardown and finalization complete in the
// session's own goroutine, and any straggling events are dropped. Stopping
// when idle is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.markStopped()
	s.cancel()
}

// Start begins a new streaming session. Any active session is stopped first;
// that is the single-flight guarantee, not a best-effort check. Returns
// (false, err) when the session could not reach the streaming state, leaving
// no session behind.
func (c *Coordinator) Start(ctx context.Context, params StartParams) (bool, error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Stop()

	provider, err := c.deps.Providers.GetStreaming(params.Provider)
	if err != nil {
		return false, domain.WrapOp("Coordinator.Start", err)
	}
	if c.deps.Credentials != nil {
		if key := c.deps.Credentials.GetAPIKey(params.Provider, params.Model); key == "" {
			return false, domain.NewDomainError("Coordinator.Start", domain.ErrAuthInvalid,
				fmt.Sprintf("no API key for provider %q", params.Provider))
		}
	}

	if params.MessageID == "" {
		params.MessageID = newID()
	}
	if params.MaxContextTokens > 0 {
		params.Messages = c.deps.Counter.Trim(params.Messages, params.MaxContextTokens)
	}

	req := domain.ChatRequest{
		Model:       params.Model,
		Messages:    params.Messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stream:      true,
		Reasoning:   params.Reasoning,
	}
	if params.UseWebSearch && c.deps.Tools != nil {
		req.Tools = c.deps.Tools.Schemas()
	}

	// The session outlives the Start call; only explicit Stop or stream end
	// terminates it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &streamSession{
		id:             params.MessageID,
		conversationID: params.ConversationID,
		ctx:            sessionCtx,
		cancel:         cancel,
		status:         StatusStarting,
		done:           make(chan struct{}),
	}

	ch, err := c.deps.OpenStream(sessionCtx, provider, req)
	if err != nil {
		cancel()
		return false, domain.WrapOp("Coordinator.Start", err)
	}

	session.setStatus(StatusStreaming)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	eventbus.PublishJSON(sessionCtx, c.deps.Bus, domain.EventStreamStarted, session.id,
		domain.StreamStartedPayload{
			SessionID:      session.id,
			ConversationID: session.conversationID,
			Provider:       params.Provider,
			Model:          params.Model,
		})
	c.deps.Logger.Info("stream session started",
		"session_id", session.id,
		"provider", params.Provider,
		"model", params.Model,
	)

	go c.consume(session, provider, req, ch)
	return true, nil
}

// consume is the single goroutine applying one session's events to the
// overlay, strictly in emission order. It also runs the tool loop: when the
// model finishes by requesting tool calls, the calls are executed, their
// results pushed to the overlay and appended to the in-session history, and
// the stream re-opened.
func (c *Coordinator) consume(session *streamSession, provider domain.StreamingLLMProvider, req domain.ChatRequest, ch <-chan domain.StreamEvent) {
	defer close(session.done)

	ctx, span := tracer.StartSpan(session.ctx, "coordinator.session")
	span.SetAttributes(
		tracer.StringAttr("session.id", session.id),
		tracer.StringAttr("provider", provider.Name()),
	)
	defer span.End()

	var (
		finishReason string
		usage        *domain.Usage
		errKind      domain.StreamErrorKind
		toolCalls    []domain.ToolCall
		citations    []domain.Citation
	)

	for iteration := 0; ; iteration++ {
		finishReason, usage, errKind, toolCalls = c.drain(session, ch, &citations)

		if errKind != "" || len(toolCalls) == 0 || iteration >= c.deps.MaxToolIterations-1 {
			break
		}

		next, openErr := c.runToolLoop(ctx, session, provider, &req, toolCalls, &citations)
		if openErr != nil {
			if session.ctx.Err() != nil {
				errKind = domain.StreamErrCancelled
			} else {
				errKind = domain.ClassifyStreamError(openErr)
			}
			break
		}
		ch = next
	}

	if errKind == "" && session.ctx.Err() != nil {
		errKind = domain.StreamErrCancelled
	}

	c.finalize(session, finishReason, usage, errKind)
	if errKind != "" && errKind != domain.StreamErrCancelled {
		tracer.RecordError(span, fmt.Errorf("stream failed: %s", errKind))
	} else {
		tracer.SetOK(span)
	}
}

// drain applies events from ch to the overlay until the channel closes.
// Events arriving after the token is revoked are dropped, not applied.
func (c *Coordinator) drain(session *streamSession, ch <-chan domain.StreamEvent, citations *[]domain.Citation) (finishReason string, usage *domain.Usage, errKind domain.StreamErrorKind, toolCalls []domain.ToolCall) {
	for ev := range ch {
		if session.ctx.Err() != nil {
			continue
		}

		switch ev.Kind {
		case domain.StreamTextDelta:
			c.deps.Overlay.Update(session.id, OverlayPatch{AppendContent: ev.Text})
		case domain.StreamReasoningDelta:
			c.deps.Overlay.Update(session.id, OverlayPatch{AppendReasoning: ev.Text})
		case domain.StreamStatus:
			status := ev.Status
			c.deps.Overlay.Update(session.id, OverlayPatch{SetStatus: &status})
		case domain.StreamCitations:
			*citations = mergeCitations(*citations, ev.Citations)
			c.deps.Overlay.Update(session.id, OverlayPatch{SetCitations: append([]domain.Citation(nil), *citations...)})
		case domain.StreamToolCall:
			if ev.ToolCall != nil {
				toolCalls = append(toolCalls, *ev.ToolCall)
				c.deps.Overlay.Update(session.id, OverlayPatch{
					PushToolEvent: &OverlayToolEvent{Call: ev.ToolCall},
				})
			}
		case domain.StreamToolResult:
			if ev.ToolResult != nil {
				c.deps.Overlay.Update(session.id, OverlayPatch{
					PushToolEvent: &OverlayToolEvent{Result: ev.ToolResult},
				})
			}
		case domain.StreamFinish:
			finishReason = ev.FinishReason
			if ev.Usage != nil {
				usage = ev.Usage
			}
		case domain.StreamError:
			errKind = ev.ErrKind
			if errKind == "" {
				errKind = domain.ClassifyStreamError(ev.Err)
			}
		}
	}
	return finishReason, usage, errKind, toolCalls
}

// runToolLoop executes the requested tool calls, records their results in
// the overlay and the in-session history, and re-opens the stream.
func (c *Coordinator) runToolLoop(ctx context.Context, session *streamSession, provider domain.StreamingLLMProvider, req *domain.ChatRequest, calls []domain.ToolCall, citations *[]domain.Citation) (<-chan domain.StreamEvent, error) {
	if c.deps.Tools == nil {
		return nil, fmt.Errorf("tool call requested but no tools wired: %w", domain.ErrToolNotFound)
	}

	entry, _ := c.deps.Overlay.Get(session.id)
	assistant := domain.Message{
		ID:        session.id,
		Role:      domain.RoleAssistant,
		Content:   entry.Content,
		ToolCalls: calls,
	}
	req.Messages = append(req.Messages, assistant)

	for _, call := range calls {
		result := c.executeTool(session.ctx, call)

		count := len(result.Citations)
		c.deps.Overlay.Update(session.id, OverlayPatch{
			PushToolEvent: &OverlayToolEvent{Result: &domain.ToolResultEvent{
				Name:  call.Name,
				OK:    !result.IsError,
				Count: count,
			}},
		})
		if len(result.Citations) > 0 {
			*citations = mergeCitations(*citations, result.Citations)
			c.deps.Overlay.Update(session.id, OverlayPatch{SetCitations: append([]domain.Citation(nil), *citations...)})
		}

		req.Messages = append(req.Messages, domain.Message{
			Role:      domain.RoleTool,
			Content:   result.Content,
			ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
		})

		eventbus.PublishJSON(ctx, c.deps.Bus, domain.EventToolCallCompleted, session.id, result)
	}

	return c.deps.OpenStream(session.ctx, provider, *req)
}

func (c *Coordinator) executeTool(ctx context.Context, call domain.ToolCall) *domain.ToolResult {
	tool, err := c.deps.Tools.Get(call.Name)
	if err != nil {
		return &domain.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %q is not available", call.Name),
			IsError:    true,
		}
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return &domain.ToolResult{
			ToolCallID: call.ID,
			Content:    domain.TruncateErrorDetail(err),
			IsError:    true,
		}
	}
	result.ToolCallID = call.ID
	return result
}

// finalize moves the session to its terminal state. It persists the finished
// message exactly once, clears the overlay entry as its terminal action
// regardless of which branch led here, and releases the singleton slot.
func (c *Coordinator) finalize(session *streamSession, finishReason string, usage *domain.Usage, errKind domain.StreamErrorKind) {
	session.finalizeOnce.Do(func() {
		session.setStatus(StatusFinalizing)

		if session.wasStopped() {
			errKind = domain.StreamErrCancelled
		}

		entry, _ := c.deps.Overlay.Get(session.id)
		msg := domain.Message{
			ID:           session.id,
			Role:         domain.RoleAssistant,
			Content:      entry.Content,
			Reasoning:    entry.Reasoning,
			Citations:    entry.Citations,
			FinishReason: finishReason,
			Usage:        usage,
			Timestamp:    time.Now(),
		}

		terminal := StatusCompleted
		switch errKind {
		case "":
			msg.Status = domain.StatusDone
		case domain.StreamErrCancelled:
			// A user stop is not a failure; partial content is kept.
			terminal = StatusStopped
			msg.Status = domain.StatusDone
			if msg.FinishReason == "" {
				msg.FinishReason = "cancelled"
			}
		default:
			// Partial content is flushed rather than silently discarded.
			terminal = StatusFailed
			msg.Status = domain.StatusError
			msg.ErrorText = domain.UserMessage(errKind)
		}

		if c.deps.Sink != nil {
			if err := c.deps.Sink.AppendMessage(session.conversationID, msg); err != nil {
				c.deps.Logger.Error("failed to persist finished message",
					"session_id", session.id,
					"error", domain.TruncateErrorDetail(err),
				)
			}
		}

		c.deps.Overlay.ClearAll(session.id)
		session.setStatus(terminal)
		session.cancel()

		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()

		c.publishTerminal(session, terminal, finishReason, usage, errKind)
	})
}

func (c *Coordinator) publishTerminal(session *streamSession, terminal, finishReason string, usage *domain.Usage, errKind domain.StreamErrorKind) {
	ctx := context.Background()
	switch terminal {
	case StatusCompleted:
		eventbus.PublishJSON(ctx, c.deps.Bus, domain.EventStreamCompleted, session.id,
			domain.StreamCompletedPayload{SessionID: session.id, FinishReason: finishReason, Usage: usage})
		c.deps.Logger.Info("stream session completed",
			"session_id", session.id, "finish_reason", finishReason)
	case StatusStopped:
		eventbus.PublishJSON(ctx, c.deps.Bus, domain.EventStreamStopped, session.id,
			domain.StreamCompletedPayload{SessionID: session.id, FinishReason: "cancelled"})
		c.deps.Logger.Info("stream session stopped", "session_id", session.id)
	case StatusFailed:
		eventbus.PublishJSON(ctx, c.deps.Bus, domain.EventStreamError, session.id,
			domain.StreamErrorPayload{SessionID: session.id, Kind: errKind, Message: domain.UserMessage(errKind)})
		c.deps.Logger.Warn("stream session failed",
			"session_id", session.id, "kind", string(errKind))
	}
}

// Wait blocks until the given session id has fully finalized. Used by tests
// and graceful shutdown; callers holding no session id can use IsStreaming.
func (c *Coordinator) Wait(session string) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil || s.id != session {
		return
	}
	<-s.done
}

func mergeCitations(existing, incoming []domain.Citation) []domain.Citation {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.URL] = true
	}
	for _, c := range incoming {
		if !seen[c.URL] {
			existing = append(existing, c)
			seen[c.URL] = true
		}
	}
	return existing
}
