// Package usecase implements the streaming orchestration core: the overlay
// store for in-flight display state, the streaming coordinator that owns the
// single active session, the reconciler that merges overlay and persisted
// state, and the submission strategies.
package usecase

import (
	"sync"

	"parley/internal/domain"
)

// OverlayToolEvent is one entry in a message's ordered tool event log. Either
// Call or Result is set, never both.
type OverlayToolEvent struct {
	Call   *domain.ToolCall
	Result *domain.ToolResultEvent
}

// OverlayEntry is a read-only snapshot of a message's in-flight display
// state. Zero-valued fields mean "absent" except for the Has* flags, which
// distinguish an empty value from a missing key.
type OverlayEntry struct {
	Content      string
	HasContent   bool
	Reasoning    string
	HasReasoning bool
	Status       string
	HasStatus    bool
	ToolEvents   []OverlayToolEvent
	Citations    []domain.Citation
	HasCitations bool
}

// OverlayPatch describes a multi-field mutation applied as one state
// transition. Nil pointer fields leave that channel untouched.
type OverlayPatch struct {
	// AppendContent and AppendReasoning accumulate; content and reasoning
	// only ever grow during a session.
	AppendContent   string
	AppendReasoning string
	// SetStatus replaces the status label wholesale.
	SetStatus *string
	// PushToolEvent appends to the ordered tool event log.
	PushToolEvent *OverlayToolEvent
	// SetCitations replaces the citation list wholesale.
	SetCitations []domain.Citation
}

// OverlaySubscriber is notified with the message id whose overlay changed.
// Subscribers re-resolve through the Reconciler rather than receiving a
// snapshot, so they can never observe a torn intermediate state.
type OverlaySubscriber func(messageID string)

// Overlay is the keyed, observable store of in-progress display state per
// message id. It holds five maps (content, reasoning, status, tool events,
// citations) behind one mutex so that multi-key mutations, clearAll in
// particular, are a single transition from any reader's perspective.
//
// There is one writer at a time (the active coordinator session) and many
// readers (render subscribers), but nothing here assumes that.
type Overlay struct {
	mu         sync.RWMutex
	content    map[string]string
	reasoning  map[string]string
	status     map[string]string
	toolEvents map[string][]OverlayToolEvent
	citations  map[string][]domain.Citation

	subMu  sync.RWMutex
	subs   map[uint64]OverlaySubscriber
	nextID uint64
}

// NewOverlay creates an empty overlay store.
func NewOverlay() *Overlay {
	return &Overlay{
		content:    make(map[string]string),
		reasoning:  make(map[string]string),
		status:     make(map[string]string),
		toolEvents: make(map[string][]OverlayToolEvent),
		citations:  make(map[string][]domain.Citation),
		subs:       make(map[uint64]OverlaySubscriber),
	}
}

// Update applies patch to the entry for messageID as one state transition and
// notifies subscribers once. An empty patch is a no-op and does not notify.
func (o *Overlay) Update(messageID string, patch OverlayPatch) {
	changed := false

	o.mu.Lock()
	if patch.AppendContent != "" {
		o.content[messageID] += patch.AppendContent
		changed = true
	}
	if patch.AppendReasoning != "" {
		o.reasoning[messageID] += patch.AppendReasoning
		changed = true
	}
	if patch.SetStatus != nil {
		o.status[messageID] = *patch.SetStatus
		changed = true
	}
	if patch.PushToolEvent != nil {
		o.toolEvents[messageID] = append(o.toolEvents[messageID], *patch.PushToolEvent)
		changed = true
	}
	if patch.SetCitations != nil {
		o.citations[messageID] = patch.SetCitations
		changed = true
	}
	o.mu.Unlock()

	if changed {
		o.notify(messageID)
	}
}

// Append appends a text delta to the accumulated content for messageID.
func (o *Overlay) Append(messageID, delta string) {
	o.Update(messageID, OverlayPatch{AppendContent: delta})
}

// AppendReasoning appends a delta to the accumulated reasoning for messageID.
func (o *Overlay) AppendReasoning(messageID, delta string) {
	o.Update(messageID, OverlayPatch{AppendReasoning: delta})
}

// SetStatus replaces the ephemeral status label for messageID.
func (o *Overlay) SetStatus(messageID, status string) {
	o.Update(messageID, OverlayPatch{SetStatus: &status})
}

// PushToolEvent appends a tool event to messageID's ordered log.
func (o *Overlay) PushToolEvent(messageID string, ev OverlayToolEvent) {
	o.Update(messageID, OverlayPatch{PushToolEvent: &ev})
}

// SetCitations replaces the citation list for messageID.
func (o *Overlay) SetCitations(messageID string, citations []domain.Citation) {
	if citations == nil {
		citations = []domain.Citation{}
	}
	o.Update(messageID, OverlayPatch{SetCitations: citations})
}

// Get returns a snapshot of messageID's overlay entry. ok is false when no
// channel holds data for the key.
func (o *Overlay) Get(messageID string) (entry OverlayEntry, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry.Content, entry.HasContent = o.content[messageID]
	entry.Reasoning, entry.HasReasoning = o.reasoning[messageID]
	entry.Status, entry.HasStatus = o.status[messageID]
	if events, present := o.toolEvents[messageID]; present {
		entry.ToolEvents = append([]OverlayToolEvent(nil), events...)
	}
	if cits, present := o.citations[messageID]; present {
		entry.Citations = append([]domain.Citation(nil), cits...)
		entry.HasCitations = true
	}
	ok = entry.HasContent || entry.HasReasoning || entry.HasStatus ||
		entry.ToolEvents != nil || entry.HasCitations
	return entry, ok
}

// ClearAll removes messageID from all five maps as one transition. Clearing
// an absent key is a no-op and does not notify.
func (o *Overlay) ClearAll(messageID string) {
	o.mu.Lock()
	_, c1 := o.content[messageID]
	_, c2 := o.reasoning[messageID]
	_, c3 := o.status[messageID]
	_, c4 := o.toolEvents[messageID]
	_, c5 := o.citations[messageID]
	delete(o.content, messageID)
	delete(o.reasoning, messageID)
	delete(o.status, messageID)
	delete(o.toolEvents, messageID)
	delete(o.citations, messageID)
	o.mu.Unlock()

	if c1 || c2 || c3 || c4 || c5 {
		o.notify(messageID)
	}
}

// ClearContent removes only the content channel. No-op on an absent key.
func (o *Overlay) ClearContent(messageID string) { o.clearOne(messageID, o.content) }

// ClearReasoning removes only the reasoning channel. No-op on an absent key.
func (o *Overlay) ClearReasoning(messageID string) { o.clearOne(messageID, o.reasoning) }

// ClearStatus removes only the status channel. No-op on an absent key.
func (o *Overlay) ClearStatus(messageID string) { o.clearOne(messageID, o.status) }

// ClearToolEvents removes only the tool event log. No-op on an absent key.
func (o *Overlay) ClearToolEvents(messageID string) {
	o.mu.Lock()
	_, present := o.toolEvents[messageID]
	delete(o.toolEvents, messageID)
	o.mu.Unlock()
	if present {
		o.notify(messageID)
	}
}

// ClearCitations removes only the citation list. No-op on an absent key.
func (o *Overlay) ClearCitations(messageID string) {
	o.mu.Lock()
	_, present := o.citations[messageID]
	delete(o.citations, messageID)
	o.mu.Unlock()
	if present {
		o.notify(messageID)
	}
}

func (o *Overlay) clearOne(messageID string, m map[string]string) {
	o.mu.Lock()
	_, present := m[messageID]
	delete(m, messageID)
	o.mu.Unlock()
	if present {
		o.notify(messageID)
	}
}

// Subscribe registers fn to be called with the message id on every overlay
// change. Returns an unsubscribe function.
func (o *Overlay) Subscribe(fn OverlaySubscriber) func() {
	o.subMu.Lock()
	o.nextID++
	id := o.nextID
	o.subs[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

func (o *Overlay) notify(messageID string) {
	o.subMu.RLock()
	subs := make([]OverlaySubscriber, 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.subMu.RUnlock()

	for _, fn := range subs {
		fn(messageID)
	}
}
