package usecase

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func TestOverlayAppendConcatenatesInOrder(t *testing.T) {
	o := NewOverlay()

	var want string
	for i := 0; i < 50; i++ {
		delta := fmt.Sprintf("chunk-%d ", i)
		o.Append("m1", delta)
		want += delta

		entry, ok := o.Get("m1")
		require.True(t, ok)
		assert.Equal(t, want, entry.Content)
	}
}

func TestOverlayReasoningIndependentOfContent(t *testing.T) {
	o := NewOverlay()

	o.Append("m1", "answer")
	o.AppendReasoning("m1", "because")
	o.AppendReasoning("m1", " reasons")

	entry, ok := o.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "answer", entry.Content)
	assert.Equal(t, "because reasons", entry.Reasoning)
}

func TestOverlayStatusReplacedWholesale(t *testing.T) {
	o := NewOverlay()

	o.SetStatus("m1", "thinking")
	o.SetStatus("m1", "searching")

	entry, _ := o.Get("m1")
	assert.Equal(t, "searching", entry.Status)
}

func TestOverlayToolEventsKeepObservationOrder(t *testing.T) {
	o := NewOverlay()

	o.PushToolEvent("m1", OverlayToolEvent{Call: &domain.ToolCall{Name: "web_search"}})
	o.PushToolEvent("m1", OverlayToolEvent{Result: &domain.ToolResultEvent{Name: "web_search", OK: true, Count: 3}})
	o.PushToolEvent("m1", OverlayToolEvent{Call: &domain.ToolCall{Name: "web_search"}})

	entry, _ := o.Get("m1")
	require.Len(t, entry.ToolEvents, 3)
	assert.NotNil(t, entry.ToolEvents[0].Call)
	assert.NotNil(t, entry.ToolEvents[1].Result)
	assert.NotNil(t, entry.ToolEvents[2].Call)
}

func TestOverlayClearAllIsAtomic(t *testing.T) {
	o := NewOverlay()

	o.Append("m1", "text")
	o.AppendReasoning("m1", "thought")
	o.SetStatus("m1", "streaming")
	o.PushToolEvent("m1", OverlayToolEvent{Call: &domain.ToolCall{Name: "web_search"}})
	o.SetCitations("m1", []domain.Citation{{URL: "https://example.com"}})

	o.ClearAll("m1")

	entry, ok := o.Get("m1")
	assert.False(t, ok, "all five channels must be absent after ClearAll")
	assert.False(t, entry.HasContent)
	assert.False(t, entry.HasReasoning)
	assert.False(t, entry.HasStatus)
	assert.Nil(t, entry.ToolEvents)
	assert.False(t, entry.HasCitations)
}

func TestOverlayClearAbsentKeyIsNoOp(t *testing.T) {
	o := NewOverlay()
	o.Append("other", "kept")

	var notified []string
	o.Subscribe(func(id string) { notified = append(notified, id) })

	o.ClearAll("missing")
	o.ClearContent("missing")
	o.ClearReasoning("missing")
	o.ClearStatus("missing")
	o.ClearToolEvents("missing")
	o.ClearCitations("missing")

	entry, ok := o.Get("other")
	require.True(t, ok)
	assert.Equal(t, "kept", entry.Content)
	assert.Empty(t, notified, "no-op clears must not notify")
}

func TestOverlayUpdateAppliesMultiFieldPatchOnce(t *testing.T) {
	o := NewOverlay()

	var notifications int
	o.Subscribe(func(string) { notifications++ })

	status := "searching"
	o.Update("m1", OverlayPatch{
		AppendContent: "partial",
		SetStatus:     &status,
		SetCitations:  []domain.Citation{{URL: "https://a.example"}},
	})

	assert.Equal(t, 1, notifications, "one patch, one notification")
	entry, _ := o.Get("m1")
	assert.Equal(t, "partial", entry.Content)
	assert.Equal(t, "searching", entry.Status)
	require.Len(t, entry.Citations, 1)
}

func TestOverlaySubscribeAndUnsubscribe(t *testing.T) {
	o := NewOverlay()

	var got []string
	unsub := o.Subscribe(func(id string) { got = append(got, id) })

	o.Append("m1", "a")
	unsub()
	o.Append("m1", "b")

	assert.Equal(t, []string{"m1"}, got)
}

func TestOverlayConcurrentAppendReaders(t *testing.T) {
	o := NewOverlay()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			o.Append("m1", "x")
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				entry, _ := o.Get("m1")
				// Readers may see any prefix, never torn data.
				for _, c := range entry.Content {
					assert.Equal(t, 'x', c)
				}
			}
		}()
	}
	wg.Wait()

	entry, _ := o.Get("m1")
	assert.Len(t, entry.Content, 200)
}

func TestOverlayGetSnapshotIsolated(t *testing.T) {
	o := NewOverlay()
	o.PushToolEvent("m1", OverlayToolEvent{Call: &domain.ToolCall{Name: "a"}})

	entry, _ := o.Get("m1")
	entry.ToolEvents[0] = OverlayToolEvent{}

	fresh, _ := o.Get("m1")
	require.NotNil(t, fresh.ToolEvents[0].Call, "Get must return a copy")
}
