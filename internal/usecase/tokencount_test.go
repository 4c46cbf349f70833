package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func TestTokenCounterCount(t *testing.T) {
	c := NewTokenCounter()

	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("hello world, this is a sentence"), 0)
	assert.Greater(t, c.Count(strings.Repeat("word ", 100)), c.Count("word"))
}

func TestTokenCounterTrimNoOpWhenFits(t *testing.T) {
	c := NewTokenCounter()
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}

	got := c.Trim(history, 100000)
	assert.Equal(t, history, got)
}

func TestTokenCounterTrimDropsOldestFirst(t *testing.T) {
	c := NewTokenCounter()

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	history := []domain.Message{
		{Role: domain.RoleUser, Content: long},
		{Role: domain.RoleAssistant, Content: long},
		{Role: domain.RoleUser, Content: "latest question"},
	}

	budget := c.CountMessage(history[2]) + c.CountMessage(history[1]) + 1
	got := c.Trim(history, budget)

	require.Len(t, got, 2)
	assert.Equal(t, long, got[0].Content)
	assert.Equal(t, "latest question", got[1].Content)
}

func TestTokenCounterTrimPreservesSystemPrompt(t *testing.T) {
	c := NewTokenCounter()

	long := strings.Repeat("filler content for the context window ", 80)
	history := []domain.Message{
		{Role: domain.RoleSystem, Content: "you are a helpful assistant"},
		{Role: domain.RoleUser, Content: long},
		{Role: domain.RoleAssistant, Content: long},
		{Role: domain.RoleUser, Content: "newest"},
	}

	budget := c.CountMessage(history[0]) + c.CountMessage(history[3]) + 1
	got := c.Trim(history, budget)

	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, domain.RoleSystem, got[0].Role)
	assert.Equal(t, "newest", got[len(got)-1].Content)
}

func TestTokenCounterTrimKeepsNewestEvenIfOversized(t *testing.T) {
	c := NewTokenCounter()

	huge := strings.Repeat("oversized message body ", 200)
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "old"},
		{Role: domain.RoleUser, Content: huge},
	}

	got := c.Trim(history, 10)
	require.Len(t, got, 1)
	assert.Equal(t, huge, got[0].Content)
}
