package usecase

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"parley/internal/domain"
)

// tokenEncoding is used for estimation across all providers. Exact per-model
// tokenizers differ, but cl100k_base is close enough for a trim heuristic.
const tokenEncoding = "cl100k_base"

// perMessageOverhead approximates the framing tokens each chat turn costs.
const perMessageOverhead = 4

// TokenCounter estimates token usage for message histories and trims them to
// fit a context window before a session starts.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a token counter. The encoding is loaded lazily on
// first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count estimates the token count of a single string. Falls back to a
// bytes/4 heuristic if the encoding failed to load.
func (c *TokenCounter) Count(text string) int {
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountMessage estimates the token cost of one message including framing.
func (c *TokenCounter) CountMessage(msg domain.Message) int {
	n := perMessageOverhead + c.Count(msg.Content)
	if msg.Reasoning != "" {
		n += c.Count(msg.Reasoning)
	}
	return n
}

// CountHistory estimates the total token cost of a history.
func (c *TokenCounter) CountHistory(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountMessage(m)
	}
	return total
}

// Trim drops the oldest messages until the history fits within maxTokens.
// A leading system prompt is always preserved, as is the newest message.
// The input slice is not modified.
func (c *TokenCounter) Trim(messages []domain.Message, maxTokens int) []domain.Message {
	if maxTokens <= 0 || len(messages) == 0 {
		return messages
	}
	if c.CountHistory(messages) <= maxTokens {
		return messages
	}

	var system []domain.Message
	rest := messages
	if messages[0].Role == domain.RoleSystem {
		system = messages[:1]
		rest = messages[1:]
	}

	budget := maxTokens
	for _, m := range system {
		budget -= c.CountMessage(m)
	}

	// Walk backwards from the newest message, keeping as many recent turns
	// as fit. The newest message is kept even if it alone exceeds budget.
	keepFrom := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := c.CountMessage(rest[i])
		if used+cost > budget && keepFrom < len(rest) {
			break
		}
		used += cost
		keepFrom = i
	}

	trimmed := make([]domain.Message, 0, len(system)+len(rest)-keepFrom)
	trimmed = append(trimmed, system...)
	trimmed = append(trimmed, rest[keepFrom:]...)
	return trimmed
}
