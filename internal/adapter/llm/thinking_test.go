package llm

import "testing"

// feedAll drives the extractor with a chunk sequence and returns the
// concatenated text and reasoning, including the final flush.
func feedAll(chunks []string) (string, string) {
	var x thinkingExtractor
	var text, reasoning string
	for _, c := range chunks {
		t, r := x.Feed(c)
		text += t
		reasoning += r
	}
	t, r := x.Flush()
	return text + t, reasoning + r
}

func TestThinkingExtractorSingleChunk(t *testing.T) {
	text, reasoning := feedAll([]string{"<thinking>plan the answer</thinking>Here it is."})
	if reasoning != "plan the answer" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if text != "Here it is." {
		t.Errorf("text = %q", text)
	}
}

func TestThinkingExtractorSplitTags(t *testing.T) {
	text, reasoning := feedAll([]string{"<thi", "nking>deep ", "thought</thin", "king>an", "swer"})
	if reasoning != "deep thought" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if text != "answer" {
		t.Errorf("text = %q", text)
	}
}

func TestThinkingExtractorShortTagVariant(t *testing.T) {
	text, reasoning := feedAll([]string{"<think>hm</think>ok"})
	if reasoning != "hm" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
}

func TestThinkingExtractorNoMarkup(t *testing.T) {
	text, reasoning := feedAll([]string{"plain ", "response"})
	if reasoning != "" {
		t.Errorf("reasoning = %q, want empty", reasoning)
	}
	if text != "plain response" {
		t.Errorf("text = %q", text)
	}
}

func TestThinkingExtractorUnterminatedBlock(t *testing.T) {
	text, reasoning := feedAll([]string{"<thinking>never closed"})
	if reasoning != "never closed" {
		t.Errorf("reasoning = %q", reasoning)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestThinkingExtractorAngleBracketInText(t *testing.T) {
	// A lone "<" that never becomes a marker must still be released.
	text, reasoning := feedAll([]string{"a < b and a ", "<", " c"})
	if text != "a < b and a < c" {
		t.Errorf("text = %q", text)
	}
	if reasoning != "" {
		t.Errorf("reasoning = %q, want empty", reasoning)
	}
}

func TestThinkingExtractorTextBeforeBlock(t *testing.T) {
	text, reasoning := feedAll([]string{"pre <thinking>mid</thinking> post"})
	if text != "pre  post" {
		t.Errorf("text = %q", text)
	}
	if reasoning != "mid" {
		t.Errorf("reasoning = %q", reasoning)
	}
}
