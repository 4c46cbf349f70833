package llm

import "strings"

// Inline reasoning markup recognized in text-only streams. Some models emit
// their chain of thought wrapped in these tags when the API has no separate
// reasoning channel.
var thinkingOpenTags = []string{"<thinking>", "<think>"}

// thinkingExtractor splits inline <thinking>...</thinking> markup out of a
// text stream, tolerating tags that arrive split across chunk boundaries.
// It is stateful and must be fed chunks in order.
type thinkingExtractor struct {
	openTag string // non-empty while inside a thinking block
	carry   string // held-back tail that may be a partial marker
}

// Feed consumes the next chunk and returns the plain text and reasoning text
// it can safely release. Text that might be the start of a split marker is
// held until the next chunk resolves it.
func (x *thinkingExtractor) Feed(chunk string) (text, reasoning string) {
	s := x.carry + chunk
	x.carry = ""

	for s != "" {
		if x.openTag == "" {
			tag, idx := findEarliestTag(s, thinkingOpenTags)
			if idx >= 0 {
				text += s[:idx]
				s = s[idx+len(tag):]
				x.openTag = tag
				continue
			}
			keep := partialMarkerSuffix(s, thinkingOpenTags)
			text += s[:len(s)-keep]
			x.carry = s[len(s)-keep:]
			return text, reasoning
		}

		closeTag := "</" + x.openTag[1:]
		if idx := strings.Index(s, closeTag); idx >= 0 {
			reasoning += s[:idx]
			s = s[idx+len(closeTag):]
			x.openTag = ""
			continue
		}
		keep := partialMarkerSuffix(s, []string{closeTag})
		reasoning += s[:len(s)-keep]
		x.carry = s[len(s)-keep:]
		return text, reasoning
	}

	return text, reasoning
}

// Flush releases any held-back tail at end of stream. An unterminated
// thinking block flushes as reasoning.
func (x *thinkingExtractor) Flush() (text, reasoning string) {
	held := x.carry
	x.carry = ""
	if held == "" {
		return "", ""
	}
	if x.openTag != "" {
		return "", held
	}
	return held, ""
}

// findEarliestTag returns the tag with the lowest index in s, or ("", -1).
func findEarliestTag(s string, tags []string) (string, int) {
	best, bestIdx := "", -1
	for _, tag := range tags {
		if idx := strings.Index(s, tag); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = tag, idx
		}
	}
	return best, bestIdx
}

// partialMarkerSuffix returns the length of the longest suffix of s that is
// a proper prefix of any marker. That suffix cannot be released yet: the
// next chunk may complete the marker.
func partialMarkerSuffix(s string, markers []string) int {
	maxKeep := 0
	for _, m := range markers {
		limit := len(m) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for n := limit; n > maxKeep; n-- {
			if strings.HasPrefix(m, s[len(s)-n:]) {
				maxKeep = n
				break
			}
		}
	}
	return maxKeep
}
