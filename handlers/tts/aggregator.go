package tts

import (
	"strings"
	"sync"
)

// textAggregator collects streamed LLM text until it ends on a break word and
// is long enough to be worth synthesizing on its own.
type textAggregator struct {
	mu         sync.Mutex
	buf        strings.Builder
	breakWords []string
	minLength  int
}

func newTextAggregator(breakWords []string, minLength int) *textAggregator {
	return &textAggregator{breakWords: breakWords, minLength: minLength}
}

// add appends chunk and returns the buffered text once it is ready to speak.
func (a *textAggregator) add(chunk string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.WriteString(chunk)
	text := a.buf.String()
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < a.minLength || !a.endsOnBreak(trimmed) {
		return "", false
	}
	a.buf.Reset()
	return text, true
}

// drain returns and clears whatever is buffered.
func (a *textAggregator) drain() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.buf.String()
	a.buf.Reset()
	return text
}

func (a *textAggregator) endsOnBreak(text string) bool {
	for _, w := range a.breakWords {
		if strings.HasSuffix(text, w) {
			return true
		}
	}
	return false
}
