// Package transcript merges incremental text deltas from the voice
// channel into discrete, ordered utterances for display.
package transcript

import (
	"sync"
	"time"
)

// Speaker identifies which side of the conversation produced an entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one utterance in the conversation. Entries are append-only
// except for the most recent assistant entry, which grows in place
// while deltas arrive and is frozen on completion.
type Entry struct {
	Text      string
	Speaker   Speaker
	Timestamp time.Time
}

// Aggregator accumulates transcript events in arrival order. At most
// one entry is open (still receiving deltas) at any time, and it is
// always the last element.
type Aggregator struct {
	mu      sync.Mutex
	entries []Entry
	open    bool // last entry is an assistant entry still receiving deltas
	now     func() time.Time
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{now: time.Now}
}

// AssistantDelta appends incremental assistant text. If the last entry
// is an open assistant entry the text extends it; otherwise a new open
// entry is started.
func (a *Aggregator) AssistantDelta(text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open && len(a.entries) > 0 {
		a.entries[len(a.entries)-1].Text += text
		return
	}

	a.entries = append(a.entries, Entry{
		Text:      text,
		Speaker:   SpeakerAssistant,
		Timestamp: a.now(),
	})
	a.open = true
}

// AssistantDone freezes the open assistant entry, if any. Further
// deltas start a new entry.
func (a *Aggregator) AssistantDone() {
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
}

// UserUtterance appends a finalized user entry. A user turn always
// discards any in-progress assistant accumulation: the already-emitted
// entry keeps its partial text but stops growing.
func (a *Aggregator) UserUtterance(text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.open = false
	a.entries = append(a.entries, Entry{
		Text:      text,
		Speaker:   SpeakerUser,
		Timestamp: a.now(),
	})
}

// Entries returns a snapshot of the transcript in arrival order.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset clears all entries and the accumulator, e.g. on session close.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = nil
	a.open = false
	a.mu.Unlock()
}
