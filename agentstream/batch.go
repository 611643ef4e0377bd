package agentstream

import "strings"

// Batch collects the events produced from one backend line. Consecutive
// text is coalesced into a single TextDelta that is flushed before the next
// non-text event.
type Batch struct {
	text   strings.Builder
	events []Event
}

// Text appends assistant text.
func (b *Batch) Text(s string) {
	b.text.WriteString(s)
}

// Add appends events after flushing any pending text.
func (b *Batch) Add(events ...Event) {
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if td, ok := ev.(TextDelta); ok {
			b.Text(td.Text)
			continue
		}
		b.flushText()
		b.events = append(b.events, ev)
	}
}

func (b *Batch) flushText() {
	if b.text.Len() == 0 {
		return
	}
	b.events = append(b.events, TextDelta{Text: b.text.String()})
	b.text.Reset()
}

// Events flushes pending text and returns the collected events, leaving
// the batch empty.
func (b *Batch) Events() []Event {
	b.flushText()
	events := b.events
	b.events = nil
	return events
}

// Len returns the number of events Events would return.
func (b *Batch) Len() int {
	n := len(b.events)
	if b.text.Len() > 0 {
		n++
	}
	return n
}
