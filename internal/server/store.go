// Package server holds the in-memory message log owned by the hub. The log
// lives for the life of the process and is never persisted.
package server

import "github.com/samber/lo"

// messageLog is the ordered collection of chat messages, insertion order
// matching the arrival order of create operations. It is not safe for
// concurrent use; the hub goroutine is its single owner.
type messageLog struct {
	entries []Message
}

func newMessageLog() *messageLog {
	return &messageLog{entries: make([]Message, 0)}
}

// snapshot returns a copy of the current log contents. The result is never
// nil so history frames always carry a JSON array.
func (l *messageLog) snapshot() []Message {
	out := make([]Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// append adds a message to the end of the log. Ids are client-supplied and
// not checked for uniqueness; duplicates land as separate entries.
func (l *messageLog) append(m Message) {
	l.entries = append(l.entries, m)
}

// updateText replaces the text of the first entry with a matching id and
// returns the updated message. Under duplicate ids only the first entry is
// touched, matching the inherited first-match contract.
func (l *messageLog) updateText(id, text string) (Message, bool) {
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Text = text
			return l.entries[i], true
		}
	}
	return Message{}, false
}

// remove drops every entry with a matching id and reports whether any entry
// was removed.
func (l *messageLog) remove(id string) bool {
	before := len(l.entries)
	l.entries = lo.Filter(l.entries, func(m Message, _ int) bool {
		return m.ID != id
	})
	return len(l.entries) != before
}

func (l *messageLog) len() int {
	return len(l.entries)
}
