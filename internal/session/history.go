package session

import "time"

// historySize bounds the recent-event ring kept for diagnostics.
const historySize = 10

// HistoryEntry is one recorded session event.
type HistoryEntry struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// history is a fixed-size ring of the most recent entries.
type history struct {
	entries [historySize]HistoryEntry
	next    int
	full    bool
}

func (h *history) add(e HistoryEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % historySize
	if h.next == 0 {
		h.full = true
	}
}

// list returns the entries oldest first.
func (h *history) list() []HistoryEntry {
	if !h.full {
		return append([]HistoryEntry(nil), h.entries[:h.next]...)
	}
	out := make([]HistoryEntry, 0, historySize)
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}
