/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package console

import "sync"

// Entry is one recorded exchange. Entries are never changed once appended.
type Entry struct {
	Request  string
	Response string
}

// History keeps the ordered exchanges of every endpoint, oldest first, along
// with one cursor per endpoint. A cursor exists only once its endpoint has at
// least one entry, and always points inside the endpoint's log.
type History struct {
	mu      sync.Mutex
	logs    map[string][]Entry
	cursors map[string]int
}

func NewHistory() *History {
	return &History{
		logs:    make(map[string][]Entry),
		cursors: make(map[string]int),
	}
}

// Append records an exchange unless the newest entry for key has the same
// request text. Either way the cursor ends on the last entry. It reports
// whether a new entry was added.
func (h *History) Append(key string, e Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.logs[key]

	appended := false
	if n := len(log); n == 0 || log[n-1].Request != e.Request {
		h.logs[key] = append(log, e)
		appended = true
	}

	h.cursors[key] = len(h.logs[key]) - 1

	return appended
}

func (h *History) Len(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.logs[key])
}

// Entries returns a copy of the log for key.
func (h *History) Entries(key string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]Entry(nil), h.logs[key]...)
}

// Cursor returns the cursor index for key; ok is false when key has no
// history yet.
func (h *History) Cursor(key string) (index int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	index, ok = h.cursors[key]
	return index, ok
}

// Current returns the entry under the cursor.
func (h *History) Current(key string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx, ok := h.cursors[key]
	if !ok {
		return Entry{}, false
	}

	return h.logs[key][idx], true
}

// Latest moves the cursor to the last entry and returns it.
func (h *History) Latest(key string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.logs[key]
	if len(log) == 0 {
		return Entry{}, false
	}

	h.cursors[key] = len(log) - 1

	return log[len(log)-1], true
}

// StepBack moves the cursor one entry towards the oldest. It reports false,
// and leaves everything alone, when the cursor cannot move.
func (h *History) StepBack(key string) (Entry, bool) {
	return h.step(key, -1)
}

// StepForward moves the cursor one entry towards the newest.
func (h *History) StepForward(key string) (Entry, bool) {
	return h.step(key, 1)
}

func (h *History) step(key string, delta int) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := h.logs[key]
	cur, ok := h.cursors[key]
	if !ok || len(log) == 0 {
		return Entry{}, false
	}

	idx := max(0, min(len(log)-1, cur+delta))
	if idx == cur {
		return log[cur], false
	}

	h.cursors[key] = idx

	return log[idx], true
}
