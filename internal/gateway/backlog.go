package gateway

import (
	"sort"
	"sync"
)

// backlogEntry is one broadcast retained for reconnect backfill.
type backlogEntry struct {
	seq  int64
	data []byte // pre-built envelope JSON
}

// Backlog retains the most recent broadcast envelopes so a reconnecting
// client can backfill what it missed. The hub assigns strictly increasing
// sequence numbers, which keeps the slice sorted for free and makes After
// a binary search. Safe for concurrent use.
type Backlog struct {
	mu      sync.RWMutex
	entries []backlogEntry
	max     int
}

// NewBacklog retains up to max envelopes.
func NewBacklog(max int) *Backlog {
	if max <= 0 {
		max = 256
	}
	return &Backlog{entries: make([]backlogEntry, 0, max), max: max}
}

// Push retains one envelope, evicting the oldest beyond capacity. The
// bytes are copied; the broadcast path reuses its buffer.
func (b *Backlog) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.max {
		copy(b.entries, b.entries[1:])
		b.entries[len(b.entries)-1] = backlogEntry{seq: seq, data: cp}
		return
	}
	b.entries = append(b.entries, backlogEntry{seq: seq, data: cp})
}

// After returns the retained envelopes with seq > afterSeq, oldest first.
func (b *Backlog) After(afterSeq int64) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].seq > afterSeq
	})
	if i == len(b.entries) {
		return nil
	}
	out := make([][]byte, 0, len(b.entries)-i)
	for _, e := range b.entries[i:] {
		out = append(out, e.data)
	}
	return out
}

// Len reports how many envelopes are retained.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
