package chat

import (
	"sync"
	"time"
)

// DayGroup is one calendar day of the conversation, messages ascending.
type DayGroup struct {
	Date     time.Time
	Messages []Message
}

// GroupByDay partitions an already-sorted message sequence into contiguous
// same-calendar-day groups, ascending. It is a pure function of its input.
func GroupByDay(msgs []Message) []DayGroup {
	var groups []DayGroup
	for _, m := range msgs {
		y, mo, d := m.CreatedAt.Date()
		day := time.Date(y, mo, d, 0, 0, 0, 0, m.CreatedAt.Location())
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Messages: []Message{m}})
	}
	return groups
}

// Projection derives the render-ready view of a store: sorted, grouped by
// day. The result is memoized on the store version, so repeated reads
// between mutations are free.
type Projection struct {
	store *Store

	mu      sync.Mutex
	version uint64
	fresh   bool
	groups  []DayGroup
}

func NewProjection(store *Store) *Projection {
	return &Projection{store: store}
}

// Groups returns the day-grouped view, recomputing only when the store
// has changed since the last call.
func (p *Projection) Groups() []DayGroup {
	v := p.store.Version()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.fresh || v != p.version {
		p.groups = GroupByDay(p.store.Snapshot())
		p.version = v
		p.fresh = true
	}
	return p.groups
}
