package events

import "sync"

// DefaultBacklog is the number of recent events retained for late subscribers.
const DefaultBacklog = 256

// Feed is an Emitter that retains a bounded backlog and fans events out to
// subscribers in emission order. Slow subscribers are dropped rather than
// allowed to block the emitting call.
type Feed struct {
	mu      sync.Mutex
	backlog []Event
	limit   int
	subs    map[int]chan Event
	nextSub int
}

// NewFeed constructs a feed retaining up to limit recent events. A
// non-positive limit falls back to DefaultBacklog.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = DefaultBacklog
	}
	return &Feed{
		limit: limit,
		subs:  make(map[int]chan Event),
	}
}

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlog = append(f.backlog, evt)
	if len(f.backlog) > f.limit {
		f.backlog = f.backlog[len(f.backlog)-f.limit:]
	}
	for id, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			close(ch)
			delete(f.subs, id)
		}
	}
}

// Subscribe registers a new consumer and returns the delivery channel, a copy
// of the retained backlog and a cancel function. Events emitted after the
// snapshot are delivered on the channel in order.
func (f *Feed) Subscribe(buffer int) (<-chan Event, []Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan Event, buffer)
	f.subs[id] = ch
	backlog := make([]Event, len(f.backlog))
	copy(backlog, f.backlog)
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			close(sub)
			delete(f.subs, id)
		}
	}
	return ch, backlog, cancel
}
