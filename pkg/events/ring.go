package events

import "sync"

const DefaultCapacity = 4096

// Ring is the bounded event log shared between the engine (sole writer)
// and any number of readers. Push never blocks and never fails: when the
// buffer is full the oldest event is overwritten. It is lossy telemetry,
// not a durable ledger — a reader that falls behind by more than the
// capacity observes a gap and resumes from the oldest retained event.
type Ring struct {
	mu     sync.Mutex
	buf    []Event
	next   uint64 // sequence number of the next event to be written
	notify chan struct{}
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		buf:    make([]Event, 0, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an event, evicting the oldest one if the ring is full.
func (r *Ring) Push(ev Event) {
	r.mu.Lock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, ev)
	} else {
		r.buf[r.next%uint64(cap(r.buf))] = ev
	}
	r.next++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// ReadFrom copies out every retained event with sequence >= seq, in
// production order, and returns the sequence to resume from. If seq has
// already been evicted the read restarts at the oldest retained event.
func (r *Ring) ReadFrom(seq uint64) ([]Event, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := uint64(0)
	if r.next > uint64(len(r.buf)) {
		oldest = r.next - uint64(len(r.buf))
	}
	if seq < oldest {
		seq = oldest
	}
	if seq >= r.next {
		return nil, r.next
	}

	out := make([]Event, 0, r.next-seq)
	for s := seq; s < r.next; s++ {
		out = append(out, r.buf[s%uint64(cap(r.buf))])
	}
	return out, r.next
}

// Next is the sequence number the next pushed event will get; it equals
// the total number of events ever pushed.
func (r *Ring) Next() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Notify returns a channel that receives a tick after pushes. It carries
// at most one pending tick; readers use it to avoid busy polling.
func (r *Ring) Notify() <-chan struct{} { return r.notify }
