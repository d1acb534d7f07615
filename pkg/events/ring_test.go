package events

import (
	"testing"

	"github.com/google/uuid"
)

func push(r *Ring, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		r.Push(Event{Type: OrderPlaced, OrderID: ids[i]})
	}
	return ids
}

func TestRingReadInProductionOrder(t *testing.T) {
	r := NewRing(8)
	ids := push(r, 5)

	got, next := r.ReadFrom(0)
	if len(got) != 5 || next != 5 {
		t.Fatalf("ReadFrom(0) = %d events, next %d; want 5, 5", len(got), next)
	}
	for i, ev := range got {
		if ev.OrderID != ids[i] {
			t.Errorf("event %d = %s, want %s", i, ev.OrderID, ids[i])
		}
	}

	// Resuming from next yields nothing until a new push.
	got, next = r.ReadFrom(next)
	if len(got) != 0 || next != 5 {
		t.Fatalf("ReadFrom(5) = %d events, next %d; want 0, 5", len(got), next)
	}
	more := push(r, 1)
	got, _ = r.ReadFrom(next)
	if len(got) != 1 || got[0].OrderID != more[0] {
		t.Fatalf("incremental read = %+v, want the single new event", got)
	}
}

func TestRingOverflowEvictsOldest(t *testing.T) {
	r := NewRing(4)
	ids := push(r, 10)

	got, next := r.ReadFrom(0)
	if next != 10 {
		t.Fatalf("next = %d, want 10", next)
	}
	if len(got) != 4 {
		t.Fatalf("retained = %d, want capacity 4", len(got))
	}
	// Oldest retained is sequence 6.
	for i, ev := range got {
		if ev.OrderID != ids[6+i] {
			t.Errorf("retained %d = %s, want %s", i, ev.OrderID, ids[6+i])
		}
	}
}

func TestRingNotify(t *testing.T) {
	r := NewRing(4)
	select {
	case <-r.Notify():
		t.Fatal("notify fired before any push")
	default:
	}

	push(r, 3)
	select {
	case <-r.Notify():
	default:
		t.Fatal("notify did not fire after push")
	}
	// Coalesced: at most one pending tick.
	select {
	case <-r.Notify():
		t.Fatal("notify held more than one pending tick")
	default:
	}
}

func TestRingConcurrentReaders(t *testing.T) {
	r := NewRing(64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		push(r, 500)
	}()

	// Readers tail the ring while the writer is pushing; sequences must
	// be monotonic and reads gap-free within the retained window.
	seq := uint64(0)
	seen := 0
	for {
		evs, next := r.ReadFrom(seq)
		if next < seq {
			t.Fatalf("next went backwards: %d -> %d", seq, next)
		}
		seen += len(evs)
		seq = next
		select {
		case <-done:
			if seq == r.Next() {
				if seen == 0 {
					t.Fatal("reader saw no events")
				}
				return
			}
		default:
		}
	}
}
