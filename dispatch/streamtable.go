package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

type entryKind int

const (
	entryOpen entryKind = iota
	entryLocalReset
	entryFailed
)

// streamEntry is the sum-typed stream state: Open(handler), LocalReset, or
// Failed(cause). Stored behind an atomic pointer so transitions between
// kinds are a single compare-and-swap, never a lock.
type streamEntry struct {
	kind     entryKind
	handler  StreamHandler // valid only when kind == entryOpen
	cause    error         // valid when kind == entryLocalReset or entryFailed
	closedAt time.Time     // set on transition to a terminal kind; read by the sweeper
}

// streamSlot is the sync.Map value for one stream id. Its identity never
// changes once registered, so the outer map only ever does
// LoadOrStore/Delete/CompareAndDelete; all state transitions happen on the inner
// pointer instead.
type streamSlot struct {
	id    uint32
	value atomic.Pointer[streamEntry]
}

// streamTable is the concurrent stream map plus the two monotonic counters
// that make late-frame rejection and outbound GOAWAY correct without a
// mutex.
type streamTable struct {
	streams     sync.Map      // uint32 -> *streamSlot
	highWater   atomic.Uint32 // ClosedHighWater: largest id known retired
	highestSeen atomic.Uint32 // largest id ever registered; feeds GOAWAY's last-stream-id
}

// register installs Open(h) at id. It fails with *DuplicateStreamError if
// id is already tracked, and otherwise returns the slot and the exact
// entry pointer installed, so the caller's terminal-outcome observer can
// later CAS against that same pointer.
func (t *streamTable) register(id uint32, h StreamHandler) (*streamSlot, *streamEntry, error) {
	entry := &streamEntry{kind: entryOpen, handler: h}
	slot := &streamSlot{id: id}
	slot.value.Store(entry)

	if _, loaded := t.streams.LoadOrStore(id, slot); loaded {
		return nil, nil, &DuplicateStreamError{ID: id}
	}
	t.offerHighestSeen(id)
	return slot, entry, nil
}

func (t *streamTable) load(id uint32) (*streamSlot, bool) {
	v, ok := t.streams.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*streamSlot), true
}

// remove deletes id's entry outright and offers id to ClosedHighWater. Used
// for Ok/RemoteReset completions, which need no straggler placeholder.
func (t *streamTable) remove(id uint32) {
	t.streams.Delete(id)
	t.offerHighWater(id)
}

// retireTerminal offers id to ClosedHighWater without removing its map
// entry: for LocalReset/Failed outcomes the placeholder stays, so a
// straggler frame is silently discarded instead of reaching a spurious
// demux_new_stream call, until the sweeper evicts it.
func (t *streamTable) retireTerminal(id uint32) {
	t.offerHighWater(id)
}

// sweepTerminal evicts terminal (non-Open) entries whose closedAt predates
// cutoff. ClosedHighWater was already bumped at retireTerminal time, so the
// sweep itself never needs to touch it.
func (t *streamTable) sweepTerminal(cutoff time.Time) {
	t.streams.Range(func(key, value any) bool {
		slot := value.(*streamSlot)
		entry := slot.value.Load()
		if entry.kind != entryOpen && entry.closedAt.Before(cutoff) {
			t.streams.CompareAndDelete(key, slot)
		}
		return true
	})
}

func (t *streamTable) offerHighWater(id uint32) {
	for {
		cur := t.highWater.Load()
		if id <= cur {
			return
		}
		if t.highWater.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (t *streamTable) offerHighestSeen(id uint32) {
	for {
		cur := t.highestSeen.Load()
		if id <= cur {
			return
		}
		if t.highestSeen.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (t *streamTable) highWaterMark() uint32 { return t.highWater.Load() }
func (t *streamTable) highestSeenID() uint32 { return t.highestSeen.Load() }

// len reports the table's current size by counting live entries: sync.Map
// has no O(1) length. Used by ActiveStreams, the clean-close check and
// tests, never on the demux hot path.
func (t *streamTable) len() int {
	n := 0
	t.streams.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// rangeOpen calls fn once for every entry that was Open(handler) at the
// instant it was visited.
func (t *streamTable) rangeOpen(fn func(id uint32, h StreamHandler)) {
	t.streams.Range(func(_, value any) bool {
		slot := value.(*streamSlot)
		entry := slot.value.Load()
		if entry.kind == entryOpen {
			fn(slot.id, entry.handler)
		}
		return true
	})
}
