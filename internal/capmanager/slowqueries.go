package capmanager

import (
	"sort"
	"sync"
	"time"
)

// SlowQuery is a value-copied record of one observed query's text,
// timestamp and execution time — never a shared pointer into a stream's
// packet list, per the design note about avoiding cross-ownership between
// the slow-query set and stream-owned packet storage.
type SlowQuery struct {
	StreamKey uint64
	Text      string
	Timestamp time.Time
	ExecTime  time.Duration
	seq       uint64
}

// SlowQuerySet is the bounded multiset from §3/§4.4: ordered by descending
// exec_time, ties broken by insertion order, capacity N configured at
// startup. On insert-overflow the minimum element is evicted.
type SlowQuerySet struct {
	mu       sync.Mutex
	capacity int
	entries  []SlowQuery // kept sorted descending by ExecTime, ties by ascending seq
	nextSeq  uint64
}

// NewSlowQuerySet returns a set with the given capacity. A capacity of 0
// means the set discards everything inserted. (The CLI never passes 0:
// pcapconfig.SetDefaults turns an -n of 0 into 10.)
func NewSlowQuerySet(capacity int) *SlowQuerySet {
	return &SlowQuerySet{capacity: capacity}
}

func less(a, b SlowQuery) bool {
	// "Greater" in exec_time sorts first; ties broken by earlier seq
	// sorting first.
	if a.ExecTime != b.ExecTime {
		return a.ExecTime > b.ExecTime
	}
	return a.seq < b.seq
}

// Insert adds q to the set. It returns true if q was retained (either
// because the set had room, or because it displaced the current minimum),
// and false if q was discarded outright (capacity 0, or q is smaller than
// every current member of an already-full set).
func (s *SlowQuerySet) Insert(q SlowQuery) bool {
	if s.capacity <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q.seq = s.nextSeq
	s.nextSeq++

	if len(s.entries) < s.capacity {
		i := sort.Search(len(s.entries), func(i int) bool { return less(q, s.entries[i]) })
		s.entries = append(s.entries, SlowQuery{})
		copy(s.entries[i+1:], s.entries[i:])
		s.entries[i] = q
		return true
	}

	// Full: only insert if q beats the current minimum (last element).
	min := s.entries[len(s.entries)-1]
	if !less(q, min) {
		return false
	}

	i := sort.Search(len(s.entries), func(i int) bool { return less(q, s.entries[i]) })
	s.entries = append(s.entries, SlowQuery{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = q
	s.entries = s.entries[:s.capacity]
	return true
}

// Snapshot returns a copy of the current set, in descending exec_time
// order.
func (s *SlowQuerySet) Snapshot() []SlowQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlowQuery, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the current number of members.
func (s *SlowQuerySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
