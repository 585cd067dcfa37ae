package capmanager

import (
	"sync"
	"time"
)

// progressSnapshot is one point-in-time reading of the counters
// ProgressReporter turns into rolling rates, mirroring the
// (Requests, Responses, Errors, BytesSent, BytesRecv, AvgLatency) snapshot
// struct in the teacher's RealtimeStatsMonitor.
type progressSnapshot struct {
	at               time.Time
	packetsAllocated int64
	queriesObserved  uint64
}

// ProgressReporter periodically logs rolling statistics derived from a
// Manager's accounting counters and query observations to its configured
// Logger, for the --progress flag of spec.md §6.
//
// Grounded on middle/monitor/stats.go's RealtimeStatsMonitor/
// PrintDetailedStats: a snapshot is taken on each tick and compared against
// the previous one to derive a rate (QPS, packet throughput), exactly as
// GetCurrentQPS/GetThroughput there diff updateHistory's last two entries.
// Unlike the teacher, this reporter has no history buffer to trim — only
// the immediately prior snapshot is needed for a one-tick-wide rate.
type ProgressReporter struct {
	mgr      *Manager
	interval time.Duration

	mu   sync.Mutex
	last progressSnapshot

	stop chan struct{}
	done chan struct{}
}

// NewProgressReporter returns a reporter for mgr that ticks every interval.
func NewProgressReporter(mgr *Manager, interval time.Duration) *ProgressReporter {
	return &ProgressReporter{
		mgr:      mgr,
		interval: interval,
		last:     progressSnapshot{at: time.Now()},
	}
}

// Start runs the reporter's ticker loop in its own goroutine until Stop is
// called. Calling Start more than once without an intervening Stop replaces
// the stop/done channels, so the earlier goroutine can no longer be
// stopped; calling Stop twice panics on closing an already closed channel.
func (r *ProgressReporter) Start() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Report()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop signals the ticker goroutine to exit and waits for it to do so.
func (r *ProgressReporter) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
}

func totalQueriesObserved(rows []Row) uint64 {
	var n uint64
	for _, row := range rows {
		n += row.Entry.N
	}
	return n
}

// Report computes the rates since the last call (or since construction, on
// the first call) and logs one line to the manager's logger. It is safe to
// call directly (e.g. for a one-shot report at end of capture) as well as
// from the ticker loop Start installs.
func (r *ProgressReporter) Report() {
	now := time.Now()
	acct := r.mgr.Accounting()
	queries := totalQueriesObserved(r.mgr.PatternStats().Snapshot())
	packets := acct.PacketsAllocated()

	r.mu.Lock()
	prev := r.last
	r.last = progressSnapshot{at: now, packetsAllocated: packets, queriesObserved: queries}
	r.mu.Unlock()

	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return
	}

	qps := float64(queries-prev.queriesObserved) / elapsed
	packetRate := float64(packets-prev.packetsAllocated) / elapsed

	r.mgr.logf(
		"progress: %.1f queries/s, %.1f packets/s, %d bytes in use, %d live packets, %d active streams, %d slow queries tracked",
		qps, packetRate, acct.BytesInUse(), acct.LivePackets(), r.mgr.ActiveStreamCount(), len(r.mgr.SlowQueries().Snapshot()),
	)
}
