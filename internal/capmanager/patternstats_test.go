package capmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternStatsAggregation(t *testing.T) {
	ps := NewPatternStats()
	ps.Record("SELECT * FROM t WHERE id = ?", 10*time.Millisecond)
	ps.Record("SELECT * FROM t WHERE id = ?", 30*time.Millisecond)
	ps.Record("SELECT * FROM t WHERE id = ?", 20*time.Millisecond)

	rows := ps.Snapshot()
	require.Len(t, rows, 1)
	e := rows[0].Entry
	assert.Equal(t, uint64(3), e.N)
	assert.Equal(t, 10*time.Millisecond, e.MinTime)
	assert.Equal(t, 30*time.Millisecond, e.MaxTime)
	assert.Equal(t, 20*time.Millisecond, e.Avg())
}

func TestPatternStatsMedianAndP95(t *testing.T) {
	ps := NewPatternStats()
	for _, ms := range []int{10, 20, 30, 40, 100} {
		ps.Record("k", time.Duration(ms)*time.Millisecond)
	}

	rows := ps.Snapshot()
	require.Len(t, rows, 1)
	assert.Equal(t, 30*time.Millisecond, rows[0].Entry.Median())
	assert.Equal(t, 100*time.Millisecond, rows[0].Entry.P95())
}

func TestPatternStatsSnapshotSortedByKey(t *testing.T) {
	ps := NewPatternStats()
	ps.Record("zzz", time.Millisecond)
	ps.Record("aaa", time.Millisecond)

	rows := ps.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "aaa", rows[0].Key)
	assert.Equal(t, "zzz", rows[1].Key)
}

func TestPatternEntryEmptyIsZero(t *testing.T) {
	var e PatternEntry
	assert.Equal(t, time.Duration(0), e.Avg())
	assert.Equal(t, time.Duration(0), e.Median())
	assert.Equal(t, time.Duration(0), e.P95())
}
