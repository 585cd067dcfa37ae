// Package tablestats aggregates per-(table, statement_kind) execution-time
// statistics, fed by internal/sqlshape callbacks. Ported from the
// Table_stats/Table_query_info/Table_query_entry three-level map in the
// original implementation's table_stats.{h,cc}.
package tablestats

import (
	"sort"
	"sync"
	"time"

	"github.com/spachev/mysqlpcap/internal/sqlshape"
)

// Entry holds the count/min/max/total execution time for one (table,
// statement kind) pair.
type Entry struct {
	N        uint64
	MinTime  time.Duration
	MaxTime  time.Duration
	TotalSum time.Duration
}

func (e *Entry) update(execTime time.Duration) {
	if e.N == 0 {
		e.MinTime = execTime
		e.MaxTime = execTime
	} else {
		if execTime < e.MinTime {
			e.MinTime = execTime
		}
		if execTime > e.MaxTime {
			e.MaxTime = execTime
		}
	}
	e.N++
	e.TotalSum += execTime
}

// Avg returns the entry's average execution time.
func (e *Entry) Avg() time.Duration {
	if e.N == 0 {
		return 0
	}
	return e.TotalSum / time.Duration(e.N)
}

// Stats is the mutex-guarded aggregator the stream manager feeds from both
// the dispatch thread (capture-derived latencies) and replay workers
// (replay-derived latencies), per §5's shared-statistics policy.
type Stats struct {
	mu   sync.Mutex
	byTable map[string]map[string]*Entry
}

// New returns an empty Stats aggregator.
func New() *Stats {
	return &Stats{byTable: make(map[string]map[string]*Entry)}
}

// RegisterQuery records one observed execution of statementKind against
// table.
func (s *Stats) RegisterQuery(table, statementKind string, execTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := s.byTable[table]
	if kinds == nil {
		kinds = make(map[string]*Entry)
		s.byTable[table] = kinds
	}

	e := kinds[statementKind]
	if e == nil {
		e = &Entry{}
		kinds[statementKind] = e
	}
	e.update(execTime)
}

// UpdateFromQuery parses query with internal/sqlshape and registers one
// observation per table reference found. A parse failure is reported to
// onParseError (may be nil) and otherwise ignored, per §4.6/§7: the query
// is simply excluded from table statistics.
func (s *Stats) UpdateFromQuery(query string, execTime time.Duration, onParseError func(error)) {
	err := sqlshape.Parse(query, func(kind, table string) {
		if table == "" {
			return
		}
		// The statement-kind enum table statistics report against is exactly
		// {select, insert, update, delete}; sqlshape also recognizes SHOW for
		// table-name extraction elsewhere, but the original table_stats.cc
		// never records it, so it's dropped here rather than leaked into
		// reports.
		switch kind {
		case "select", "insert", "update", "delete":
		default:
			return
		}
		s.RegisterQuery(table, kind, execTime)
	})
	if err != nil && onParseError != nil {
		onParseError(err)
	}
}

// Row is one flattened (table, statement kind, entry) tuple, for reporting.
type Row struct {
	Table string
	Kind  string
	Entry Entry
}

// Snapshot returns every (table, kind) pair's statistics, sorted by table
// then kind for deterministic report output.
func (s *Stats) Snapshot() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []Row
	for table, kinds := range s.byTable {
		for kind, e := range kinds {
			rows = append(rows, Row{Table: table, Kind: kind, Entry: *e})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Table != rows[j].Table {
			return rows[i].Table < rows[j].Table
		}
		return rows[i].Kind < rows[j].Kind
	})
	return rows
}
