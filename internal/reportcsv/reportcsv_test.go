package reportcsv

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachev/mysqlpcap/internal/capmanager"
	"github.com/spachev/mysqlpcap/internal/tablestats"
)

func TestWritePatternStatsCSV(t *testing.T) {
	stats := capmanager.NewPatternStats()
	stats.Record("SELECT * FROM t WHERE id = N", 10*time.Millisecond)
	stats.Record("SELECT * FROM t WHERE id = N", 30*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, WritePatternStatsCSV(&buf, stats.Snapshot()))

	r := csv.NewReader(strings.NewReader(buf.String()))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"pattern", "N", "min", "max", "avg", "median", "p95", "total"}, records[0])
	assert.Equal(t, "SELECT * FROM t WHERE id = N", records[1][0])
	assert.Equal(t, "2", records[1][1])
}

func TestWriteTableStatsCSV(t *testing.T) {
	ts := tablestats.New()
	ts.RegisterQuery("t1", "select", 50*time.Millisecond)

	var buf bytes.Buffer
	generated := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteTableStatsCSV(&buf, ts.Snapshot(), generated))

	r := csv.NewReader(strings.NewReader(buf.String()))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"timestamp", "table", "kind", "N", "min", "max", "avg"}, records[0])
	assert.Equal(t, "2026-08-03T12:00:00Z", records[1][0])
	assert.Equal(t, "t1", records[1][1])
	assert.Equal(t, "select", records[1][2])
}

func TestPrintSlowQueries(t *testing.T) {
	queries := []capmanager.SlowQuery{
		{Text: "SELECT 1", ExecTime: 250 * time.Millisecond},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintSlowQueries(&buf, queries))

	out := buf.String()
	assert.Contains(t, out, "# exec_time = 0.250000s")
	assert.Contains(t, out, "SELECT 1")
}
