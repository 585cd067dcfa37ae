package capmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlowQuerySetOrdersDescending(t *testing.T) {
	s := NewSlowQuerySet(3)
	s.Insert(SlowQuery{Text: "a", ExecTime: 10 * time.Millisecond})
	s.Insert(SlowQuery{Text: "b", ExecTime: 50 * time.Millisecond})
	s.Insert(SlowQuery{Text: "c", ExecTime: 30 * time.Millisecond})

	got := s.Snapshot()
	assert.Equal(t, []string{"b", "c", "a"}, []string{got[0].Text, got[1].Text, got[2].Text})
}

func TestSlowQuerySetEvictsMinimumOnOverflow(t *testing.T) {
	s := NewSlowQuerySet(2)
	s.Insert(SlowQuery{Text: "a", ExecTime: 10 * time.Millisecond})
	s.Insert(SlowQuery{Text: "b", ExecTime: 50 * time.Millisecond})

	inserted := s.Insert(SlowQuery{Text: "c", ExecTime: 5 * time.Millisecond})
	assert.False(t, inserted)
	assert.Equal(t, 2, s.Len())

	inserted = s.Insert(SlowQuery{Text: "d", ExecTime: 100 * time.Millisecond})
	assert.True(t, inserted)

	got := s.Snapshot()
	assert.Equal(t, "d", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
}

func TestSlowQuerySetZeroCapacityDiscardsEverything(t *testing.T) {
	s := NewSlowQuerySet(0)
	inserted := s.Insert(SlowQuery{Text: "a", ExecTime: time.Second})
	assert.False(t, inserted)
	assert.Equal(t, 0, s.Len())
}

func TestSlowQuerySetBreaksTiesByInsertionOrder(t *testing.T) {
	s := NewSlowQuerySet(5)
	s.Insert(SlowQuery{Text: "first", ExecTime: 10 * time.Millisecond})
	s.Insert(SlowQuery{Text: "second", ExecTime: 10 * time.Millisecond})

	got := s.Snapshot()
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
}
