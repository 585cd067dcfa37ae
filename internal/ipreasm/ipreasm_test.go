package ipreasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	payloads [][]byte
}

func (s *recordingSink) AppendFragment(payload []byte) {
	s.payloads = append(s.payloads, payload)
}

func TestEnqueueOrdersByOffset(t *testing.T) {
	r := New()
	r.Enqueue(42, 1480, []byte("second"))
	r.Enqueue(42, 0, []byte("first"))
	r.Enqueue(42, 2960, []byte("third"))

	first, ok := r.First(42)
	require.True(t, ok)
	assert.Equal(t, "first", string(first))

	sink := &recordingSink{}
	r.DrainTail(42, sink)
	require.Len(t, sink.payloads, 2)
	assert.Equal(t, "second", string(sink.payloads[0]))
	assert.Equal(t, "third", string(sink.payloads[1]))
}

func TestHasAndDrainTailClearsState(t *testing.T) {
	r := New()
	assert.False(t, r.Has(7))

	r.Enqueue(7, 0, []byte("x"))
	assert.True(t, r.Has(7))

	r.DrainTail(7, &recordingSink{})
	assert.False(t, r.Has(7))
}

func TestDiscardDropsWithoutDraining(t *testing.T) {
	r := New()
	r.Enqueue(3, 0, []byte("x"))
	r.Discard(3)
	assert.False(t, r.Has(3))
}

func TestOutOfOrderArrivalStillOrdersCorrectly(t *testing.T) {
	r := New()
	// Typical in-order arrival: each enqueue should be a fast tail append.
	r.Enqueue(1, 0, []byte("a"))
	r.Enqueue(1, 100, []byte("b"))
	r.Enqueue(1, 200, []byte("c"))
	// Then a late, out-of-order fragment arrives.
	r.Enqueue(1, 150, []byte("b2"))

	sink := &recordingSink{}
	r.DrainTail(1, sink)
	require.Len(t, sink.payloads, 3)
	assert.Equal(t, "b", string(sink.payloads[0]))
	assert.Equal(t, "b2", string(sink.payloads[1]))
	assert.Equal(t, "c", string(sink.payloads[2]))
}
