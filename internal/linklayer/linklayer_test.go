package linklayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validIPv4Header(totalLen uint16) []byte {
	h := make([]byte, 20)
	h[0] = 0x45 // version 4, IHL 5
	h[2] = byte(totalLen >> 8)
	h[3] = byte(totalLen)
	return h
}

func TestDetectFindsEthernetOffset(t *testing.T) {
	frame := make([]byte, 14+20+10)
	copy(frame[14:], validIPv4Header(30))

	d := New()
	off, ok := d.Detect(frame)
	assert.True(t, ok)
	assert.Equal(t, 14, off)
}

func TestDetectCaches(t *testing.T) {
	frame := make([]byte, 14+20)
	copy(frame[14:], validIPv4Header(20))

	d := New()
	off1, ok1 := d.Detect(frame)
	assert.True(t, ok1)

	// Even with a frame that would no longer validate, the cached offset
	// is returned without re-probing.
	garbage := make([]byte, 14+20)
	off2, ok2 := d.Detect(garbage)
	assert.True(t, ok2)
	assert.Equal(t, off1, off2)
}

func TestPinnedNeverProbes(t *testing.T) {
	d := Pinned(16)
	off, ok := d.Detect(nil)
	assert.True(t, ok)
	assert.Equal(t, 16, off)
}

func TestIsValidIPv4HeaderRejectsBadVersion(t *testing.T) {
	h := validIPv4Header(20)
	h[0] = 0x65 // version 6
	assert.False(t, IsValidIPv4Header(h, 20))
}

func TestIsValidIPv4HeaderRejectsShortIHL(t *testing.T) {
	h := validIPv4Header(20)
	h[0] = 0x44 // IHL 4 < 5
	assert.False(t, IsValidIPv4Header(h, 20))
}

func TestIsValidIPv4HeaderRejectsOversizedTotalLength(t *testing.T) {
	h := validIPv4Header(9000)
	assert.False(t, IsValidIPv4Header(h, 20))
}

func TestInvalidateForcesReprobe(t *testing.T) {
	frame := make([]byte, 14+20)
	copy(frame[14:], validIPv4Header(20))

	d := New()
	off1, _ := d.Detect(frame)
	assert.Equal(t, 14, off1)

	d.Invalidate()

	frame2 := make([]byte, 16+20)
	copy(frame2[16:], validIPv4Header(20))
	off2, ok2 := d.Detect(frame2)
	assert.True(t, ok2)
	assert.Equal(t, 16, off2)
}
