package bytefield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripWidths(t *testing.T) {
	cases := []struct {
		name  string
		width int
		value uint64
	}{
		{"16", 2, 0xBEEF},
		{"24", 3, 0xFFFFFE},
		{"32", 4, 0xDEADBEEF},
		{"40", 5, 0x1122334455},
		{"48", 6, 0x0102030405FE},
		{"64", 8, 0x0102030405060708},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := make([]byte, c.width)
			var err error
			switch c.width {
			case 2:
				err = PutUint16LE(buf, uint16(c.value))
			case 3:
				err = PutUint24LE(buf, uint32(c.value))
			case 4:
				err = PutUint32LE(buf, uint32(c.value))
			case 5:
				err = PutUint40LE(buf, c.value)
			case 6:
				err = PutUint48LE(buf, c.value)
			case 8:
				err = PutUint64LE(buf, c.value)
			}
			require.NoError(t, err)

			var got uint64
			switch c.width {
			case 2:
				v, e := Uint16LE(buf)
				got, err = uint64(v), e
			case 3:
				v, e := Uint24LE(buf)
				got, err = uint64(v), e
			case 4:
				v, e := Uint32LE(buf)
				got, err = uint64(v), e
			case 5:
				got, err = Uint40LE(buf)
			case 6:
				got, err = Uint48LE(buf)
			case 8:
				got, err = Uint64LE(buf)
			}
			require.NoError(t, err)
			assert.Equal(t, c.value, got)
		})
	}
}

func TestShortBuffer(t *testing.T) {
	_, err := Uint24LE([]byte{0x01, 0x02})
	require.Error(t, err)
	var shortErr *ErrShortBuffer
	require.ErrorAs(t, err, &shortErr)
	assert.Equal(t, 3, shortErr.Width)
	assert.Equal(t, 2, shortErr.Got)
}

func TestUint24LEIsLittleEndian(t *testing.T) {
	buf := []byte{0x01, 0x00, 0x00}
	v, err := Uint24LE(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)
}
