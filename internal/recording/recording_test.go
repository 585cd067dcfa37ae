package recording

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/spachev/mysqlpcap/internal/mysqlwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	ts := time.Unix(1700000000, 123000).UTC()
	require.NoError(t, w.WriteRecord(&Record{
		StreamKey: 42,
		Direction: mysqlwire.ClientToServer,
		Seconds:   ts.Unix(),
		Micros:    123,
		Payload:   []byte("SELECT 1"),
	}))
	require.NoError(t, w.WriteStreamEnd(42, mysqlwire.ServerToClient, ts))
	require.NoError(t, w.Flush())

	r := NewReader(&buf)

	rec1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rec1.StreamKey)
	assert.Equal(t, mysqlwire.ClientToServer, rec1.Direction)
	assert.Equal(t, []byte("SELECT 1"), rec1.Payload)
	assert.False(t, rec1.IsStreamEnd())

	rec2, err := r.Next()
	require.NoError(t, err)
	assert.True(t, rec2.IsStreamEnd())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX\x01\x00")
	r := NewReader(buf)
	_, err := r.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestTruncatedRecordYieldsCleanEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteRecord(&Record{
		StreamKey: 1,
		Payload:   []byte("hello"),
	}))
	require.NoError(t, w.Flush())

	full := buf.Bytes()
	truncated := full[:len(full)-3]

	r := NewReader(bytes.NewReader(truncated))
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
