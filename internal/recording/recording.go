// Package recording implements the compact intermediate replay file
// format: a magic+version header followed by a sequence of per-packet
// records, allowing capture and replay to be separated in time. There is
// no original-source analogue for this format (the upstream C++ tool has
// no replay-file concept); its framing style is grounded on the general
// fixed-header-then-length-prefixed-body idiom used throughout
// middle/parsers/postgres.go in the teacher repository and on
// internal/mysqlwire's own header/body split.
package recording

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/spachev/mysqlpcap/internal/mysqlwire"
)

// Magic is the 4-byte file signature, "MCAP".
var Magic = [4]byte{'M', 'C', 'A', 'P'}

// Version is the current on-disk format version.
const Version uint16 = 1

// Record mirrors §3's Recording record layout: 8-byte stream key, 1-byte
// direction, 8-byte seconds, 8-byte microseconds, 4-byte payload length,
// followed by payload bytes. A zero payload length means "stream end"; no
// payload bytes follow.
type Record struct {
	StreamKey uint64
	Direction mysqlwire.Direction
	Seconds   int64
	Micros    int64
	Payload   []byte
}

// IsStreamEnd reports whether this record is the zero-length stream-end
// marker.
func (r *Record) IsStreamEnd() bool {
	return len(r.Payload) == 0
}

// Timestamp reconstructs the record's capture time from its
// seconds/microseconds fields.
func (r *Record) Timestamp() time.Time {
	return time.Unix(r.Seconds, r.Micros*int64(time.Microsecond)).UTC()
}

// Writer serializes records to an underlying file, writing the header
// lazily on the first WriteRecord call; a Writer that never receives a
// record writes nothing, not even the header.
type Writer struct {
	w           *bufio.Writer
	wroteHeader bool
}

// NewWriter wraps w for recording output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (rw *Writer) writeHeader() error {
	if rw.wroteHeader {
		return nil
	}
	if _, err := rw.w.Write(Magic[:]); err != nil {
		return err
	}
	if err := binary.Write(rw.w, binary.LittleEndian, Version); err != nil {
		return err
	}
	rw.wroteHeader = true
	return nil
}

// WriteRecord appends one record, writing the file header first if this is
// the first call.
func (rw *Writer) WriteRecord(r *Record) error {
	if err := rw.writeHeader(); err != nil {
		return err
	}

	if err := binary.Write(rw.w, binary.LittleEndian, r.StreamKey); err != nil {
		return err
	}
	if err := rw.w.WriteByte(byte(r.Direction)); err != nil {
		return err
	}
	if err := binary.Write(rw.w, binary.LittleEndian, r.Seconds); err != nil {
		return err
	}
	if err := binary.Write(rw.w, binary.LittleEndian, r.Micros); err != nil {
		return err
	}
	if err := binary.Write(rw.w, binary.LittleEndian, uint32(len(r.Payload))); err != nil {
		return err
	}
	_, err := rw.w.Write(r.Payload)
	return err
}

// WriteStreamEnd appends the zero-length "stream end" marker record for
// streamKey.
func (rw *Writer) WriteStreamEnd(streamKey uint64, dir mysqlwire.Direction, ts time.Time) error {
	return rw.WriteRecord(&Record{
		StreamKey: streamKey,
		Direction: dir,
		Seconds:   ts.Unix(),
		Micros:    int64(ts.Nanosecond() / int(time.Microsecond)),
	})
}

// Flush flushes any buffered output to the underlying writer.
func (rw *Writer) Flush() error {
	return rw.w.Flush()
}

// Reader reads a recording file produced by Writer.
type Reader struct {
	r           *bufio.Reader
	readHeader  bool
	fileVersion uint16
}

// NewReader wraps r for recording input. The magic and version are
// validated lazily, on the first Next call, so construction itself cannot
// fail.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (rr *Reader) readHeaderOnce() error {
	if rr.readHeader {
		return nil
	}

	var magic [4]byte
	if _, err := io.ReadFull(rr.r, magic[:]); err != nil {
		return fmt.Errorf("recording: reading magic: %w", err)
	}
	if magic != Magic {
		return fmt.Errorf("recording: bad magic %q, want %q", magic, Magic)
	}

	var version uint16
	if err := binary.Read(rr.r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("recording: reading version: %w", err)
	}
	if version != Version {
		return fmt.Errorf("recording: unsupported version %d, want %d", version, Version)
	}

	rr.fileVersion = version
	rr.readHeader = true
	return nil
}

// Next reads the next record. At clean end of file, or on any truncation
// partway through a record, it returns (nil, io.EOF) uniformly: per §9's
// resolved Open Question, the format has no distinct end-of-file marker,
// so a truncated file and a cleanly closed one are indistinguishable to
// the reader and neither is treated as an error.
func (rr *Reader) Next() (*Record, error) {
	if err := rr.readHeaderOnce(); err != nil {
		return nil, err
	}

	var rec Record

	if err := binary.Read(rr.r, binary.LittleEndian, &rec.StreamKey); err != nil {
		return nil, io.EOF
	}

	dirByte, err := rr.r.ReadByte()
	if err != nil {
		return nil, io.EOF
	}
	rec.Direction = mysqlwire.Direction(dirByte)

	if err := binary.Read(rr.r, binary.LittleEndian, &rec.Seconds); err != nil {
		return nil, io.EOF
	}
	if err := binary.Read(rr.r, binary.LittleEndian, &rec.Micros); err != nil {
		return nil, io.EOF
	}

	var payloadLen uint32
	if err := binary.Read(rr.r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, io.EOF
	}

	if payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(rr.r, rec.Payload); err != nil {
			return nil, io.EOF
		}
	}

	return &rec, nil
}
