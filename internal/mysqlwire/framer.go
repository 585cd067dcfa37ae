package mysqlwire

import (
	"time"

	"github.com/spachev/mysqlpcap/internal/bytefield"
)

const headerSize = 4

// CompletionHook is invoked once per packet, exactly when it transitions to
// Complete. Stream wires this to its own classification logic (§4.3).
type CompletionHook func(p *Packet)

// Framer is the stateful decoder described in §4.2: it maintains a 4-byte
// pending header accumulator and emits complete Packets as bytes arrive.
// One Framer exists per direction per Stream, since client->server and
// server->client bytes are framed independently.
type Framer struct {
	dir Direction

	hdr     [headerSize]byte
	hdrFill int

	current *Packet
	onDone  CompletionHook
	acct    *Accounting
}

// NewFramer returns a Framer for the given direction. onDone is called
// synchronously every time a packet completes; acct (may be nil) receives
// allocation/free accounting.
func NewFramer(dir Direction, acct *Accounting, onDone CompletionHook) *Framer {
	return &Framer{dir: dir, onDone: onDone, acct: acct}
}

// Append feeds newly arrived bytes, captured at segmentTS, into the framer.
// It never reorders bytes and a packet's declared length never changes
// once parsed, per §4.2's invariants.
func (f *Framer) Append(b []byte, segmentTS time.Time) {
	for len(b) > 0 {
		if f.current == nil || f.current.Complete() {
			consumed := f.fillHeader(b, segmentTS)
			b = b[consumed:]
			continue
		}

		n := f.current.append(b)
		b = b[n:]

		if f.current.Complete() {
			done := f.current
			f.current = nil
			if f.onDone != nil {
				f.onDone(done)
			}
		}
	}
}

// fillHeader copies up to the missing header bytes from b, returning the
// number of bytes consumed. If the header becomes complete it parses the
// declared length and allocates the next packet.
func (f *Framer) fillHeader(b []byte, segmentTS time.Time) int {
	need := headerSize - f.hdrFill
	n := len(b)
	if n > need {
		n = need
	}
	copy(f.hdr[f.hdrFill:], b[:n])
	f.hdrFill += n

	if f.hdrFill < headerSize {
		return n
	}

	declaredLen, _ := bytefield.Uint24LE(f.hdr[:3])
	seq := f.hdr[3]
	f.current = newPacket(declaredLen, f.dir, segmentTS, seq, f.acct)
	f.hdrFill = 0

	if declaredLen == 0 {
		// A zero-length body packet is already complete the moment its
		// header is parsed (the recording format additionally overloads
		// this shape as a stream-end marker; Framer itself only reports
		// completion here).
		done := f.current
		f.current = nil
		if f.onDone != nil {
			f.onDone(done)
		}
	}

	return n
}

// PartialHeaderLen returns how many bytes of the next packet's 4-byte
// header have been accumulated so far: the partial-header term of the
// byte-accounting invariant in spec §8.
func (f *Framer) PartialHeaderLen() int {
	return f.hdrFill
}

// CurrentFilled returns how many bytes the in-flight packet (if any) has
// accumulated so far.
func (f *Framer) CurrentFilled() int {
	if f.current == nil {
		return 0
	}
	return len(f.current.buf)
}
