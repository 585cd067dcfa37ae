// Package mysqlwire reconstructs MySQL protocol packets from a raw
// byte stream. Every packet is preceded by a 3-byte little-endian length and
// a 1-byte sequence number; Framer is the stateful decoder that turns
// arbitrary byte slices arriving off the wire into complete Packets.
//
// Ported from the packet/header state machine in the original C++
// implementation's mysql_packet.{h,cc} and mysql_stream.cc, adapted to the
// arena-and-value-ownership model the spec's design notes recommend in
// place of manually reference-counted, doubly-linked buffers: a Packet is
// owned solely by the Stream packet list that created it. Anything that
// needs to outlive that list (the slow-query set) copies out the data it
// needs instead of sharing the buffer.
package mysqlwire

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction identifies which side of a MySQL connection produced a packet.
type Direction uint8

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}

// Opcode constants this package recognizes. Only the ones the core cares
// about are named; everything else is an "other" packet.
const (
	ComQuery byte = 0x03
	EOFByte  byte = 0xFE
)

// MaxPacketLen is the sentinel declared length, 0xFFFFFF, that marks a
// command continuing in the next packet.
const MaxPacketLen = 0xFFFFFF

// Packet is a single reconstructed MySQL protocol message, as delimited by
// its own 4-byte header, not a network packet.
type Packet struct {
	Direction   Direction
	Timestamp   time.Time
	DeclaredLen uint32
	Seq         uint8
	buf         []byte
	filled      uint32

	// ID is a diagnostic identifier for log correlation only; it carries no
	// protocol meaning.
	ID string

	// ExecTime is not set anywhere in this module: capstream reports a
	// query's execution time through QueryObservation instead.
	ExecTime time.Duration
	IsQuery  bool
}

// newPacket allocates a packet of the given declared capacity. Allocation
// is charged against acct so the stream manager can expose the
// bytes-in-use / packets-allocated / packets-freed counters the spec's
// resource model calls for.
func newPacket(declaredLen uint32, dir Direction, ts time.Time, seq uint8, acct *Accounting) *Packet {
	p := &Packet{
		Direction:   dir,
		Timestamp:   ts,
		DeclaredLen: declaredLen,
		Seq:         seq,
		buf:         make([]byte, 0, declaredLen),
		ID:          uuid.NewString(),
	}
	if acct != nil {
		acct.onAlloc(int64(declaredLen))
	}
	return p
}

// Complete reports whether the packet has accumulated its full declared
// length.
func (p *Packet) Complete() bool {
	return p.filled == p.DeclaredLen
}

// append copies as many bytes from b as the packet still needs, returning
// the number consumed. It never reorders or drops bytes.
func (p *Packet) append(b []byte) int {
	need := p.DeclaredLen - p.filled
	n := uint32(len(b))
	if n > need {
		n = need
	}
	p.buf = append(p.buf, b[:n]...)
	p.filled += n
	return int(n)
}

// Payload returns the packet's full accumulated body, including the
// leading opcode byte for command packets. Only meaningful once Complete.
func (p *Packet) Payload() []byte {
	return p.buf
}

// IsOversizedHead reports whether this packet used the MySQL continuation
// sentinel length, meaning the logical command continues in the packet
// that follows.
func (p *Packet) IsOversizedHead() bool {
	return p.DeclaredLen == MaxPacketLen
}

// IsComQuery reports whether a complete client->server packet's first byte
// is the COM_QUERY opcode.
func (p *Packet) IsComQuery() bool {
	return p.Direction == ClientToServer && len(p.buf) > 0 && p.buf[0] == ComQuery
}

// IsEOF reports whether a complete server->client packet's first byte is
// the EOF marker.
func (p *Packet) IsEOF() bool {
	return p.Direction == ServerToClient && len(p.buf) > 0 && p.buf[0] == EOFByte
}

// QueryText returns the command text of a COM_QUERY packet, skipping the
// leading opcode byte, matching Mysql_query_packet::query()/query_len() in
// the original implementation.
func (p *Packet) QueryText() []byte {
	if len(p.buf) == 0 {
		return nil
	}
	return p.buf[1:]
}

// Free releases the packet's buffer and charges the free back to acct.
// Called exactly once, when the stream unlinks the packet from its list.
func (p *Packet) Free(acct *Accounting) {
	if acct != nil {
		acct.onFree(int64(p.DeclaredLen))
	}
	p.buf = nil
}

// Accounting exposes the three memory counters the spec's resource model
// requires: bytes-in-use, packets-allocated, packets-freed. The counters are
// atomic because they are charged from every stream's dispatch goroutine
// concurrently and read from the progress reporter's own ticker goroutine.
type Accounting struct {
	bytesInUse       atomic.Int64
	packetsAllocated atomic.Int64
	packetsFreed     atomic.Int64
}

func (a *Accounting) onAlloc(n int64) {
	a.bytesInUse.Add(n)
	a.packetsAllocated.Add(1)
}

func (a *Accounting) onFree(n int64) {
	a.bytesInUse.Add(-n)
	a.packetsFreed.Add(1)
}

// BytesInUse returns the current outstanding byte count across all live
// packets charged to this Accounting.
func (a *Accounting) BytesInUse() int64 { return a.bytesInUse.Load() }

// PacketsAllocated returns the lifetime count of packets allocated.
func (a *Accounting) PacketsAllocated() int64 { return a.packetsAllocated.Load() }

// PacketsFreed returns the lifetime count of packets freed.
func (a *Accounting) PacketsFreed() int64 { return a.packetsFreed.Load() }

// LivePackets returns PacketsAllocated - PacketsFreed, the invariant the
// spec's testable properties section calls out directly.
func (a *Accounting) LivePackets() int64 {
	return a.packetsAllocated.Load() - a.packetsFreed.Load()
}
