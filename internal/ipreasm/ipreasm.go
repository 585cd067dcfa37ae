// Package ipreasm holds pending IPv4 fragments keyed by the datagram's
// identification field, exposing the first fragment's payload to TCP
// parsing and draining the remainder, in offset order, once the caller
// knows which stream the reassembled datagram belongs to.
//
// Ported from the offset-ordered fragment list in the original C++
// implementation's ip_stream.{h,cc}, expressed over Go slices instead of an
// intrusive doubly-linked list.
package ipreasm

// Fragment is a single IPv4 fragment's payload together with the byte
// offset (in units of the original datagram's payload, not header bytes) at
// which it belongs.
type Fragment struct {
	Offset  int
	Payload []byte
}

// Sink receives the drained tail fragments of a reassembled datagram, in
// offset order. Stream implementations satisfy this to receive the bytes
// the reassembler is not itself responsible for interpreting.
type Sink interface {
	AppendFragment(payload []byte)
}

type fragmentList struct {
	fragments []Fragment
}

// Reassembler buffers fragments for datagrams still in flight, keyed by
// IPv4 identification field. Duplicate offsets are accepted and ordered
// arbitrarily relative to each other, matching the original's behavior.
type Reassembler struct {
	pending map[uint16]*fragmentList
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{pending: make(map[uint16]*fragmentList)}
}

// Enqueue inserts a fragment into the offset-ordered list for ipID. The
// search walks from the tail backward to find the insertion point, which is
// amortized O(1) for the common in-order-arrival case and O(k) worst case.
func (r *Reassembler) Enqueue(ipID uint16, offset int, payload []byte) {
	fl := r.pending[ipID]
	if fl == nil {
		fl = &fragmentList{}
		r.pending[ipID] = fl
	}

	frag := Fragment{Offset: offset, Payload: payload}

	i := len(fl.fragments)
	for i > 0 && fl.fragments[i-1].Offset > offset {
		i--
	}
	fl.fragments = append(fl.fragments, Fragment{})
	copy(fl.fragments[i+1:], fl.fragments[i:])
	fl.fragments[i] = frag
}

// Has reports whether any fragments are pending for ipID.
func (r *Reassembler) Has(ipID uint16) bool {
	fl, ok := r.pending[ipID]
	return ok && len(fl.fragments) > 0
}

// First returns the payload of the lowest-offset fragment pending for
// ipID, which TCP parsing treats as the reassembled datagram's head. It
// does not remove the fragment from the list; call DrainTail to consume
// the whole list once the first fragment has been processed.
func (r *Reassembler) First(ipID uint16) ([]byte, bool) {
	fl, ok := r.pending[ipID]
	if !ok || len(fl.fragments) == 0 {
		return nil, false
	}
	return fl.fragments[0].Payload, true
}

// DrainTail appends every non-first fragment's payload, in offset order,
// into sink, then discards the fragment list for ipID entirely.
func (r *Reassembler) DrainTail(ipID uint16, sink Sink) {
	fl, ok := r.pending[ipID]
	if !ok {
		return
	}
	for _, frag := range fl.fragments[1:] {
		sink.AppendFragment(frag.Payload)
	}
	delete(r.pending, ipID)
}

// Discard drops any pending fragments for ipID without draining them,
// used when a stream is torn down before reassembly completes.
func (r *Reassembler) Discard(ipID uint16) {
	delete(r.pending, ipID)
}
