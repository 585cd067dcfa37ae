// Package linklayer detects the link-layer header size of a packet capture
// by brute-force probing offsets until a structurally valid IPv4 header is
// found, the same heuristic the upstream C tool used (see
// detect_eth_header_size/is_valid_ip_header in the original sources).
package linklayer

// MinOffset and MaxOffset bound the brute-force probe. 14 is a bare
// Ethernet II header; 22 covers Ethernet + a couple of common tag/trailer
// combinations observed in captures (802.1Q VLAN tag, etc).
const (
	MinOffset = 14
	MaxOffset = 22
)

// Detector caches the first successfully probed offset so repeated calls
// against packets from the same capture don't re-probe every frame.
type Detector struct {
	cached    int
	haveCache bool
}

// New returns a Detector with no cached offset.
func New() *Detector {
	return &Detector{}
}

// Pinned returns a Detector whose offset is fixed by operator override (the
// -e CLI flag) and never re-probed.
func Pinned(offset int) *Detector {
	return &Detector{cached: offset, haveCache: true}
}

// Detect returns the link-layer header size for frame, probing offsets
// 14..22 until IsValidIPv4Header succeeds at one of them. Once an offset has
// worked it is cached and returned directly on subsequent calls without
// re-probing, per the design note recommending re-detection only be
// triggered by repeated parse failures (see Invalidate).
func (d *Detector) Detect(frame []byte) (int, bool) {
	if d.haveCache {
		return d.cached, true
	}

	for off := MinOffset; off <= MaxOffset; off++ {
		if off >= len(frame) {
			break
		}
		if IsValidIPv4Header(frame[off:], len(frame)-off) {
			d.cached = off
			d.haveCache = true
			return off, true
		}
	}
	return 0, false
}

// Invalidate drops the cached offset, forcing the next Detect call to
// re-probe. Callers should invoke this only after repeated parse failures
// at the cached offset, not on every failure.
func (d *Detector) Invalidate() {
	d.haveCache = false
}

// IsValidIPv4Header reports whether ipStart begins with a structurally
// plausible IPv4 header: version 4, an IHL of at least 5 32-bit words, and a
// total-length field that fits within the number of bytes actually
// captured after the link-layer header (capLenAfterOffset).
func IsValidIPv4Header(ipStart []byte, capLenAfterOffset int) bool {
	if len(ipStart) < 20 {
		return false
	}

	versionIHL := ipStart[0]
	version := versionIHL >> 4
	ihl := int(versionIHL & 0x0F)

	if version != 4 {
		return false
	}
	if ihl < 5 {
		return false
	}

	// The IPv4 total-length field is big-endian on the wire.
	totalLen := int(ipStart[2])<<8 | int(ipStart[3])

	if totalLen > capLenAfterOffset {
		return false
	}
	if int(totalLen) < ihl*4 {
		return false
	}

	return true
}
