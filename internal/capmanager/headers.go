package capmanager

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ipv4Header is the subset of an IPv4 header the dispatch loop needs,
// parsed by hand per spec's non-goal of "general pcap dissection beyond
// Ethernet/IPv4/TCP" — the teacher's gopacket-based layer decoding is
// deliberately not reused here so the byte accounting stays exact and
// testable.
type ipv4Header struct {
	HeaderLen    int
	TotalLen     int
	ID           uint16
	MoreFragments bool
	FragOffset   int // in 8-byte units, per RFC 791
	Protocol     byte
	SrcIP        net.IP
	DstIP        net.IP
}

const tcpProtocol = 6

func parseIPv4Header(b []byte) (*ipv4Header, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("capmanager: short IPv4 header (%d bytes)", len(b))
	}

	versionIHL := b[0]
	if versionIHL>>4 != 4 {
		return nil, fmt.Errorf("capmanager: not IPv4 (version=%d)", versionIHL>>4)
	}
	ihl := int(versionIHL&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		return nil, fmt.Errorf("capmanager: bad IHL %d", ihl)
	}

	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	id := binary.BigEndian.Uint16(b[4:6])
	flagsFrag := binary.BigEndian.Uint16(b[6:8])
	moreFragments := flagsFrag&0x2000 != 0
	fragOffset := int(flagsFrag & 0x1FFF)

	return &ipv4Header{
		HeaderLen:     ihl,
		TotalLen:      totalLen,
		ID:            id,
		MoreFragments: moreFragments,
		FragOffset:    fragOffset,
		Protocol:      b[9],
		SrcIP:         net.IPv4(b[12], b[13], b[14], b[15]),
		DstIP:         net.IPv4(b[16], b[17], b[18], b[19]),
	}, nil
}

// tcpHeader is the subset of a TCP header the dispatch loop needs.
type tcpHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	DataOff  int // header length in bytes
	SYN, FIN, RST bool
}

func parseTCPHeader(b []byte) (*tcpHeader, error) {
	if len(b) < 20 {
		return nil, fmt.Errorf("capmanager: short TCP header (%d bytes)", len(b))
	}

	dataOff := int(b[12]>>4) * 4
	if dataOff < 20 || len(b) < dataOff {
		return nil, fmt.Errorf("capmanager: bad TCP data offset %d", dataOff)
	}

	flags := b[13]

	return &tcpHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		DataOff: dataOff,
		SYN:     flags&0x02 != 0,
		FIN:     flags&0x01 != 0,
		RST:     flags&0x04 != 0,
	}, nil
}

// streamKey forms the 64-bit key (ip << 32) | port for whichever endpoint
// is not the MySQL server, per §4.4's symmetric key computation.
func streamKey(ip net.IP, port uint16) uint64 {
	ip4 := ip.To4()
	if ip4 == nil {
		return uint64(port)
	}
	ipU32 := binary.BigEndian.Uint32(ip4)
	return uint64(ipU32)<<32 | uint64(port)
}
