package capmanager

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipv4Packet(t *testing.T, totalLen int, id uint16, moreFragments bool, fragOffset int, proto byte, src, dst [4]byte) []byte {
	t.Helper()
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5
	b[2] = byte(totalLen >> 8)
	b[3] = byte(totalLen)
	b[4] = byte(id >> 8)
	b[5] = byte(id)
	flagsFrag := fragOffset & 0x1FFF
	if moreFragments {
		flagsFrag |= 0x2000
	}
	b[6] = byte(flagsFrag >> 8)
	b[7] = byte(flagsFrag)
	b[9] = proto
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	return b
}

func TestParseIPv4Header(t *testing.T) {
	b := ipv4Packet(t, 40, 0xBEEF, true, 185, tcpProtocol, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	ip, err := parseIPv4Header(b)
	require.NoError(t, err)
	assert.Equal(t, 20, ip.HeaderLen)
	assert.Equal(t, 40, ip.TotalLen)
	assert.Equal(t, uint16(0xBEEF), ip.ID)
	assert.True(t, ip.MoreFragments)
	assert.Equal(t, 185, ip.FragOffset)
	assert.Equal(t, byte(tcpProtocol), ip.Protocol)
	assert.True(t, ip.SrcIP.Equal(net.IPv4(10, 0, 0, 1)))
	assert.True(t, ip.DstIP.Equal(net.IPv4(10, 0, 0, 2)))
}

func TestParseIPv4HeaderRejectsBadVersion(t *testing.T) {
	b := ipv4Packet(t, 40, 1, false, 0, tcpProtocol, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2})
	b[0] = 0x65 // version 6
	_, err := parseIPv4Header(b)
	assert.Error(t, err)
}

func TestParseIPv4HeaderRejectsShort(t *testing.T) {
	_, err := parseIPv4Header(make([]byte, 10))
	assert.Error(t, err)
}

func tcpPacket(t *testing.T, srcPort, dstPort uint16, seq uint32, syn, fin, rst bool) []byte {
	t.Helper()
	b := make([]byte, 20)
	b[0], b[1] = byte(srcPort>>8), byte(srcPort)
	b[2], b[3] = byte(dstPort>>8), byte(dstPort)
	b[4], b[5], b[6], b[7] = byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq)
	b[12] = 5 << 4 // data offset 20 bytes
	var flags byte
	if fin {
		flags |= 0x01
	}
	if syn {
		flags |= 0x02
	}
	if rst {
		flags |= 0x04
	}
	b[13] = flags
	return b
}

func TestParseTCPHeader(t *testing.T) {
	b := tcpPacket(t, 3306, 55000, 12345, true, false, false)
	tcp, err := parseTCPHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(3306), tcp.SrcPort)
	assert.Equal(t, uint16(55000), tcp.DstPort)
	assert.Equal(t, uint32(12345), tcp.Seq)
	assert.Equal(t, 20, tcp.DataOff)
	assert.True(t, tcp.SYN)
	assert.False(t, tcp.FIN)
	assert.False(t, tcp.RST)
}

func TestParseTCPHeaderRejectsShort(t *testing.T) {
	_, err := parseTCPHeader(make([]byte, 8))
	assert.Error(t, err)
}

func TestStreamKeySymmetricAcrossPorts(t *testing.T) {
	k1 := streamKey(net.IPv4(10, 0, 0, 5), 40001)
	k2 := streamKey(net.IPv4(10, 0, 0, 5), 40002)
	assert.NotEqual(t, k1, k2)

	k1again := streamKey(net.IPv4(10, 0, 0, 5), 40001)
	assert.Equal(t, k1, k1again)
}

func TestStreamKeyFallsBackForNonIPv4(t *testing.T) {
	k := streamKey(net.ParseIP("::1"), 1234)
	assert.Equal(t, uint64(1234), k)
}
