// Package feedtest builds PITCH units and network frames for tests.
package feedtest

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

var le = binary.LittleEndian

func msg(t byte, n int) []byte {
	b := make([]byte, n)
	b[0] = byte(n)
	b[1] = t
	return b
}

func putSymbol(b []byte, s string) {
	sym := domain.ParseSymbol(s)
	copy(b, sym[:])
}

// Unit wraps msgs in a sequenced unit header.
func Unit(unit uint8, seq uint32, msgs ...[]byte) []byte {
	n := 8
	for _, m := range msgs {
		n += len(m)
	}
	b := make([]byte, 8, n)
	le.PutUint16(b[0:], uint16(n))
	b[2] = byte(len(msgs))
	b[3] = unit
	le.PutUint32(b[4:], seq)
	for _, m := range msgs {
		b = append(b, m...)
	}
	return b
}

func Time(seconds, epoch uint32) []byte {
	b := msg(0x20, 10)
	le.PutUint32(b[2:], seconds)
	le.PutUint32(b[6:], epoch)
	return b
}

func TimeReference(midnight, tradeDate uint32) []byte {
	b := msg(0xB1, 18)
	le.PutUint32(b[2:], midnight)
	le.PutUint32(b[14:], tradeDate)
	return b
}

func AddShort(offset uint32, id uint64, side byte, qty uint16, symbol string, price int16) []byte {
	b := msg(0x22, 25)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	b[14] = side
	le.PutUint16(b[15:], qty)
	putSymbol(b[17:23], symbol)
	le.PutUint16(b[23:], uint16(price))
	return b
}

// AddLong takes the wire price with four implied decimals.
func AddLong(offset uint32, id uint64, side byte, qty uint32, symbol string, price int64) []byte {
	b := msg(0x21, 33)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	b[14] = side
	le.PutUint32(b[15:], qty)
	putSymbol(b[19:25], symbol)
	le.PutUint64(b[25:], uint64(price))
	return b
}

func Executed(offset uint32, id uint64, qty uint32) []byte {
	b := msg(0x23, 27)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	le.PutUint32(b[14:], qty)
	le.PutUint64(b[18:], id+1_000_000)
	return b
}

func ReduceShort(offset uint32, id uint64, qty uint16) []byte {
	b := msg(0x26, 16)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	le.PutUint16(b[14:], qty)
	return b
}

func ReduceLong(offset uint32, id uint64, qty uint32) []byte {
	b := msg(0x25, 18)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	le.PutUint32(b[14:], qty)
	return b
}

func ModifyShort(offset uint32, id uint64, qty uint16, price int16) []byte {
	b := msg(0x28, 18)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	le.PutUint16(b[14:], qty)
	le.PutUint16(b[16:], uint16(price))
	return b
}

func ModifyLong(offset uint32, id uint64, qty uint32, price int64) []byte {
	b := msg(0x27, 26)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	le.PutUint32(b[14:], qty)
	le.PutUint64(b[18:], uint64(price))
	return b
}

func Delete(offset uint32, id uint64) []byte {
	b := msg(0x29, 14)
	le.PutUint32(b[2:], offset)
	le.PutUint64(b[6:], id)
	return b
}

func Status(symbol string, status byte) []byte {
	b := msg(0x31, 15)
	putSymbol(b[6:12], symbol)
	b[14] = status
	return b
}

// Instrument builds a futures instrument definition. tick has four implied
// decimals. Legs follow the fixed part.
func Instrument(symbol, report string, expiration uint32, contractSize uint16, tick int64, legs ...domain.Leg) []byte {
	const fixed = 38
	b := msg(0xBB, fixed+10*len(legs))
	putSymbol(b[6:12], symbol)
	b[12] = 1
	putSymbol(b[14:20], report)
	le.PutUint32(b[21:], expiration)
	le.PutUint16(b[25:], contractSize)
	b[27] = 'A'
	le.PutUint64(b[28:], uint64(tick))
	b[36] = byte(len(legs))
	if len(legs) > 0 {
		b[37] = fixed
	}
	for i, l := range legs {
		off := fixed + 10*i
		le.PutUint32(b[off:], uint32(l.Ratio))
		copy(b[off+4:off+10], l.Symbol[:])
	}
	return b
}

// Other builds a message of a type with no decoded fields.
func Other(t byte, n int) []byte { return msg(t, n) }

// Frame wraps a PITCH payload in Ethernet, IPv4 and UDP headers.
func Frame(payload []byte) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(233, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: 30001, DstPort: 30001}
	_ = udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
