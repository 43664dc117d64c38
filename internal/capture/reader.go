// Package capture reads PITCH transport units out of packet captures and
// splits multi-day captures into per-session files.
package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultPayloadOffset is the Ethernet, IPv4 and UDP header length of a
// plain capture. It is used when the layers cannot be decoded.
const DefaultPayloadOffset = 42

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// Packet is one captured frame and the PITCH payload inside it. Payload is
// nil when the frame is too short to carry one.
type Packet struct {
	Data    []byte
	Info    gopacket.CaptureInfo
	Payload []byte
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader yields UDP payloads from a pcap or pcapng stream.
type Reader struct {
	src       packetSource
	closer    io.Closer
	offset    int
	packets   uint64
	truncated bool
	logger    *slog.Logger

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	udp     layers.UDP
	decoded []gopacket.LayerType
}

// Open opens a capture file. offset <= 0 selects DefaultPayloadOffset.
func Open(path string, offset int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	r, err := NewReader(bufio.NewReaderSize(f, 1<<20), offset)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: %s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads a capture from r, detecting pcap or pcapng by magic.
func NewReader(r io.Reader, offset int) (*Reader, error) {
	if offset <= 0 {
		offset = DefaultPayloadOffset
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	var src packetSource
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("pcapng header: %w", err)
		}
		src = ng
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("pcap header: %w", err)
		}
		src = pr
	}

	rd := &Reader{src: src, offset: offset, logger: slog.Default()}
	rd.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &rd.eth, &rd.ip4, &rd.udp)
	rd.parser.IgnoreUnsupported = true
	return rd, nil
}

// LinkType returns the capture's link-layer type.
func (r *Reader) LinkType() layers.LinkType { return r.src.LinkType() }

// SetLogger replaces the logger used for capture warnings.
func (r *Reader) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Packets returns the number of frames read so far.
func (r *Reader) Packets() uint64 { return r.packets }

// Truncated reports whether the capture ended inside a packet record.
func (r *Reader) Truncated() bool { return r.truncated }

// ReadPacket returns the next frame. It returns io.EOF at the end of the
// capture, including a capture cut off mid-record; Truncated tells the two
// apart.
func (r *Reader) ReadPacket() (Packet, error) {
	data, ci, err := r.src.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if !r.truncated {
				r.truncated = true
				r.logger.Warn("capture: truncated packet record, stopping",
					slog.Uint64("packet", r.packets+1),
					slog.String("error", err.Error()),
				)
			}
			return Packet{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Packet{}, io.EOF
		}
		return Packet{}, fmt.Errorf("capture: packet %d: %w", r.packets+1, err)
	}
	r.packets++
	return Packet{Data: data, Info: ci, Payload: r.payload(data)}, nil
}

// Next returns the next UDP payload and its capture timestamp. Frames without
// a payload are skipped.
func (r *Reader) Next() ([]byte, time.Time, error) {
	for {
		p, err := r.ReadPacket()
		if err != nil {
			return nil, time.Time{}, err
		}
		if p.Payload != nil {
			return p.Payload, p.Info.Timestamp, nil
		}
	}
}

func (r *Reader) payload(data []byte) []byte {
	if r.src.LinkType() == layers.LinkTypeEthernet {
		r.decoded = r.decoded[:0]
		_ = r.parser.DecodeLayers(data, &r.decoded)
		for _, lt := range r.decoded {
			if lt == layers.LayerTypeUDP {
				return r.udp.Payload
			}
		}
	}
	if len(data) <= r.offset {
		return nil
	}
	return data[r.offset:]
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
