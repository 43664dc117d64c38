package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Field numbers of the binary BBO record.
const (
	fieldStamp    protowire.Number = 1
	fieldPktSeq   protowire.Number = 2
	fieldMsgSeq   protowire.Number = 3
	fieldTag      protowire.Number = 4
	fieldSymbol   protowire.Number = 5
	fieldBidPrice protowire.Number = 6
	fieldBidQty   protowire.Number = 7
	fieldAskPrice protowire.Number = 8
	fieldAskQty   protowire.Number = 9
	fieldStatus   protowire.Number = 10
	fieldAt       protowire.Number = 11
	fieldSession  protowire.Number = 12
)

var ErrBadRecord = errors.New("malformed bbo record")

// AppendUpdate appends the protobuf wire encoding of u to b.
func AppendUpdate(b []byte, u domain.BBOUpdate) []byte {
	b = appendString(b, fieldSession, u.Session)
	b = appendString(b, fieldStamp, u.Stamp)
	b = appendVarint(b, fieldPktSeq, u.PktSeq)
	b = appendVarint(b, fieldMsgSeq, u.MsgSeq)
	b = appendVarint(b, fieldTag, uint64(u.Tag))
	b = appendString(b, fieldSymbol, u.Symbol)
	b = appendVarint(b, fieldBidPrice, protowire.EncodeZigZag(int64(u.BidPrice)))
	b = appendVarint(b, fieldBidQty, u.BidQty)
	b = appendVarint(b, fieldAskPrice, protowire.EncodeZigZag(int64(u.AskPrice)))
	b = appendVarint(b, fieldAskQty, u.AskQty)
	b = appendVarint(b, fieldStatus, uint64(u.Status))
	if !u.At.IsZero() {
		b = appendVarint(b, fieldAt, uint64(u.At.UnixNano()))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeUpdate parses one record produced by AppendUpdate. Unknown fields
// are skipped.
func DecodeUpdate(b []byte) (domain.BBOUpdate, error) {
	var u domain.BBOUpdate
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, fmt.Errorf("%w: %v", ErrBadRecord, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return u, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldPktSeq:
				u.PktSeq = v
			case fieldMsgSeq:
				u.MsgSeq = v
			case fieldTag:
				u.Tag = domain.EventTag(v)
			case fieldBidPrice:
				u.BidPrice = domain.Price(protowire.DecodeZigZag(v))
			case fieldBidQty:
				u.BidQty = v
			case fieldAskPrice:
				u.AskPrice = domain.Price(protowire.DecodeZigZag(v))
			case fieldAskQty:
				u.AskQty = v
			case fieldStatus:
				u.Status = domain.TradingStatus(v)
			case fieldAt:
				u.At = time.Unix(0, int64(v)).UTC()
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return u, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldStamp:
				u.Stamp = v
			case fieldSymbol:
				u.Symbol = v
			case fieldSession:
				u.Session = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u, fmt.Errorf("%w: field %d: %v", ErrBadRecord, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return u, nil
}

// BinaryWriter writes varint length-delimited BBO records.
type BinaryWriter struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	buf  []byte
}

func NewBinaryWriter(dir, session string) (*BinaryWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("binary: %w", err)
	}
	path := filepath.Join(dir, "bbo-"+session+".bin")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("binary: %w", err)
	}
	return &BinaryWriter{path: path, f: f, bw: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (w *BinaryWriter) Write(u domain.BBOUpdate) error {
	w.buf = AppendUpdate(w.buf[:0], u)
	var hdr [binaryMaxVarint]byte
	if _, err := w.bw.Write(protowire.AppendVarint(hdr[:0], uint64(len(w.buf)))); err != nil {
		return fmt.Errorf("binary: %w", err)
	}
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("binary: %w", err)
	}
	return nil
}

const binaryMaxVarint = 10

func (w *BinaryWriter) Path() string { return w.path }

func (w *BinaryWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("binary: flush: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("binary: close: %w", err)
	}
	return nil
}

// BinaryReader reads records written by BinaryWriter.
type BinaryReader struct {
	r   *bufio.Reader
	buf []byte
}

func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of stream.
func (r *BinaryReader) Next() (domain.BBOUpdate, error) {
	size, err := readUvarint(r.r)
	if err != nil {
		return domain.BBOUpdate{}, err
	}
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return domain.BBOUpdate{}, fmt.Errorf("%w: body: %v", ErrBadRecord, err)
	}
	return DecodeUpdate(r.buf)
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	var hdr []byte
	for i := 0; i < binaryMaxVarint; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, fmt.Errorf("%w: length: %v", ErrBadRecord, io.ErrUnexpectedEOF)
			}
			return 0, err
		}
		hdr = append(hdr, c)
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(hdr)
			if n < 0 {
				return 0, fmt.Errorf("%w: length: %v", ErrBadRecord, protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: length overflows", ErrBadRecord)
}
