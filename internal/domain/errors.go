package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateOrder    = errors.New("duplicate order id")
	ErrNotFound          = errors.New("not found")
	ErrOverFill          = errors.New("quantity exceeds remaining")
	ErrFifoViolation     = errors.New("order is not at the head of its queue")
	ErrUnrecognizedEvent = errors.New("unrecognized event type")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrTruncated         = errors.New("record truncated")
	ErrQuantityRange     = errors.New("quantity out of range")
)

// IsIntegrity reports whether err means the reconstructed book no longer
// matches the exchange and the owning session must stop.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrDuplicateOrder) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOverFill) ||
		errors.Is(err, ErrFifoViolation) ||
		errors.Is(err, ErrUnknownInstrument)
}

// SessionError locates a fatal error inside a feed session.
type SessionError struct {
	Session string
	PktSeq  uint64
	MsgSeq  uint64
	MsgType uint8
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: pkt %d msg %d type 0x%02X: %v",
		e.Session, e.PktSeq, e.MsgSeq, e.MsgType, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
