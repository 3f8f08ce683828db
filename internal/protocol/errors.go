package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader marks bytes whose direction header does not match the
	// expected constant. This is noise on the wire, not a broken connection;
	// callers should skip the bytes and resync.
	ErrInvalidHeader = errors.New("invalid packet header")

	// ErrPacketTooShort means a declared length did not match the bytes
	// actually present.
	ErrPacketTooShort = errors.New("packet too short")
)

// UnexpectedValueError reports an enumerated byte outside its known value set.
type UnexpectedValueError struct {
	Value    byte
	Expected string
}

func (e *UnexpectedValueError) Error() string {
	return fmt.Sprintf("unexpected value 0x%02x (expected %s)", e.Value, e.Expected)
}

// NackError is a semantic rejection from the device. It decodes successfully
// at the wire level and is returned to callers as data, never retried by the
// handshake engine.
type NackError struct {
	Ack AckCode
}

func (e *NackError) Error() string {
	return fmt.Sprintf("device NACK: %s", e.Ack)
}
