// Package transport provides connections to a V5 brain. Serial, Bluetooth
// and daemon-bridge connections share one capability surface: send a typed
// packet, receive a typed packet within a timeout, and raw user-channel I/O.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/vexide/v5ctl/internal/protocol"
)

// Kind identifies which physical (or bridged) link a connection uses.
type Kind int

const (
	KindSerial Kind = iota
	KindBluetooth
	KindDaemon
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindBluetooth:
		return "bluetooth"
	case KindDaemon:
		return "daemon"
	default:
		return "unknown"
	}
}

// ErrTimeout means no matching packet arrived within the caller's deadline.
// It is distinct from protocol errors so callers can decide to retry.
var ErrTimeout = errors.New("timed out waiting for packet")

// ErrClosed means the connection is no longer usable.
var ErrClosed = errors.New("connection closed")

// Connection is a link over which V5 packets can be exchanged. All
// implementations own a private incoming packet buffer; the buffer is never
// shared between connections.
type Connection interface {
	// Kind reports which transport variant this connection is.
	Kind() Kind

	// SendPacket encodes and writes one packet.
	SendPacket(ctx context.Context, pkt protocol.Encoder) error

	// ReceivePacket returns the first buffered packet matching sig, reading
	// more framed packets off the link as needed. It fails with ErrTimeout
	// once the timeout elapses. A header-matched packet that fails to decode
	// is consumed and the decode error returned.
	ReceivePacket(ctx context.Context, sig protocol.Sig, timeout time.Duration) (*protocol.Cdc2Reply, error)

	// ReadUser reads bytes from the user program's serial channel.
	ReadUser(ctx context.Context, p []byte) (int, error)

	// WriteUser writes bytes to the user program's serial channel.
	WriteUser(ctx context.Context, p []byte) (int, error)

	Close() error
}

// Pairer is implemented by connections that support Bluetooth pairing.
type Pairer interface {
	// RequestPairing makes the brain display a 4-digit PIN.
	RequestPairing(ctx context.Context) error
	// SubmitPin authenticates with the digits shown on the brain.
	SubmitPin(ctx context.Context, pin [4]byte) error
}
