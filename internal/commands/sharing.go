// Package commands implements device-level command flows on top of the
// handshake engine: connection sharing (pair, lock, release), screen
// interaction, and program uploads.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

var (
	// ErrLockTimeout means the exclusivity lease could not be acquired
	// before the requested timeout elapsed.
	ErrLockTimeout = errors.New("connection lock timed out")

	// ErrIncorrectPin means the brain rejected the Bluetooth pairing PIN.
	ErrIncorrectPin = errors.New("incorrect bluetooth pin")

	// ErrPinRequired means a Bluetooth connection was negotiated but no PIN
	// was supplied to authenticate it.
	ErrPinRequired = errors.New("bluetooth connection requires a pin")

	// ErrNotConnected means no physical connection could be negotiated.
	ErrNotConnected = errors.New("no connection to the brain")

	// ErrDisallowedConnection means the daemon negotiated a link type the
	// request did not allow.
	ErrDisallowedConnection = errors.New("negotiated connection type not allowed")
)

// unboundedWait stands in for "no timeout" when a lease was requested with
// timeout 0.
const unboundedWait = 100 * 24 * time.Hour

// StartOptions configures StartConnection.
type StartOptions struct {
	// LockTimeoutMS is the lease timeout in milliseconds; 0 means unbounded.
	LockTimeoutMS uint32
	// AllowedTypes lists acceptable physical link types.
	AllowedTypes protocol.ConnectionTypes
	// BluetoothPin authenticates a negotiated Bluetooth link, if any.
	BluetoothPin *[4]byte
}

// StartConnection brings a shared connection into the Connected+Locked
// state: it probes the current status, negotiates a physical connection if
// there is none, authenticates Bluetooth with the PIN, and finally acquires
// the exclusivity lease.
func StartConnection(ctx context.Context, conn transport.Connection, opts StartOptions) error {
	// A short single-attempt probe: if we are already connected, skip
	// straight to locking.
	reply, err := transport.Handshake(ctx, conn, 100*time.Millisecond, 1,
		protocol.NewConnectionTypeRequest(), protocol.SigConnectionType)
	if err != nil {
		return fmt.Errorf("connection status probe: %w", err)
	}
	if err := reply.Check(); err != nil {
		return err
	}
	status, err := protocol.DecodeConnectedType(reply.Payload)
	if err != nil {
		return err
	}

	if status == protocol.NoConnection {
		reply, err := transport.Handshake(ctx, conn, 5*time.Second, 3,
			protocol.NewConnectRequest(opts.AllowedTypes), protocol.SigConnectRequest)
		if err != nil {
			return fmt.Errorf("connection request: %w", err)
		}
		if err := reply.Check(); err != nil {
			return err
		}
		negotiated, err := protocol.DecodeConnectedType(reply.Payload)
		if err != nil {
			return err
		}
		logrus.WithField("type", negotiated.String()).Debug("negotiated connection")

		if negotiated == protocol.NoConnection {
			return ErrNotConnected
		}
		if !opts.AllowedTypes.Allows(negotiated) {
			return fmt.Errorf("%w: got %s", ErrDisallowedConnection, negotiated)
		}
		if negotiated == protocol.ConnectedBluetooth {
			if opts.BluetoothPin == nil {
				return ErrPinRequired
			}
			if err := exchangePin(ctx, conn, *opts.BluetoothPin); err != nil {
				return err
			}
		}
	}

	return LockConnection(ctx, conn, opts.LockTimeoutMS)
}

func exchangePin(ctx context.Context, conn transport.Connection, pin [4]byte) error {
	reply, err := transport.Handshake(ctx, conn, 100*time.Millisecond, 1,
		protocol.NewBluetoothPin(pin), protocol.SigBluetoothPin)
	if err != nil {
		return fmt.Errorf("pin exchange: %w", err)
	}
	if err := reply.Check(); err != nil {
		return err
	}
	result, err := protocol.DecodePinResult(reply.Payload)
	if err != nil {
		return err
	}
	if result != protocol.PinSuccess {
		return ErrIncorrectPin
	}
	return nil
}

// LockConnection acquires the exclusivity lease on the shared connection.
// timeoutMS bounds both the lease itself and how long we are willing to wait
// for a competing holder; 0 means unbounded. A LockTimeout reply surfaces as
// ErrLockTimeout and is never retried here.
func LockConnection(ctx context.Context, conn transport.Connection, timeoutMS uint32) error {
	wait := unboundedWait
	if timeoutMS > 0 {
		// The daemon waits the full timeout before answering LockTimeout;
		// leave room for that reply to arrive.
		wait = time.Duration(timeoutMS)*time.Millisecond + 250*time.Millisecond
	}
	reply, err := transport.Handshake(ctx, conn, wait, 1,
		protocol.NewLock(timeoutMS), protocol.SigConnectionLock)
	if err != nil {
		return fmt.Errorf("lock connection: %w", err)
	}
	if err := reply.Check(); err != nil {
		return err
	}
	result, err := protocol.DecodeLockResult(reply.Payload)
	if err != nil {
		return err
	}
	if result == protocol.LockTimeout {
		return ErrLockTimeout
	}
	return nil
}

// ReleaseConnection gives the lease back. The reply is not interpreted
// beyond the transport exchange succeeding.
func ReleaseConnection(ctx context.Context, conn transport.Connection) error {
	_, err := transport.Handshake(ctx, conn, 100*time.Millisecond, 1,
		protocol.NewUnlock(), protocol.SigConnectionLock)
	if err != nil {
		return fmt.Errorf("release connection: %w", err)
	}
	return nil
}
