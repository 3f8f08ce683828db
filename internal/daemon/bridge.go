package daemon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

// forwardTimeout bounds how long a bridged device exchange may take. Bridge
// clients run their own handshake retry loops on top.
const forwardTimeout = 2 * time.Second

// runBridge serves a raw packet session: the client speaks the device wire
// protocol over the unix socket. Sharing sub-protocol commands are answered
// by the daemon itself; everything else is forwarded to the brain under the
// device lock, with the reply relayed back.
func (s *session) runBridge(ctx context.Context, r *bufio.Reader) {
	s.log.Debug("serving packet bridge session")
	for {
		frame, err := protocol.ReadFrame(r, protocol.DeviceBoundHeader)
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidHeader) {
				s.log.WithError(err).Warn("skipping packet with invalid header")
				continue
			}
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Error("bridge read failed")
			}
			return
		}
		cmd, err := protocol.DecodeCommand(frame)
		if err != nil {
			s.log.WithError(err).Warn("dropping undecodable bridge packet")
			continue
		}

		var reply *protocol.Cdc2Reply
		if cmd.Command == protocol.DaemonCdc {
			reply = s.serveSharing(ctx, cmd)
		} else {
			reply = s.forward(ctx, cmd)
		}
		if reply == nil {
			// No reply within the forward timeout; the client's own
			// handshake timeout covers this.
			continue
		}
		out, err := reply.Encode()
		if err != nil {
			s.log.WithError(err).Error("failed to encode bridge reply")
			continue
		}
		if _, err := s.conn.Write(out); err != nil {
			s.log.WithError(err).Error("bridge write failed")
			return
		}
	}
}

// serveSharing answers the daemon's own command class.
func (s *session) serveSharing(ctx context.Context, cmd *protocol.Cdc2Command) *protocol.Cdc2Reply {
	d := s.daemon
	switch cmd.ExtCommand {
	case protocol.ExtConnectionType:
		return protocol.NewConnectedTypeReply(protocol.ExtConnectionType, d.connectedType())

	case protocol.ExtConnectRequest:
		allowed, err := protocol.DecodeConnectRequest(cmd.Payload)
		if err != nil {
			s.log.WithError(err).Warn("bad connect request")
			return protocol.NewConnectedTypeReply(protocol.ExtConnectRequest, protocol.NoConnection)
		}
		current := d.connectedType()
		if allowed.Allows(current) {
			return protocol.NewConnectedTypeReply(protocol.ExtConnectRequest, current)
		}
		if err := d.reconnectAs(ctx, modeFor(allowed)); err != nil {
			s.log.WithError(err).Error("connect request failed")
			return protocol.NewConnectedTypeReply(protocol.ExtConnectRequest, protocol.NoConnection)
		}
		// Never hand back a link type the request excluded.
		if current := d.connectedType(); allowed.Allows(current) {
			return protocol.NewConnectedTypeReply(protocol.ExtConnectRequest, current)
		}
		return protocol.NewConnectedTypeReply(protocol.ExtConnectRequest, protocol.NoConnection)

	case protocol.ExtBluetoothPin:
		pin, err := protocol.DecodeBluetoothPin(cmd.Payload)
		if err != nil {
			return protocol.NewPinResultReply(protocol.IncorrectPin)
		}
		err = s.withDevice(ctx, func(conn transport.Connection) error {
			pairer, ok := conn.(transport.Pairer)
			if !ok {
				return errors.New("not a bluetooth connection")
			}
			return pairer.SubmitPin(ctx, pin)
		})
		if err != nil {
			s.log.WithError(err).Warn("pin exchange failed")
			return protocol.NewPinResultReply(protocol.IncorrectPin)
		}
		return protocol.NewPinResultReply(protocol.PinSuccess)

	case protocol.ExtConnectionLock:
		action, err := protocol.DecodeLockAction(cmd.Payload)
		if err != nil {
			s.log.WithError(err).Warn("bad lock action")
			return protocol.NewLockReply(protocol.LockTimeout)
		}
		if action.Unlock {
			d.leases.Release(s.id)
			return protocol.NewLockReply(protocol.LockSuccess)
		}
		return protocol.NewLockReply(d.leases.Acquire(ctx, s.id, action.TimeoutMS))

	default:
		s.log.WithField("ext", cmd.ExtCommand).Warn("unknown sharing command")
		return &protocol.Cdc2Reply{
			Command:    protocol.DaemonCdc,
			ExtCommand: cmd.ExtCommand,
			Ack:        protocol.NackGeneral,
		}
	}
}

// forward relays one device-bound command to the brain and returns its
// reply, or nil on timeout.
func (s *session) forward(ctx context.Context, cmd *protocol.Cdc2Command) *protocol.Cdc2Reply {
	var reply *protocol.Cdc2Reply
	err := s.withDevice(ctx, func(conn transport.Connection) error {
		if err := conn.SendPacket(ctx, cmd); err != nil {
			return err
		}
		var err error
		reply, err = conn.ReceivePacket(ctx, cmd.Sig(), forwardTimeout)
		return err
	})
	if err != nil {
		if !errors.Is(err, transport.ErrTimeout) {
			s.log.WithError(err).Error("bridge forward failed")
		}
		return nil
	}
	return reply
}

// connectedType maps the brain's transport kind onto the sharing protocol's
// ConnectedType.
func (d *Daemon) connectedType() protocol.ConnectedType {
	switch d.brain.Kind() {
	case transport.KindSerial:
		return protocol.ConnectedSerial
	case transport.KindBluetooth:
		return protocol.ConnectedBluetooth
	default:
		return protocol.NoConnection
	}
}

// modeFor maps a connect request's type bitflags onto a transport setup
// mode, so a renegotiation can only produce a link the client accepts.
func modeFor(allowed protocol.ConnectionTypes) transport.Mode {
	switch {
	case allowed.Has(protocol.ConnectionSerial | protocol.ConnectionBluetooth):
		return transport.ModeAuto
	case allowed.Has(protocol.ConnectionBluetooth):
		return transport.ModeBluetooth
	default:
		return transport.ModeSerial
	}
}
