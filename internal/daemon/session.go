package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/api"
	"github.com/vexide/v5ctl/internal/commands"
	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

// progressQueueSize bounds the handoff between the device-I/O goroutine and
// the session's response writer. Intermediate progress frames may be dropped
// when the client reads slowly; terminal frames never are.
const progressQueueSize = 32

type session struct {
	id     string
	daemon *Daemon
	conn   net.Conn
	log    *logrus.Entry
}

// handleSession serves one accepted IPC connection. The first byte decides
// the dialect: the device-bound packet header marks a raw bridge session,
// anything else is newline-delimited JSON.
func (d *Daemon) handleSession(ctx context.Context, id string, conn net.Conn) {
	s := &session{id: id, daemon: d, conn: conn, log: logrus.WithField("session", id)}
	s.log.Info("accepted connection from client")
	defer func() {
		d.leases.Release(id)
		conn.Close()
		s.log.Debug("session closed")
	}()

	r := bufio.NewReader(conn)
	first, err := r.Peek(1)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.WithError(err).Error("failed to read from client")
		}
		return
	}
	if first[0] == protocol.DeviceBoundHeader[0] {
		s.runBridge(ctx, r)
		return
	}
	s.runJSON(ctx, r)
}

// runJSON serves JSON command frames until the client disconnects. A frame
// that fails to parse closes this session only.
func (s *session) runJSON(ctx context.Context, r *bufio.Reader) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Error("failed to read command")
			}
			return
		}
		var req api.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.WithError(err).Error("malformed command, closing session")
			return
		}
		s.log.WithField("command", req.Command).Debug("received command")
		if err := s.dispatch(ctx, &req); err != nil {
			s.log.WithError(err).Error("failed to reply to client")
			return
		}
	}
}

// dispatch runs one command and writes its response frames. Device errors
// degrade to unsuccessful acknowledgments; only I/O errors on the client
// socket are returned.
func (s *session) dispatch(ctx context.Context, req *api.Request) error {
	switch req.Command {
	case api.CmdMockTap:
		if req.MockTap == nil {
			return s.ack(false, "missing mock_tap arguments")
		}
		err := s.withDevice(ctx, func(conn transport.Connection) error {
			return commands.MockTap(ctx, conn, req.MockTap.X, req.MockTap.Y)
		})
		return s.ackErr(err)

	case api.CmdUploadProgram:
		if req.Upload == nil {
			return s.ack(false, "missing upload arguments")
		}
		return s.upload(ctx, req.Upload)

	case api.CmdShutdown:
		s.log.Info("received shutdown command")
		if err := s.ack(true, ""); err != nil {
			return err
		}
		s.daemon.Shutdown()
		return nil

	case api.CmdReconnect:
		err := s.daemon.reconnect(ctx)
		if err != nil {
			s.log.WithError(err).Error("reconnect failed")
		}
		return s.ackErr(err)

	case api.CmdRequestPair:
		err := s.withDevice(ctx, func(conn transport.Connection) error {
			pairer, ok := conn.(transport.Pairer)
			if !ok {
				return errors.New("pairing requires a bluetooth connection")
			}
			return pairer.RequestPairing(ctx)
		})
		return s.ackErr(err)

	case api.CmdPairingPin:
		if req.PairingPin == nil {
			return s.ack(false, "missing pairing pin")
		}
		err := s.withDevice(ctx, func(conn transport.Connection) error {
			pairer, ok := conn.(transport.Pairer)
			if !ok {
				return errors.New("pairing requires a bluetooth connection")
			}
			return pairer.SubmitPin(ctx, *req.PairingPin)
		})
		return s.ackErr(err)

	default:
		return s.ack(false, "unknown command")
	}
}

// withDevice runs fn against the shared connection: wait out any competing
// lease, then hold the device lock for the duration of the exchange.
func (s *session) withDevice(ctx context.Context, fn func(transport.Connection) error) error {
	if err := s.daemon.leases.Gate(ctx, s.id); err != nil {
		return err
	}
	conn, release := s.daemon.brain.Acquire()
	defer release()
	return fn(conn)
}

func (s *session) ackErr(err error) error {
	if err != nil {
		return s.ack(false, err.Error())
	}
	return s.ack(true, "")
}

func (s *session) ack(successful bool, msg string) error {
	return s.writeResponse(&api.Response{
		Type:       api.RespAck,
		Successful: successful,
		Error:      msg,
	})
}

func (s *session) writeResponse(resp *api.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(append(data, '\n'))
	return err
}

// upload runs a streaming program upload. Progress callbacks fire from
// inside blocking device I/O, so they only enqueue frames; a dedicated
// writer goroutine drains the queue to the client socket. This keeps a slow
// client from stalling the transfer.
func (s *session) upload(ctx context.Context, req *api.UploadRequest) error {
	respCh := make(chan *api.Response, progressQueueSize)
	writerDone := make(chan error, 1)
	go func() {
		for resp := range respCh {
			if err := s.writeResponse(resp); err != nil {
				writerDone <- err
				// Drain so the producer never blocks on a dead client.
				for range respCh {
				}
				return
			}
		}
		writerDone <- nil
	}()

	progress := func(step commands.UploadStep, percent float64) {
		frame := &api.Response{
			Type:    api.RespProgress,
			Percent: percent,
			Step:    api.UploadStep(step),
		}
		// Never block device I/O on the client socket: drop intermediate
		// progress frames if the queue is full.
		select {
		case respCh <- frame:
		default:
		}
	}

	err := s.withDevice(ctx, func(conn transport.Connection) error {
		return commands.UploadProgram(ctx, conn, uploadOpts(req), progress)
	})

	terminal := &api.Response{Type: api.RespComplete}
	if err != nil {
		s.log.WithError(err).Error("program upload failed")
		terminal.Error = err.Error()
	}
	// The terminal frame must arrive; the device operation is already over,
	// so a blocking send is safe here.
	respCh <- terminal
	close(respCh)
	return <-writerDone
}

// uploadOpts maps an IPC upload request onto the device command layer.
// Slots stay 1-indexed here; the command layer owns the device conversion.
func uploadOpts(req *api.UploadRequest) commands.UploadOpts {
	after := protocol.ExitShowScreen
	switch req.AfterUpload {
	case api.AfterNothing:
		after = protocol.ExitNothing
	case api.AfterRun:
		after = protocol.ExitRun
	}
	return commands.UploadOpts{
		Name:        req.Name,
		Description: req.Description,
		Icon:        req.Icon,
		ProgramType: req.ProgramType,
		Slot:        req.Slot,
		Compress:    req.Compression,
		After:       after,
		Data: commands.ProgramData{
			Monolith: req.Data.Monolith,
			Hot:      req.Data.Hot,
			Cold:     req.Data.Cold,
		},
	}
}
