package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
)

// streamConn implements the packet half of Connection over any byte stream.
// A background reader goroutine frames the inbound stream into the private
// packet buffer; ReceivePacket waits on the buffer with a timeout. This
// keeps exactly one reader on the stream no matter how many receives time
// out and are abandoned.
type streamConn struct {
	kind Kind
	log  *logrus.Entry

	writeMu sync.Mutex
	w       io.Writer

	buf      packetBuffer
	notifyMu sync.Mutex
	notify   chan struct{} // closed and replaced on every push: a broadcast to all waiting receivers

	closer io.Closer
	done   chan struct{}
	once   sync.Once

	errMu   sync.Mutex
	readErr error
}

func newStreamConn(kind Kind, rw io.ReadWriteCloser) *streamConn {
	s := &streamConn{
		kind:   kind,
		log:    logrus.WithField("transport", kind.String()),
		w:      rw,
		notify: make(chan struct{}),
		closer: rw,
		done:   make(chan struct{}),
	}
	go s.readLoop(bufio.NewReader(rw))
	return s
}

// readLoop reads one framed packet at a time into the buffer. Bytes with a
// bad direction header are logged and skipped; anything else fatal to the
// stream ends the loop and fails all pending receives.
func (s *streamConn) readLoop(r *bufio.Reader) {
	for {
		frame, err := protocol.ReadFrame(r, protocol.HostBoundHeader)
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidHeader) {
				s.log.WithError(err).Warn("skipping packet with invalid header")
				continue
			}
			s.errMu.Lock()
			s.readErr = err
			s.errMu.Unlock()
			s.once.Do(func() { close(s.done) })
			return
		}
		s.log.WithField("frame", fmt.Sprintf("% x", frame)).Trace("received packet")
		s.buf.Push(frame)
		s.notifyMu.Lock()
		close(s.notify)
		s.notify = make(chan struct{})
		s.notifyMu.Unlock()
	}
}

func (s *streamConn) Kind() Kind { return s.kind }

func (s *streamConn) SendPacket(ctx context.Context, pkt protocol.Encoder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := pkt.Encode()
	if err != nil {
		return err
	}
	s.log.WithField("frame", fmt.Sprintf("% x", frame)).Trace("sending packet")
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return s.failure()
	default:
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

func (s *streamConn) ReceivePacket(ctx context.Context, sig protocol.Sig, timeout time.Duration) (*protocol.Cdc2Reply, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		// Snapshot the broadcast channel before matching so a push between
		// the miss and the wait still wakes us.
		s.notifyMu.Lock()
		arrived := s.notify
		s.notifyMu.Unlock()

		reply, ok, err := s.buf.Match(sig)
		if ok {
			return reply, err
		}
		select {
		case <-arrived:
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, s.failure()
		}
	}
}

// failure returns the stored read error, or ErrClosed if the stream ended
// without one.
func (s *streamConn) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	return ErrClosed
}

// User-channel I/O is carried in user FIFO packets over the same link.
// The Bluetooth connection overrides this with its dedicated characteristics.

const maxUserChunk = 224

func (s *streamConn) WriteUser(ctx context.Context, p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxUserChunk {
			chunk = chunk[:maxUserChunk]
		}
		reply, err := Handshake(ctx, s, time.Second, 1, protocol.NewUserWrite(chunk), protocol.SigUserFifo)
		if err != nil {
			return written, err
		}
		if err := reply.Check(); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (s *streamConn) ReadUser(ctx context.Context, p []byte) (int, error) {
	n := len(p)
	if n > maxUserChunk {
		n = maxUserChunk
	}
	reply, err := Handshake(ctx, s, time.Second, 1, protocol.NewUserRead(byte(n)), protocol.SigUserFifo)
	if err != nil {
		return 0, err
	}
	if err := reply.Check(); err != nil {
		return 0, err
	}
	return copy(p, reply.Payload), nil
}

func (s *streamConn) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.closer.Close()
}
