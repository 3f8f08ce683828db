// Package daemon implements v5d: the process that owns the single physical
// connection to a V5 brain and shares it between local client processes over
// a unix socket. Clients speak either newline-delimited JSON commands or the
// raw packet bridge; the daemon serializes everything onto the one
// connection.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/transport"
)

// ErrDaemonRunning means another live daemon already owns the socket path.
var ErrDaemonRunning = errors.New("another v5d instance is already running")

// Config holds daemon configuration.
type Config struct {
	SocketPath string
	Mode       transport.Mode
}

// Daemon owns the shared brain connection and the IPC listener.
type Daemon struct {
	cfg    Config
	ln     net.Listener
	brain  *Brain
	leases leaseTable
	setup  func(context.Context, transport.Mode) (transport.Connection, error)

	cancel context.CancelFunc
	nextID atomic.Uint64
}

// Start negotiates the initial brain connection (retrying with backoff until
// one exists) and binds the IPC socket.
func Start(ctx context.Context, cfg Config) (*Daemon, error) {
	conn, err := transport.Setup(ctx, cfg.Mode)
	if err != nil {
		return nil, err
	}
	d, err := New(cfg, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// New builds a daemon around an already established connection and binds the
// IPC socket.
func New(cfg Config, conn transport.Connection) (*Daemon, error) {
	if err := claimSocket(cfg.SocketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.SocketPath, err)
	}
	return &Daemon{cfg: cfg, ln: ln, brain: NewBrain(conn), setup: transport.Setup}, nil
}

// claimSocket clears a stale socket file left by a crashed daemon, but
// refuses to steal the path from a live one.
func claimSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if probe, err := net.Dial("unix", path); err == nil {
		probe.Close()
		return ErrDaemonRunning
	}
	logrus.WithField("socket", path).Warn("removing stale daemon socket")
	return os.Remove(path)
}

// Run accepts IPC sessions until the context is cancelled or Shutdown is
// called. On exit the socket file is removed: a leftover socket would block
// the next daemon start.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	go func() {
		<-ctx.Done()
		d.ln.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"socket":    d.cfg.SocketPath,
		"transport": d.brain.Kind().String(),
	}).Info("v5d listening")

	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.cleanup()
				return nil
			}
			logrus.WithError(err).Error("failed to accept connection")
			continue
		}
		id := fmt.Sprintf("session-%d", d.nextID.Add(1))
		go d.handleSession(ctx, id, conn)
	}
}

// Shutdown stops the accept loop. Safe to call from any session goroutine.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) cleanup() {
	os.Remove(d.cfg.SocketPath)
	d.brain.Close()
	logrus.Info("v5d stopped")
}

// reconnect replaces the shared connection using the daemon's configured
// mode. The swap holds the device lock for its entire duration, so it
// serializes behind any in-flight command.
func (d *Daemon) reconnect(ctx context.Context) error {
	return d.reconnectAs(ctx, d.cfg.Mode)
}

// reconnectAs replaces the shared connection with one negotiated in the
// given mode; bridge connect requests use it to honor their type bitflags.
func (d *Daemon) reconnectAs(ctx context.Context, mode transport.Mode) error {
	logrus.WithField("mode", mode.String()).Info("reconnecting to brain")
	return d.brain.Swap(ctx, func(ctx context.Context) (transport.Connection, error) {
		return d.setup(ctx, mode)
	})
}
