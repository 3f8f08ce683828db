package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/vexide/v5ctl/internal/transport"
)

// Brain owns the single shared physical connection. Every device exchange
// acquires the mutex first, so at most one command is in flight system-wide;
// a command dispatched during a reconnect keeps whichever connection it
// acquired.
type Brain struct {
	mu   sync.Mutex
	conn transport.Connection
}

func NewBrain(conn transport.Connection) *Brain {
	return &Brain{conn: conn}
}

// Acquire takes the device lock and returns the current connection plus a
// release func. The lock is held only while actually talking to the device,
// never while waiting on a slow client socket.
func (b *Brain) Acquire() (transport.Connection, func()) {
	b.mu.Lock()
	return b.conn, b.mu.Unlock
}

// Kind reports the current connection's kind without blocking behind an
// in-flight command for long.
func (b *Brain) Kind() transport.Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Kind()
}

// Swap replaces the shared connection with one produced by setup. The device
// lock is held for the entire swap: a reconnect must never interleave with an
// in-progress device command.
func (b *Brain) Swap(ctx context.Context, setup func(context.Context) (transport.Connection, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.conn
	fresh, err := setup(ctx)
	if err != nil {
		return fmt.Errorf("negotiate new connection: %w", err)
	}
	if old != nil {
		old.Close()
	}
	b.conn = fresh
	return nil
}

// Close releases the underlying connection.
func (b *Brain) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
