package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
)

// leaseTable arbitrates the exclusive-use lease on the shared connection.
// At most one session holds the lease at a time. A lease granted with a
// finite timeout expires on its own; timeout 0 means the lease lasts until
// released (or the holder's session ends).
type leaseTable struct {
	mu      sync.Mutex
	holder  string
	gen     uint64 // bumped on every grant; stale expiry timers check it
	timer   *time.Timer
	release chan struct{} // closed when the current lease ends
}

// Acquire grants the lease to holder, waiting out a competing holder first.
// The requested timeoutMS bounds both the wait (finite timeout: reply
// LockTimeout instead of waiting longer; 0: wait indefinitely) and, once
// granted, the lease's own lifetime.
func (l *leaseTable) Acquire(ctx context.Context, holder string, timeoutMS uint32) protocol.LockResult {
	var giveUp <-chan time.Time
	if timeoutMS > 0 {
		t := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
		defer t.Stop()
		giveUp = t.C
	}

	for {
		l.mu.Lock()
		if l.holder == "" || l.holder == holder {
			l.grantLocked(holder, timeoutMS)
			l.mu.Unlock()
			return protocol.LockSuccess
		}
		wait := l.release
		l.mu.Unlock()

		select {
		case <-wait:
		case <-giveUp:
			return protocol.LockTimeout
		case <-ctx.Done():
			return protocol.LockTimeout
		}
	}
}

// grantLocked installs holder's lease. Re-locking by the current holder
// renews the lease timeout.
func (l *leaseTable) grantLocked(holder string, timeoutMS uint32) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.holder == "" {
		l.release = make(chan struct{})
	}
	l.holder = holder
	l.gen++
	if timeoutMS > 0 {
		gen := l.gen
		l.timer = time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
			l.expire(holder, gen)
		})
	}
	logrus.WithField("holder", holder).Debug("connection lease granted")
}

// expire ends a lease from its timer. A timer that fired while the holder
// was renewing may reach the mutex after the new grant; the generation
// check makes it a no-op, since Stop cannot recall a callback already in
// flight.
func (l *leaseTable) expire(holder string, gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != holder || l.gen != gen {
		return
	}
	l.releaseLocked()
	logrus.WithField("holder", holder).Debug("connection lease expired")
}

// Release ends holder's lease, if it still holds one.
func (l *leaseTable) Release(holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != holder {
		return
	}
	l.releaseLocked()
	logrus.WithField("holder", holder).Debug("connection lease released")
}

func (l *leaseTable) releaseLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.holder = ""
	close(l.release)
}

// Gate blocks while another session holds the lease; device commands from
// non-holders queue here until the lease ends.
func (l *leaseTable) Gate(ctx context.Context, holder string) error {
	for {
		l.mu.Lock()
		if l.holder == "" || l.holder == holder {
			l.mu.Unlock()
			return nil
		}
		wait := l.release
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
