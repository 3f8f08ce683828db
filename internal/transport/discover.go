package transport

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode selects which physical transports setup may use.
type Mode int

const (
	ModeAuto Mode = iota
	ModeSerial
	ModeBluetooth
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeSerial:
		return "serial"
	case ModeBluetooth:
		return "bluetooth"
	default:
		return "unknown"
	}
}

// ParseMode maps a user-facing mode name to a Mode; unknown names fall back
// to auto.
func ParseMode(s string) Mode {
	switch s {
	case "serial":
		return ModeSerial
	case "bluetooth":
		return ModeBluetooth
	default:
		return ModeAuto
	}
}

const (
	serialRetryDelay = time.Second
	bleRetryDelay    = time.Second
	bleScanWindow    = 10 * time.Second
)

// Setup establishes a physical connection to a brain according to mode.
// Serial setup retries with a fixed delay until something enumerates.
// Auto races serial and Bluetooth discovery; whichever resolves first wins
// and the loser is abandoned. Setup blocks until a connection exists or the
// context is cancelled.
func Setup(ctx context.Context, mode Mode) (Connection, error) {
	switch mode {
	case ModeSerial:
		return retrySerial(ctx, serialRetryDelay)
	case ModeBluetooth:
		return retryBluetooth(ctx, bleRetryDelay)
	default:
		return raceSetup(ctx)
	}
}

// retryBluetooth keeps trying Bluetooth setup with a fixed delay between
// attempts. Without the delay a missing adapter fails instantly and the
// loop spins.
func retryBluetooth(ctx context.Context, delay time.Duration) (Connection, error) {
	return retrySetup(ctx, delay, "bluetooth", func(ctx context.Context) (Connection, error) {
		return ConnectBluetooth(ctx, bleScanWindow)
	})
}

// retrySetup runs connect until it succeeds, waiting delay between failed
// attempts, until the context is cancelled.
func retrySetup(ctx context.Context, delay time.Duration, what string, connect func(context.Context) (Connection, error)) (Connection, error) {
	for {
		conn, err := connect(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logrus.WithError(err).Warnf("%s setup failed, retrying", what)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type setupResult struct {
	conn Connection
	err  error
}

// raceSetup runs serial and Bluetooth setup concurrently and keeps whichever
// connection arrives first. The losing attempt is cancelled; if it had
// already connected by then, that connection is closed.
func raceSetup(ctx context.Context) (Connection, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan setupResult, 2)
	go func() {
		conn, err := retrySerial(raceCtx, serialRetryDelay)
		results <- setupResult{conn, err}
	}()
	go func() {
		conn, err := retryBluetooth(raceCtx, bleRetryDelay)
		results <- setupResult{conn, err}
	}()

	var lastErr error
	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.err == nil {
				cancel()
				// Reap the loser in the background so an abandoned
				// connection does not leak.
				go func() {
					if late := <-results; late.conn != nil {
						late.conn.Close()
					}
				}()
				logrus.WithField("transport", res.conn.Kind().String()).Info("connected to brain")
				return res.conn, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
