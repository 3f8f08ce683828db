package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
)

// Handshake sends request and waits for a reply matching sig, retrying up to
// attempts times on transport or timeout errors. The first well-formed reply
// wins immediately, whatever its application-level verdict: semantic
// rejections (NACK, lock timeout, bad PIN) are data, and deciding whether to
// retry them belongs to the caller. Exhausting every attempt surfaces the
// last error.
func Handshake(ctx context.Context, conn Connection, timeout time.Duration, attempts int, request protocol.Encoder, sig protocol.Sig) (*protocol.Cdc2Reply, error) {
	if attempts < 1 {
		return nil, fmt.Errorf("handshake needs at least one attempt")
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			logrus.WithFields(logrus.Fields{
				"sig":     sig,
				"attempt": attempt + 1,
			}).Debug("retrying handshake")
		}

		if err := conn.SendPacket(ctx, request); err != nil {
			lastErr = err
			continue
		}
		reply, err := conn.ReceivePacket(ctx, sig, timeout)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// A reply arrived but could not be decoded: resending cannot repair
		// a protocol fault, only lost or delayed replies.
		if decodeFault(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeFault(err error) bool {
	var unexpected *protocol.UnexpectedValueError
	return errors.Is(err, protocol.ErrPacketTooShort) ||
		errors.Is(err, protocol.ErrInvalidHeader) ||
		errors.As(err, &unexpected)
}
