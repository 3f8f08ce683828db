package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

// MockTap simulates a tap on the brain's screen at (x, y): a press followed
// by a release.
func MockTap(ctx context.Context, conn transport.Connection, x, y uint16) error {
	if err := touch(ctx, conn, x, y, true); err != nil {
		return fmt.Errorf("touch press: %w", err)
	}
	if err := touch(ctx, conn, x, y, false); err != nil {
		return fmt.Errorf("touch release: %w", err)
	}
	return nil
}

func touch(ctx context.Context, conn transport.Connection, x, y uint16, pressed bool) error {
	reply, err := transport.Handshake(ctx, conn, time.Second, 3,
		protocol.NewScreenTouch(x, y, pressed), protocol.SigScreenTouch)
	if err != nil {
		return err
	}
	return reply.Check()
}
