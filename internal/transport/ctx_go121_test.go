package transport

import (
	"context"
	"testing"
)

// testContext is a stand-in for t.Context (Go 1.24+) while building with
// older toolchains: it returns a context canceled when the test ends.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
