package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySetupDelaysBetweenFailures(t *testing.T) {
	attempts := 0
	start := time.Now()
	conn, err := retrySetup(testContext(t), 30*time.Millisecond, "test",
		func(ctx context.Context) (Connection, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("no adapter")
			}
			return &streamConn{kind: KindSerial}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if conn.Kind() != KindSerial {
		t.Fatalf("got %v connection", conn.Kind())
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("two failed attempts took %v, want at least two delays", elapsed)
	}
}

func TestRetrySetupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := retrySetup(ctx, time.Hour, "test",
		func(ctx context.Context) (Connection, error) {
			return nil, errors.New("no adapter")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
