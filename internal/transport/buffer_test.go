package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/vexide/v5ctl/internal/protocol"
)

func mustEncode(t *testing.T, pkt protocol.Encoder) []byte {
	t.Helper()
	frame, err := pkt.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestBufferMatchFIFO(t *testing.T) {
	var buf packetBuffer
	first := mustEncode(t, protocol.NewConnectedTypeReply(protocol.ExtConnectionType, protocol.ConnectedSerial))
	second := mustEncode(t, protocol.NewConnectedTypeReply(protocol.ExtConnectionType, protocol.ConnectedBluetooth))
	buf.Push(first)
	buf.Push(second)

	reply, ok, err := buf.Match(protocol.SigConnectionType)
	if !ok || err != nil {
		t.Fatalf("match: ok=%v err=%v", ok, err)
	}
	got, err := protocol.DecodeConnectedType(reply.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != protocol.ConnectedSerial {
		t.Fatalf("expected first inserted packet to win, got %v", got)
	}

	// The second packet is still there and matches next.
	reply, ok, err = buf.Match(protocol.SigConnectionType)
	if !ok || err != nil {
		t.Fatalf("second match: ok=%v err=%v", ok, err)
	}
	got, _ = protocol.DecodeConnectedType(reply.Payload)
	if got != protocol.ConnectedBluetooth {
		t.Fatalf("expected second packet on second match, got %v", got)
	}
}

func TestBufferUsedNeverRematches(t *testing.T) {
	var buf packetBuffer
	buf.Push(mustEncode(t, protocol.NewLockReply(protocol.LockSuccess)))

	if _, ok, _ := buf.Match(protocol.SigConnectionLock); !ok {
		t.Fatal("expected a match")
	}
	if _, ok, _ := buf.Match(protocol.SigConnectionLock); ok {
		t.Fatal("a used packet must never match again")
	}
	if buf.Len() != 0 {
		t.Fatalf("used packet should be trimmed, %d left", buf.Len())
	}
}

func TestBufferTrimsObsolete(t *testing.T) {
	var buf packetBuffer
	buf.Push(mustEncode(t, protocol.NewLockReply(protocol.LockSuccess)))

	// Age the packet past the obsolescence window by hand.
	buf.mu.Lock()
	buf.packets[0].stamp = time.Now().Add(-obsolescenceWindow - time.Millisecond)
	buf.mu.Unlock()

	buf.Trim()
	if buf.Len() != 0 {
		t.Fatalf("obsolete packet should be trimmed, %d left", buf.Len())
	}
	if _, ok, _ := buf.Match(protocol.SigConnectionLock); ok {
		t.Fatal("obsolete packet must not match")
	}
}

func TestBufferDecodeFailureConsumesPacket(t *testing.T) {
	var buf packetBuffer
	// Valid framing, but the CDC2 envelope is truncated: only an extended id,
	// no ack byte.
	buf.Push([]byte{0xAA, 0x55, protocol.DaemonCdc, 0x01, protocol.ExtConnectionLock})

	_, ok, err := buf.Match(protocol.SigConnectionLock)
	if !ok {
		t.Fatal("expected a signature match")
	}
	if !errors.Is(err, protocol.ErrPacketTooShort) {
		t.Fatalf("got %v, want ErrPacketTooShort", err)
	}
	// Failed decode still consumes the packet; it is not retried.
	if _, ok, _ := buf.Match(protocol.SigConnectionLock); ok {
		t.Fatal("decode-failed packet must not match again")
	}
}

func TestBufferIgnoresOtherSignatures(t *testing.T) {
	var buf packetBuffer
	buf.Push(mustEncode(t, protocol.NewLockReply(protocol.LockSuccess)))

	if _, ok, _ := buf.Match(protocol.SigConnectionType); ok {
		t.Fatal("matched the wrong signature")
	}
	if _, ok, _ := buf.Match(protocol.SigConnectionLock); !ok {
		t.Fatal("the packet should still match its own signature")
	}
}
