package transport

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
)

// obsolescenceWindow is how long an unmatched packet may sit in the buffer
// before it is evicted. Stale replies must not satisfy a newer request.
const obsolescenceWindow = 2 * time.Second

// rawPacket is one framed packet as read off the link. Once used it must
// never be matched again.
type rawPacket struct {
	bytes []byte
	used  bool
	stamp time.Time
}

func (p *rawPacket) obsolete(now time.Time) bool {
	return p.used || now.Sub(p.stamp) > obsolescenceWindow
}

// packetBuffer holds raw, not-yet-matched packets for a single connection.
// Matching is strictly first-in-first-out: the first packet (in insertion
// order) whose signature matches wins.
type packetBuffer struct {
	mu      sync.Mutex
	packets []*rawPacket
}

// Push appends one framed packet and trims the buffer.
func (b *packetBuffer) Push(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = append(b.packets, &rawPacket{bytes: frame, stamp: time.Now()})
	b.trimLocked()
}

// Match scans for the first packet matching sig. On a hit the packet is
// marked used and decoded; a decode failure still consumes the packet (a
// header match with a bad body is not retried) and the error is returned
// with ok=true. ok=false means nothing matched.
func (b *packetBuffer) Match(sig protocol.Sig) (reply *protocol.Cdc2Reply, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.packets {
		if p.used {
			continue
		}
		got, sigOK := protocol.FrameSig(p.bytes)
		if !sigOK || got != sig {
			continue
		}
		p.used = true
		decoded, decErr := protocol.DecodeReply(p.bytes)
		b.trimLocked()
		if decErr != nil {
			logrus.WithError(decErr).Warn("failed to decode packet with matching signature")
			return nil, true, decErr
		}
		return decoded, true, nil
	}
	b.trimLocked()
	return nil, false, nil
}

// Trim removes used and obsolete packets.
func (b *packetBuffer) Trim() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimLocked()
}

func (b *packetBuffer) trimLocked() {
	now := time.Now()
	kept := b.packets[:0]
	for _, p := range b.packets {
		if !p.obsolete(now) {
			kept = append(kept, p)
		}
	}
	b.packets = kept
}

// Len reports how many packets are currently buffered, used or not.
func (b *packetBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}
