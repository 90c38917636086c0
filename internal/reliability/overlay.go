// Package reliability implements a best-effort ARQ overlay: messages whose
// loss would change the game outcome are retransmitted until acknowledged or
// until a fixed attempt ceiling, then abandoned silently. Tick-rate state
// broadcasts are deliberately not wrapped by it, since they are frequent and
// self-correcting.
package reliability

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// SendFunc transmits an encoded datagram to a recipient. Implementations
// must never block on acknowledgment and should swallow transport errors; a
// lost transmission is exactly what the overlay exists to absorb.
type SendFunc func(addr net.Addr, data []byte)

// Policy sets the retransmission behaviour. The server retries every 200 ms;
// the client mirrors the policy at 100 ms. Both stop after 10 attempts:
// if the peer is truly gone its session is reaped by the inactivity timeout
// anyway, so abandonment is not an error.
type Policy struct {
	RetryInterval time.Duration
	MaxAttempts   int
}

// ServerPolicy is the default server retransmission policy.
func ServerPolicy() Policy {
	return Policy{RetryInterval: 200 * time.Millisecond, MaxAttempts: 10}
}

// ClientPolicy is the default client retransmission policy.
func ClientPolicy() Policy {
	return Policy{RetryInterval: 100 * time.Millisecond, MaxAttempts: 10}
}

// pendingDelivery is one outstanding must-deliver message.
type pendingDelivery struct {
	recipient net.Addr
	data      []byte
	lastSent  time.Time
	attempts  int
}

// Overlay tracks outstanding reliable messages per recipient. It owns its
// own mutex, so Send may be called from a caller that already holds an
// engine lock without any re-entrancy concern.
type Overlay struct {
	mu      sync.Mutex
	policy  Policy
	send    SendFunc
	nextSeq func() uint32
	pending map[uint32]*pendingDelivery

	retransmits atomic.Uint64
	abandoned   atomic.Uint64
}

// New builds an overlay. nextSeq supplies sequence numbers; passing the
// engine's shared counter keeps reliable sends and broadcasts in one
// sequence space, which is what lets an Ack be correlated unambiguously.
func New(policy Policy, send SendFunc, nextSeq func() uint32) *Overlay {
	return &Overlay{
		policy:  policy,
		send:    send,
		nextSeq: nextSeq,
		pending: make(map[uint32]*pendingDelivery),
	}
}

// Send assigns the next sequence number, transmits once immediately, and
// registers the message for retransmission. It returns the assigned
// sequence number so the caller can correlate the eventual Ack.
func (o *Overlay) Send(recipient net.Addr, build func(seq uint32) []byte) uint32 {
	seq := o.nextSeq()
	data := build(seq)

	o.mu.Lock()
	o.pending[seq] = &pendingDelivery{
		recipient: recipient,
		data:      data,
		lastSent:  time.Now(),
		attempts:  1,
	}
	o.mu.Unlock()

	o.send(recipient, data)
	return seq
}

// Tick retransmits every pending message older than the retry interval and
// abandons entries that have exhausted their attempts. Called periodically
// by the owner's retry loop.
func (o *Overlay) Tick(now time.Time) {
	o.mu.Lock()
	var resend []*pendingDelivery
	for seq, p := range o.pending {
		if now.Sub(p.lastSent) < o.policy.RetryInterval {
			continue
		}
		if p.attempts >= o.policy.MaxAttempts {
			delete(o.pending, seq)
			o.abandoned.Add(1)
			continue
		}
		p.attempts++
		p.lastSent = now
		resend = append(resend, p)
	}
	o.mu.Unlock()

	// Transmit outside the lock; SendFunc may do real I/O.
	for _, p := range resend {
		o.retransmits.Add(1)
		o.send(p.recipient, p.data)
	}
}

// Acknowledge removes the matching entry. Unknown or already-removed
// sequence numbers are a no-op: duplicate and late Acks are expected under
// loss and retransmission.
func (o *Overlay) Acknowledge(seq uint32) {
	o.mu.Lock()
	delete(o.pending, seq)
	o.mu.Unlock()
}

// PendingCount returns the number of outstanding deliveries.
func (o *Overlay) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Retransmissions returns the total retransmit count.
func (o *Overlay) Retransmissions() uint64 { return o.retransmits.Load() }

// Abandoned returns how many deliveries were given up on.
func (o *Overlay) Abandoned() uint64 { return o.abandoned.Load() }
