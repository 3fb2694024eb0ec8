// Package nfqueue wraps the kernel-queue driver behind a small interface,
// hiding an external collaborator behind a role-scoped abstraction so the
// runtime depends only on the interface, not on go-nfqueue directly.
package nfqueue

import (
	"context"
	"fmt"
	"time"

	nfq "github.com/florianl/go-nfqueue"
)

// Verdict mirrors the two dispositions the per-test runtime ever issues.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictDrop
)

// Packet is one dequeued datagram plus the id needed to verdict it.
type Packet struct {
	ID  uint32
	Raw []byte
}

// Queue is the kernel-queue driver contract: open a queue number, receive
// packets with a bounded wait, and issue verdicts. The runtime never talks
// to go-nfqueue directly.
type Queue interface {
	Receive(ctx context.Context) (Packet, error)
	SetVerdict(id uint32, v Verdict) error
	// SetVerdictWithPacket accepts id with raw as the replacement payload,
	// the accept-modified verdict the glossary distinguishes from a plain
	// accept: the kernel re-emits raw instead of the packet it dequeued.
	SetVerdictWithPacket(id uint32, raw []byte) error
	Close() error
}

// nfqueueQueue is the real backend, a thin adapter over go-nfqueue.
type nfqueueQueue struct {
	q       *nfq.Nfqueue
	packets chan Packet
}

// Open binds to the given queue number, returning a ready-to-use
// collaborator plus an error.
func Open(qnum uint16) (Queue, error) {
	cfg := nfq.Config{
		NfQueue:      qnum,
		MaxPacketLen: 0xFFFF,
		MaxQueueLen:  1024,
		Copymode:     nfq.NfQnlCopyPacket,
	}
	q, err := nfq.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("nfqueue: open queue %d: %w", qnum, err)
	}

	packets := make(chan Packet, 64)
	fn := func(a nfq.Attribute) int {
		if a.PacketID == nil || a.Payload == nil {
			return 0
		}
		packets <- Packet{ID: *a.PacketID, Raw: *a.Payload}
		return 0
	}
	ctx := context.Background()
	if err := q.RegisterWithErrorFunc(ctx, fn, func(e error) int { return 0 }); err != nil {
		q.Close()
		return nil, fmt.Errorf("nfqueue: register callback: %w", err)
	}
	return &nfqueueQueue{q: q, packets: packets}, nil
}

func (n *nfqueueQueue) Receive(ctx context.Context) (Packet, error) {
	select {
	case p := <-n.packets:
		return p, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return Packet{}, context.DeadlineExceeded
	}
}

func (n *nfqueueQueue) SetVerdict(id uint32, v Verdict) error {
	switch v {
	case VerdictAccept:
		return n.q.SetVerdict(id, nfq.NfAccept)
	case VerdictDrop:
		return n.q.SetVerdict(id, nfq.NfDrop)
	default:
		return fmt.Errorf("nfqueue: unknown verdict %d", v)
	}
}

func (n *nfqueueQueue) SetVerdictWithPacket(id uint32, raw []byte) error {
	return n.q.SetVerdictModPacket(id, nfq.NfAccept, raw)
}

func (n *nfqueueQueue) Close() error {
	return n.q.Close()
}
