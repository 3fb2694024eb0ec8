package mods

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
	"github.com/tturner/fracture/internal/packet"
	"github.com/tturner/fracture/internal/registry"
)

type segmentKind struct{}

func (segmentKind) Name() string { return "segment" }
func (segmentKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "size", Description: "max TCP payload bytes per segment"}}
}
func (k segmentKind) Usage() string { return registry.FormatUsage(k) }
func (segmentKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	size, err := requireInt(args, 0, "segment")
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("segment: size must be positive, got %d", size)
	}
	return segmentInstance{size: int(size)}, nil
}

type segmentInstance struct{ size int }

func (s segmentInstance) Describe() string { return fmt.Sprintf("segment(%d)", s.size) }

func (s segmentInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := carrier.Empty()
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		segs, err := s.segmentEntry(e)
		if err != nil {
			return nil, err
		}
		for _, se := range segs {
			out.Append(se)
		}
	}
	return out, nil
}

// segmentEntry splits a TCP entry's payload into chunks of at most size
// bytes, building an independent segment for each with adjusted sequence
// number and flags. Entries without a TCP layer pass through unchanged.
func (s segmentInstance) segmentEntry(e carrier.Entry) ([]carrier.Entry, error) {
	tcp, ok := e.Packet.TCP()
	if !ok {
		return []carrier.Entry{e}, nil
	}
	payload := tcp.LayerPayload()
	if len(payload) <= s.size {
		return []carrier.Entry{e}, nil
	}

	var network gopacket.SerializableLayer
	var setChecksumNetwork func(*layers.TCP) error
	if ip4, ok := e.Packet.IPv4(); ok {
		hdr := *ip4
		network = &hdr
		setChecksumNetwork = func(t *layers.TCP) error { return t.SetNetworkLayerForChecksum(&hdr) }
	} else if ip6, ok := e.Packet.IPv6(); ok {
		hdr := *ip6
		network = &hdr
		setChecksumNetwork = func(t *layers.TCP) error { return t.SetNetworkLayerForChecksum(&hdr) }
	} else {
		return nil, fmt.Errorf("segment: TCP entry has neither IPv4 nor IPv6 layer")
	}

	chunks := chunkBytes(payload, s.size)
	entries := make([]carrier.Entry, 0, len(chunks))
	seq := tcp.Seq
	for i, chunk := range chunks {
		t := &layers.TCP{
			SrcPort:    tcp.SrcPort,
			DstPort:    tcp.DstPort,
			Seq:        seq,
			Ack:        tcp.Ack,
			DataOffset: 5,
			FIN:        tcp.FIN && i == len(chunks)-1,
			SYN:        tcp.SYN && i == 0,
			RST:        tcp.RST,
			PSH:        tcp.PSH,
			ACK:        tcp.ACK,
			URG:        tcp.URG,
			ECE:        tcp.ECE,
			CWR:        tcp.CWR,
			NS:         tcp.NS,
			Window:     tcp.Window,
			Urgent:     tcp.Urgent,
		}
		if err := setChecksumNetwork(t); err != nil {
			return nil, fmt.Errorf("segment: %w", err)
		}
		p, err := packet.FromLayers(
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			network, t, gopacket.Payload(chunk),
		)
		if err != nil {
			return nil, fmt.Errorf("segment: %w", err)
		}
		entries = append(entries, carrier.Entry{Packet: p, DelayMs: e.DelayMs})
		seq += uint32(len(chunk))
	}
	return entries, nil
}
