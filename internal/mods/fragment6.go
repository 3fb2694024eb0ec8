package mods

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
	"github.com/tturner/fracture/internal/packet"
	"github.com/tturner/fracture/internal/registry"
)

const ipv6FragHeaderLen = 8

type fragment6Kind struct{}

func (fragment6Kind) Name() string { return "fragment6" }
func (fragment6Kind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{
		{Name: "size", Description: "max fragment size in bytes, including the fragment header"},
		{Name: "atomic", Optional: true, Default: "false", Description: "\"true\" to emit a single atomic fragment when the payload already fits"},
	}
}
func (k fragment6Kind) Usage() string { return registry.FormatUsage(k) }
func (fragment6Kind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	size, err := requireInt(args, 0, "fragment6")
	if err != nil {
		return nil, err
	}
	atomic := false
	if len(args) > 1 {
		atomic = args[1].Str == "true"
	}
	if size <= ipv6FragHeaderLen {
		return nil, fmt.Errorf("fragment6: size %d must exceed the %d-byte fragment header", size, ipv6FragHeaderLen)
	}
	return fragment6Instance{size: int(size), atomic: atomic}, nil
}

type fragment6Instance struct {
	size   int
	atomic bool
}

func (f fragment6Instance) Describe() string {
	return fmt.Sprintf("fragment6(%d, atomic=%v)", f.size, f.atomic)
}

func (f fragment6Instance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := carrier.Empty()
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		frags, err := f.fragmentEntry(ctx, e)
		if err != nil {
			return nil, err
		}
		for _, fe := range frags {
			out.Append(fe)
		}
	}
	return out, nil
}

func (f fragment6Instance) fragmentEntry(ctx *registry.ApplyContext, e carrier.Entry) ([]carrier.Entry, error) {
	ip6, ok := e.Packet.IPv6()
	if !ok {
		return []carrier.Entry{e}, nil
	}
	payload := ip6.LayerPayload()
	maxChunk := ((f.size - ipv6FragHeaderLen) / 8) * 8
	if maxChunk <= 0 {
		return nil, fmt.Errorf("fragment6: size %d leaves no room for an 8-byte-aligned chunk", f.size)
	}

	if len(payload) <= maxChunk && !f.atomic {
		return []carrier.Entry{e}, nil
	}

	id := ctx.Counter.Next()
	chunks := chunkBytes(payload, maxChunk)
	entries := make([]carrier.Entry, 0, len(chunks))
	offset := 0
	for i, chunk := range chunks {
		// Fragment extension header: next header, reserved, offset<<3 | M,
		// identification (gopacket's IPv6Fragment cannot serialize itself).
		frag := make([]byte, ipv6FragHeaderLen, ipv6FragHeaderLen+len(chunk))
		frag[0] = byte(ip6.NextHeader)
		offField := uint16(offset/8) << 3
		if i < len(chunks)-1 {
			offField |= 1
		}
		binary.BigEndian.PutUint16(frag[2:4], offField)
		binary.BigEndian.PutUint32(frag[4:8], id)
		hdr := &layers.IPv6{
			Version:      6,
			TrafficClass: ip6.TrafficClass,
			FlowLabel:    ip6.FlowLabel,
			NextHeader:   layers.IPProtocolIPv6Fragment,
			HopLimit:     ip6.HopLimit,
			SrcIP:        ip6.SrcIP,
			DstIP:        ip6.DstIP,
		}
		p, err := packet.FromLayers(
			gopacket.SerializeOptions{FixLengths: true},
			hdr, gopacket.Payload(append(frag, chunk...)),
		)
		if err != nil {
			return nil, fmt.Errorf("fragment6: %w", err)
		}
		entries = append(entries, carrier.Entry{Packet: p, DelayMs: e.DelayMs})
		offset += len(chunk)
	}
	return entries, nil
}

// chunkBytes splits b into pieces of at most n bytes each (the last piece
// may be shorter).
func chunkBytes(b []byte, n int) [][]byte {
	if n <= 0 {
		if len(b) == 0 {
			return nil
		}
		return [][]byte{b}
	}
	var out [][]byte
	for len(b) > 0 {
		end := n
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[:end])
		b = b[end:]
	}
	return out
}
