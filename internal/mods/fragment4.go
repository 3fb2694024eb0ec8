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

type fragment4Kind struct{}

func (fragment4Kind) Name() string { return "fragment4" }
func (fragment4Kind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "size", Description: "max fragmentable payload bytes per fragment"}}
}
func (k fragment4Kind) Usage() string { return registry.FormatUsage(k) }
func (fragment4Kind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	size, err := requireInt(args, 0, "fragment4")
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("fragment4: size must be positive, got %d", size)
	}
	return fragment4Instance{size: int(size)}, nil
}

type fragment4Instance struct{ size int }

func (f fragment4Instance) Describe() string { return fmt.Sprintf("fragment4(%d)", f.size) }

func (f fragment4Instance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
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

func (f fragment4Instance) fragmentEntry(ctx *registry.ApplyContext, e carrier.Entry) ([]carrier.Entry, error) {
	ip4, ok := e.Packet.IPv4()
	if !ok {
		return []carrier.Entry{e}, nil
	}
	payload := ip4.LayerPayload()
	maxChunk := (f.size / 8) * 8
	if maxChunk <= 0 {
		return nil, fmt.Errorf("fragment4: size %d is below the 8-byte fragment alignment", f.size)
	}
	if len(payload) <= maxChunk {
		return []carrier.Entry{e}, nil
	}

	id := uint16(ctx.Counter.Next())
	chunks := chunkBytes(payload, maxChunk)
	entries := make([]carrier.Entry, 0, len(chunks))
	offset := 0
	for i, chunk := range chunks {
		hdr := &layers.IPv4{
			Version:    4,
			IHL:        5,
			TOS:        ip4.TOS,
			Id:         id,
			FragOffset: uint16(offset / 8),
			TTL:        ip4.TTL,
			Protocol:   ip4.Protocol,
			SrcIP:      ip4.SrcIP,
			DstIP:      ip4.DstIP,
		}
		if i < len(chunks)-1 {
			hdr.Flags = layers.IPv4MoreFragments
		}
		p, err := packet.FromLayers(
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			hdr, gopacket.Payload(chunk),
		)
		if err != nil {
			return nil, fmt.Errorf("fragment4: %w", err)
		}
		entries = append(entries, carrier.Entry{Packet: p, DelayMs: e.DelayMs})
		offset += len(chunk)
	}
	return entries, nil
}
