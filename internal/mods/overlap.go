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

// Overlap strategy names, fixed per the overlap design decision (spec left
// the exact strategy set an open question; original_source/ipv4_overlap.py
// and tcp_overlap.py name these three).
const (
	OverlapFavorFirst        = "favor-first"
	OverlapFavorLast         = "favor-last"
	OverlapZeroLengthOverlap = "zero-length-overlap"
)

type overlapKind struct{}

func (overlapKind) Name() string { return "overlap" }
func (overlapKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{
		{Name: "kind", Description: "favor-first, favor-last, or zero-length-overlap"},
		{Name: "size", Description: "byte offset of the overlap boundary"},
	}
}
func (k overlapKind) Usage() string { return registry.FormatUsage(k) }
func (overlapKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("overlap expects exactly two arguments")
	}
	kind := args[0].Str
	switch kind {
	case OverlapFavorFirst, OverlapFavorLast, OverlapZeroLengthOverlap:
	default:
		return nil, fmt.Errorf("overlap: unknown strategy %q", kind)
	}
	size, err := requireInt(args, 1, "overlap")
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("overlap: size must be positive, got %d", size)
	}
	return overlapInstance{kind: kind, size: int(size)}, nil
}

type overlapInstance struct {
	kind string
	size int
}

func (o overlapInstance) Describe() string { return fmt.Sprintf("overlap(%s, %d)", o.kind, o.size) }

func (o overlapInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := carrier.Empty()
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		parts, err := o.overlapEntry(ctx, e)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			out.Append(p)
		}
	}
	return out, nil
}

// overlapWidth is the fixed size of the overlapping region carried by both
// halves of the split, bounded so it never exceeds either half.
func overlapWidth(size int) int {
	w := size / 2
	if w < 1 {
		w = 1
	}
	return w
}

func (o overlapInstance) overlapEntry(ctx *registry.ApplyContext, e carrier.Entry) ([]carrier.Entry, error) {
	// TCP-carrying packets overlap at the segment level (the deeper,
	// protocol-aware evasion); bare IPv4 datagrams overlap at the
	// fragment level. A packet can't be both, so this order is decisive.
	if tcp, ok := e.Packet.TCP(); ok {
		return o.overlapTCP(e, tcp)
	}
	if ip4, ok := e.Packet.IPv4(); ok {
		return o.overlapIPv4(ctx, e, ip4)
	}
	return []carrier.Entry{e}, nil
}

func (o overlapInstance) overlapIPv4(ctx *registry.ApplyContext, e carrier.Entry, ip4 *layers.IPv4) ([]carrier.Entry, error) {
	payload := ip4.LayerPayload()
	if len(payload) <= o.size {
		return []carrier.Entry{e}, nil
	}
	width := overlapWidth(o.size)
	// Align to 8-byte fragment offset units.
	firstLen := (o.size / 8) * 8
	if firstLen < 8 {
		firstLen = 8
	}
	if firstLen > len(payload) {
		firstLen = len(payload)
	}
	secondStart := firstLen - width
	if secondStart < 0 {
		secondStart = 0
	}
	secondStart = (secondStart / 8) * 8

	first := make([]byte, firstLen)
	copy(first, payload[:firstLen])
	second := make([]byte, len(payload)-secondStart)
	copy(second, payload[secondStart:])

	switch o.kind {
	case OverlapFavorFirst:
		// zero the overlap region carried by the second (later-arriving)
		// fragment, so a first-write-wins reassembler keeps the first
		// fragment's bytes.
		for i := 0; i < firstLen-secondStart && i < len(second); i++ {
			second[i] = 0
		}
	case OverlapFavorLast:
		for i := secondStart; i < firstLen && i-secondStart < len(second); i++ {
			first[i] = 0
		}
	}

	id := uint16(ctx.Counter.Next())
	buildFrag := func(chunk []byte, offset int, mf bool) (carrier.Entry, error) {
		hdr := &layers.IPv4{
			Version: 4, IHL: 5, TOS: ip4.TOS, Id: id,
			FragOffset: uint16(offset / 8), TTL: ip4.TTL, Protocol: ip4.Protocol,
			SrcIP: ip4.SrcIP, DstIP: ip4.DstIP,
		}
		if mf {
			hdr.Flags = layers.IPv4MoreFragments
		}
		p, err := packet.FromLayers(gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, hdr, gopacket.Payload(chunk))
		return carrier.Entry{Packet: p, DelayMs: e.DelayMs}, err
	}

	entries := make([]carrier.Entry, 0, 3)
	f1, err := buildFrag(first, 0, true)
	if err != nil {
		return nil, fmt.Errorf("overlap: %w", err)
	}
	entries = append(entries, f1)

	if o.kind == OverlapZeroLengthOverlap {
		zf, err := buildFrag(nil, firstLen, true)
		if err != nil {
			return nil, fmt.Errorf("overlap: %w", err)
		}
		entries = append(entries, zf)
	}

	f2, err := buildFrag(second, secondStart, false)
	if err != nil {
		return nil, fmt.Errorf("overlap: %w", err)
	}
	entries = append(entries, f2)
	return entries, nil
}

func (o overlapInstance) overlapTCP(e carrier.Entry, tcp *layers.TCP) ([]carrier.Entry, error) {
	payload := tcp.LayerPayload()
	if len(payload) <= o.size {
		return []carrier.Entry{e}, nil
	}
	width := overlapWidth(o.size)
	firstLen := o.size
	secondStart := firstLen - width
	if secondStart < 0 {
		secondStart = 0
	}

	first := make([]byte, firstLen)
	copy(first, payload[:firstLen])
	second := make([]byte, len(payload)-secondStart)
	copy(second, payload[secondStart:])

	switch o.kind {
	case OverlapFavorFirst:
		for i := 0; i < firstLen-secondStart && i < len(second); i++ {
			second[i] = 0
		}
	case OverlapFavorLast:
		for i := secondStart; i < firstLen && i-secondStart < len(second); i++ {
			first[i] = 0
		}
	}

	var network gopacket.SerializableLayer
	var setChecksum func(*layers.TCP) error
	if ip4, ok := e.Packet.IPv4(); ok {
		hdr := *ip4
		network = &hdr
		setChecksum = func(t *layers.TCP) error { return t.SetNetworkLayerForChecksum(&hdr) }
	} else if ip6, ok := e.Packet.IPv6(); ok {
		hdr := *ip6
		network = &hdr
		setChecksum = func(t *layers.TCP) error { return t.SetNetworkLayerForChecksum(&hdr) }
	} else {
		return nil, fmt.Errorf("overlap: TCP entry has neither IPv4 nor IPv6 layer")
	}

	buildSeg := func(chunk []byte, seqOffset uint32) (carrier.Entry, error) {
		t := &layers.TCP{
			SrcPort: tcp.SrcPort, DstPort: tcp.DstPort, Seq: tcp.Seq + seqOffset, Ack: tcp.Ack,
			DataOffset: 5, ACK: tcp.ACK, PSH: tcp.PSH, Window: tcp.Window, Urgent: tcp.Urgent,
		}
		if err := setChecksum(t); err != nil {
			return carrier.Entry{}, err
		}
		p, err := packet.FromLayers(gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, network, t, gopacket.Payload(chunk))
		return carrier.Entry{Packet: p, DelayMs: e.DelayMs}, err
	}

	entries := make([]carrier.Entry, 0, 3)
	s1, err := buildSeg(first, 0)
	if err != nil {
		return nil, fmt.Errorf("overlap: %w", err)
	}
	entries = append(entries, s1)

	if o.kind == OverlapZeroLengthOverlap {
		zs, err := buildSeg(nil, uint32(firstLen))
		if err != nil {
			return nil, fmt.Errorf("overlap: %w", err)
		}
		entries = append(entries, zs)
	}

	s2, err := buildSeg(second, uint32(secondStart))
	if err != nil {
		return nil, fmt.Errorf("overlap: %w", err)
	}
	entries = append(entries, s2)
	return entries, nil
}
