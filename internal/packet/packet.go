// Package packet wraps gopacket's parse/serialize machinery behind the
// typed accessors the modification pipeline needs: layer presence, header
// field access for IPv4/IPv6/TCP/UDP (ICMP layers by name only), and
// byte-exact round-tripping.
package packet

import (
	"bytes"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Packet is an opaque, immutable wire-format packet. NFQUEUE hands us raw
// IP datagrams (no link layer), so decoding starts at IPv4 or IPv6 based on
// the version nibble.
type Packet struct {
	raw []byte
}

// New copies raw into a new Packet.
func New(raw []byte) *Packet {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &Packet{raw: cp}
}

// Bytes returns a copy of the packet's serialized wire bytes.
func (p *Packet) Bytes() []byte {
	cp := make([]byte, len(p.raw))
	copy(cp, p.raw)
	return cp
}

// Len returns the serialized length in bytes.
func (p *Packet) Len() int { return len(p.raw) }

// Clone returns an independent copy of the packet.
func (p *Packet) Clone() *Packet { return New(p.raw) }

// Equal reports byte-exact equality, the carrier's structural equality unit.
func (p *Packet) Equal(o *Packet) bool {
	if p == nil || o == nil {
		return p == o
	}
	return bytes.Equal(p.raw, o.raw)
}

func (p *Packet) baseLayerType() gopacket.LayerType {
	if len(p.raw) == 0 {
		return gopacket.LayerTypeZero
	}
	switch p.raw[0] >> 4 {
	case 4:
		return layers.LayerTypeIPv4
	case 6:
		return layers.LayerTypeIPv6
	default:
		return gopacket.LayerTypeZero
	}
}

// decode performs a lazy, non-copying parse. Called on every accessor since
// Packet itself carries only raw bytes — this keeps mutation-vs-immutable
// bookkeeping to the carrier layer, not here.
func (p *Packet) decode() gopacket.Packet {
	lt := p.baseLayerType()
	if lt == gopacket.LayerTypeZero {
		return gopacket.NewPacket(p.raw, gopacket.LayerTypePayload, gopacket.NoCopy)
	}
	return gopacket.NewPacket(p.raw, lt, gopacket.NoCopy)
}

var layerTypeByName = map[string]gopacket.LayerType{
	"ipv4":   layers.LayerTypeIPv4,
	"ipv6":   layers.LayerTypeIPv6,
	"tcp":    layers.LayerTypeTCP,
	"udp":    layers.LayerTypeUDP,
	"icmpv4": layers.LayerTypeICMPv4,
	"icmpv6": layers.LayerTypeICMPv6,
}

// HasLayer reports whether the named layer is present. Names: ipv4, ipv6,
// tcp, udp, icmpv4, icmpv6.
func (p *Packet) HasLayer(name string) bool {
	_, ok := p.Layer(name)
	return ok
}

// Layer returns the decoded layer by name, or false if absent or unknown.
func (p *Packet) Layer(name string) (gopacket.Layer, bool) {
	lt, ok := layerTypeByName[name]
	if !ok {
		return nil, false
	}
	l := p.decode().Layer(lt)
	if l == nil {
		return nil, false
	}
	return l, true
}

func (p *Packet) IPv4() (*layers.IPv4, bool) {
	l, ok := p.Layer("ipv4")
	if !ok {
		return nil, false
	}
	return l.(*layers.IPv4), true
}

func (p *Packet) IPv6() (*layers.IPv6, bool) {
	l, ok := p.Layer("ipv6")
	if !ok {
		return nil, false
	}
	return l.(*layers.IPv6), true
}

func (p *Packet) TCP() (*layers.TCP, bool) {
	l, ok := p.Layer("tcp")
	if !ok {
		return nil, false
	}
	return l.(*layers.TCP), true
}

func (p *Packet) UDP() (*layers.UDP, bool) {
	l, ok := p.Layer("udp")
	if !ok {
		return nil, false
	}
	return l.(*layers.UDP), true
}

// Payload returns the innermost application-layer payload, or nil.
func (p *Packet) Payload() []byte {
	d := p.decode()
	if app := d.ApplicationLayer(); app != nil {
		return app.Payload()
	}
	return nil
}

// FromLayers serializes a fresh packet from an ordered layer stack,
// recomputing checksums and length fields. Used by modifications that
// rebuild a packet (fragmentation, segmentation) rather than mutate one.
func FromLayers(opts gopacket.SerializeOptions, ls ...gopacket.SerializableLayer) (*Packet, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("serialize layers: %w", err)
	}
	return New(buf.Bytes()), nil
}
