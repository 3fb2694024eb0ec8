package packet

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildIPv4TCP(t *testing.T, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 1234, DstPort: 80, Seq: 1, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func buildIPv6UDP(t *testing.T, payload []byte) []byte {
	t.Helper()
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.ParseIP("fe80::1"),
		DstIP:      net.ParseIP("fe80::2"),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 6000}
	if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip6, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return buf.Bytes()
}

func TestIPv4TCPRoundTrip(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("hello"))
	p := New(raw)

	if !p.HasLayer("ipv4") {
		t.Error("expected ipv4 layer")
	}
	if !p.HasLayer("tcp") {
		t.Error("expected tcp layer")
	}
	if p.HasLayer("ipv6") || p.HasLayer("udp") {
		t.Error("did not expect ipv6/udp layers")
	}

	ip4, ok := p.IPv4()
	if !ok {
		t.Fatal("IPv4() ok = false")
	}
	if ip4.DstIP.String() != "10.0.0.2" {
		t.Errorf("DstIP = %v, want 10.0.0.2", ip4.DstIP)
	}

	tcp, ok := p.TCP()
	if !ok {
		t.Fatal("TCP() ok = false")
	}
	if tcp.DstPort != 80 {
		t.Errorf("DstPort = %v, want 80", tcp.DstPort)
	}

	if string(p.Payload()) != "hello" {
		t.Errorf("Payload() = %q, want %q", p.Payload(), "hello")
	}
}

func TestIPv6UDPRoundTrip(t *testing.T) {
	raw := buildIPv6UDP(t, []byte("world"))
	p := New(raw)

	if !p.HasLayer("ipv6") {
		t.Error("expected ipv6 layer")
	}
	if !p.HasLayer("udp") {
		t.Error("expected udp layer")
	}

	udp, ok := p.UDP()
	if !ok {
		t.Fatal("UDP() ok = false")
	}
	if udp.DstPort != 6000 {
		t.Errorf("DstPort = %v, want 6000", udp.DstPort)
	}
}

func TestBytesIsIndependentCopy(t *testing.T) {
	raw := buildIPv4TCP(t, []byte("x"))
	p := New(raw)
	b := p.Bytes()
	b[0] = 0xFF
	if p.Bytes()[0] == 0xFF {
		t.Error("mutating Bytes() output should not affect the packet")
	}
}

func TestClone(t *testing.T) {
	p := New(buildIPv4TCP(t, []byte("x")))
	c := p.Clone()
	if !p.Equal(c) {
		t.Error("Clone() should be Equal to the original")
	}
	c.raw[0] = 0
	if p.Equal(c) {
		t.Error("mutating the clone's backing array should not affect the original")
	}
}

func TestEqual(t *testing.T) {
	a := New([]byte{1, 2, 3})
	b := New([]byte{1, 2, 3})
	c := New([]byte{1, 2, 4})
	if !a.Equal(b) {
		t.Error("a and b should be equal")
	}
	if a.Equal(c) {
		t.Error("a and c should not be equal")
	}
}

func TestUnknownLayerName(t *testing.T) {
	p := New(buildIPv4TCP(t, nil))
	if p.HasLayer("bogus") {
		t.Error("unknown layer name should not be present")
	}
}

func TestLen(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	if got := New(raw).Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
}
