package mods

import (
	"math/rand"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	fracturepacket "github.com/tturner/fracture/internal/packet"
	"github.com/tturner/fracture/internal/registry"
)

func testCtx(seed int64) *registry.ApplyContext {
	echoLog := []string{}
	return &registry.ApplyContext{
		RNG:     rand.New(rand.NewSource(seed)),
		Counter: registry.NewCounter(uint64(seed)),
		EchoLog: &echoLog,
	}
}

func buildIPv4TCP(t *testing.T, payload []byte) *fracturepacket.Packet {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 1234, DstPort: 80, Seq: 1000, SYN: true, ACK: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return fracturepacket.New(buf.Bytes())
}

func buildIPv6UDP(t *testing.T, payload []byte) *fracturepacket.Packet {
	t.Helper()
	ip6 := &layers.IPv6{
		Version: 6, NextHeader: layers.IPProtocolUDP, HopLimit: 64,
		SrcIP: net.ParseIP("fe80::1"), DstIP: net.ParseIP("fe80::2"),
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
	return fracturepacket.New(buf.Bytes())
}
