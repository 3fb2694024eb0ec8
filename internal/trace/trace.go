// Package trace writes every diverted-and-modified packet to a pcap file
// for post-run debugging.
package trace

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/fracture/internal/packet"
)

// Writer appends packets to a pcap file, one per carrier entry the runtime
// emits, whether or not that entry is re-injected.
type Writer struct {
	f  *os.File
	pw *pcapgo.Writer
}

// Open creates (or truncates) path and writes the pcap global header for
// raw IP link-layer captures, matching how NFQUEUE hands us packets with
// no Ethernet framing.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}
	pw := pcapgo.NewWriter(f)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("trace: write pcap header: %w", err)
	}
	return &Writer{f: f, pw: pw}, nil
}

// Write appends p as one pcap record, stamped with the current time.
func (w *Writer) Write(p *packet.Packet) error {
	raw := p.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(raw),
		Length:        len(raw),
	}
	if err := w.pw.WritePacket(ci, raw); err != nil {
		return fmt.Errorf("trace: write packet: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
