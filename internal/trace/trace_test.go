package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/pcapgo"

	"github.com/tturner/fracture/internal/packet"
)

func TestWriteAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := packet.New([]byte{1, 2, 3, 4})
	if err := w.Write(p); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open for read: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	data, _, err := r.ReadPacketData()
	if err != nil {
		t.Fatalf("ReadPacketData: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("read back %d bytes, want 4", len(data))
	}
}
