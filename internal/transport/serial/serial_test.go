//go:build linux

package serial

import (
	"testing"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

func TestInitRejectsUnknownBaud(t *testing.T) {
	b := New()
	err := b.Init(transport.Config{DevicePath: "/dev/null", BaudRate: 4800})
	if err == nil {
		t.Fatal("expected error for unsupported baud rate")
	}
}

func TestInitRejectsEmptyDevicePath(t *testing.T) {
	b := New()
	err := b.Init(transport.Config{BaudRate: 9600})
	if err == nil {
		t.Fatal("expected error for empty device path")
	}
}

func TestLinkQualityBeforeInit(t *testing.T) {
	b := New()
	if got := b.LinkQuality(1); got != -1 {
		t.Errorf("LinkQuality before init = %d, want -1", got)
	}
}

func TestGetPeersBeforeInit(t *testing.T) {
	b := New()
	out := make([]transport.PeerAddr, 1)
	if n := b.GetPeers(out); n != 0 {
		t.Errorf("GetPeers before init = %d, want 0", n)
	}
}
