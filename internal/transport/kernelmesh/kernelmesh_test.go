//go:build linux

package kernelmesh

import (
	"testing"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

func TestInitRequiresInterfaceName(t *testing.T) {
	b := New()
	if err := b.Init(transport.Config{}); err == nil {
		t.Fatal("expected error without an interface name")
	}
}

func TestLinkQualityUnknownPeer(t *testing.T) {
	b := New()
	if got := b.LinkQuality(1); got != -1 {
		t.Errorf("LinkQuality(unknown) = %d, want -1", got)
	}
}
