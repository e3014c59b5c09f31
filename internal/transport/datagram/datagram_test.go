package datagram

import (
	"net"
	"testing"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

func TestSendRecvRoundTrip(t *testing.T) {
	server := New()
	if err := server.Init(transport.Config{BindPort: 0}); err != nil {
		t.Fatal(err)
	}
	defer server.Shutdown()

	client := New()
	if err := client.Init(transport.Config{BindPort: 0}); err != nil {
		t.Fatal(err)
	}
	defer client.Shutdown()

	serverPort := uint16(server.conn.LocalAddr().(*net.UDPAddr).Port)
	if err := client.RegisterPeer(1, "127.0.0.1", serverPort); err != nil {
		t.Fatal(err)
	}

	if _, err := client.Send(1, []byte("ping")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, _, err := server.Recv(buf, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("Recv() = %q, want %q", buf[:n], "ping")
	}
}

func TestLinkQualityUnknownPeer(t *testing.T) {
	b := New()
	if got := b.LinkQuality(123); got != -1 {
		t.Errorf("LinkQuality(unknown) = %d, want -1", got)
	}
}
