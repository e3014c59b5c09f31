package stream

import (
	"testing"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

func TestSendRecvRoundTrip(t *testing.T) {
	server := New()
	if err := server.Init(transport.Config{Listen: true, BindPort: 0}); err != nil {
		t.Fatal(err)
	}
	defer server.Shutdown()

	addr := server.ln.Addr().String()
	host, port := splitAddr(addr)
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	client := New()
	if err := client.Init(transport.Config{}); err != nil {
		t.Fatal(err)
	}
	defer client.Shutdown()

	if err := client.Dial(1, host, port); err != nil {
		t.Fatal(err)
	}

	if _, err := client.Send(1, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, _, err := server.Recv(buf, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Recv() = %q, want %q", buf[:n], "hello")
	}
}

func TestLinkQualityUnknownPeer(t *testing.T) {
	b := New()
	if got := b.LinkQuality(999); got != -1 {
		t.Errorf("LinkQuality(unknown) = %d, want -1", got)
	}
}

