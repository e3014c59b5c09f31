//go:build linux

package httpapi

import (
	"bufio"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/engine"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	eng, err := engine.New(logger.Discard(), engine.Config{
		NodeID:       1,
		IndexPath:    filepath.Join(dir, "index.gob"),
		PeerListPath: filepath.Join(dir, "peers.bin"),
		NoMesh:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(eng)
}

// roundTrip drives one request/response over an in-memory net.Pipe, the
// same connection shape ServeConn sees from a real accepted client.
func roundTrip(t *testing.T, s *Server, raw string) *http.Response {
	t.Helper()
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		s.ServeConn(server)
		server.Close()
		close(done)
	}()

	if _, err := client.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	<-done
	return resp
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "GET /health HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "GET /nope HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWrongMethodIs405(t *testing.T) {
	s := newTestServer(t)
	resp := roundTrip(t, s, "DELETE /health HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestIndexThenSearchRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body := `{"content":"hello world"}`
	req := "POST /index HTTP/1.1\r\nHost: x\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	resp := roundTrip(t, s, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /index status = %d, want 200", resp.StatusCode)
	}

	resp2 := roundTrip(t, s, "GET /search?q=hello HTTP/1.1\r\nHost: x\r\n\r\n")
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("GET /search status = %d, want 200", resp2.StatusCode)
	}
}

func TestMalformedIndexBodyIs400(t *testing.T) {
	s := newTestServer(t)
	body := `not json`
	req := "POST /index HTTP/1.1\r\nHost: x\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	resp := roundTrip(t, s, req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
