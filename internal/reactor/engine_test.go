//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/events"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/logger"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/peerlist"
)

func newTestEngine(t *testing.T, nodeID uint64, meshPort uint16) *Engine {
	t.Helper()
	log := logger.Discard()
	ev := events.NewLog()
	peers := peerlist.New()
	peers.SetLocalID(nodeID)
	return New(log, ev, peers, nodeID, meshPort, 0, nil)
}

func TestEngineStartStop(t *testing.T) {
	e := newTestEngine(t, 1, 0)
	if err := e.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if !e.Running() {
		t.Fatal("Running() = false after Start")
	}
	e.Stop()
	if e.Running() {
		t.Fatal("Running() = true after Stop")
	}
}

func TestHandshakeBetweenTwoEngines(t *testing.T) {
	a := newTestEngine(t, 1, 0)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()
	aPort, err := a.ListenPort()
	if err != nil {
		t.Fatal(err)
	}

	b := newTestEngine(t, 2, 0)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	peerIdx, err := b.peers.Add("127.0.0.1", aPort, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(peerIdx, "127.0.0.1", aPort); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := a.Pump(50 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if err := b.Pump(50 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if a.peers.Find(2) >= 0 && b.peers.Find(1) >= 0 {
			break
		}
	}

	if a.peers.Find(2) < 0 {
		t.Error("node A never learned node B's id via HELLO")
	}
	if b.peers.Find(1) < 0 {
		t.Error("node B never learned node A's id via HELLO")
	}
}

func TestPumpWithNoEventsReturnsPromptly(t *testing.T) {
	e := newTestEngine(t, 1, 0)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	start := time.Now()
	if err := e.Pump(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Pump blocked far longer than its timeout")
	}
}
