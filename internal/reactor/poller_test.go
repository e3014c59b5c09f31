//go:build linux

package reactor

import (
	"os"
	"testing"
	"time"
)

func TestAddWaitDelPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Add(int(r.Fd()), false); err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}

	events := make([]Event, 4)
	n, err := p.Wait(time.Second, events)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].FD != int(r.Fd()) || !events[0].Readable {
		t.Fatalf("Wait() = %d events %+v, want one readable event on read fd", n, events)
	}

	if err := p.Del(int(r.Fd())); err != nil {
		t.Fatal(err)
	}
}

func TestWaitTimesOutWithNothingReady(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Add(int(r.Fd()), false); err != nil {
		t.Fatal(err)
	}

	events := make([]Event, 4)
	n, err := p.Wait(10*time.Millisecond, events)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("Wait() = %d events, want 0", n)
	}
}
