package connset

import "testing"

func TestAllocAndFree(t *testing.T) {
	tbl := New()
	idx, err := tbl.Alloc(10, DirectionInbound, StateAwaitHello)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := tbl.Get(idx)
	if !ok || c.FD != 10 || c.State != StateAwaitHello {
		t.Fatalf("unexpected slot: %+v", c)
	}
	if err := tbl.Free(idx); err != nil {
		t.Fatal(err)
	}
	c, _ = tbl.Get(idx)
	if c.State != StateFree || c.FD != -1 {
		t.Fatalf("slot not reset after Free: %+v", c)
	}
}

func TestCapacityEnforced(t *testing.T) {
	tbl := New()
	for i := 0; i < Capacity; i++ {
		if _, err := tbl.Alloc(i, DirectionOutbound, StateConnecting); err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
	}
	if _, err := tbl.Alloc(999, DirectionOutbound, StateConnecting); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestFindByFD(t *testing.T) {
	tbl := New()
	idx, _ := tbl.Alloc(42, DirectionInbound, StateAwaitHello)
	if got := tbl.FindByFD(42); got != idx {
		t.Errorf("FindByFD(42) = %d, want %d", got, idx)
	}
	if got := tbl.FindByFD(-1); got != -1 {
		t.Errorf("FindByFD(-1) = %d, want -1", got)
	}
}

func TestNeverRegressesFromConnected(t *testing.T) {
	tbl := New()
	idx, _ := tbl.Alloc(1, DirectionOutbound, StateConnecting)
	if err := tbl.SetState(idx, StateAwaitHello); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetState(idx, StateConnected); err != nil {
		t.Fatal(err)
	}
	if err := tbl.SetState(idx, StateConnecting); err == nil {
		t.Fatal("expected error regressing connected -> connecting")
	}
	// Closing is still allowed from connected.
	if err := tbl.SetState(idx, StateClosing); err != nil {
		t.Fatalf("connected -> closing should be allowed: %v", err)
	}
}

func TestConnectedEnumeration(t *testing.T) {
	tbl := New()
	a, _ := tbl.Alloc(1, DirectionInbound, StateConnecting)
	b, _ := tbl.Alloc(2, DirectionInbound, StateConnecting)
	tbl.SetState(a, StateAwaitHello)
	tbl.SetState(a, StateConnected)

	conn := tbl.Connected()
	if len(conn) != 1 || conn[0] != a {
		t.Fatalf("Connected() = %v, want [%d]", conn, a)
	}
	_ = b
}

func TestOccupiedIncludesEveryNonFreeState(t *testing.T) {
	tbl := New()
	connecting, _ := tbl.Alloc(1, DirectionInbound, StateConnecting)
	awaitHello, _ := tbl.Alloc(2, DirectionInbound, StateConnecting)
	tbl.SetState(awaitHello, StateAwaitHello)
	connected, _ := tbl.Alloc(3, DirectionInbound, StateConnecting)
	tbl.SetState(connected, StateAwaitHello)
	tbl.SetState(connected, StateConnected)
	closing, _ := tbl.Alloc(4, DirectionInbound, StateConnecting)
	tbl.SetState(closing, StateClosing)

	occupied := tbl.Occupied()
	if len(occupied) != 4 {
		t.Fatalf("Occupied() = %v, want 4 entries", occupied)
	}
	want := map[int]bool{connecting: true, awaitHello: true, connected: true, closing: true}
	for _, idx := range occupied {
		if !want[idx] {
			t.Fatalf("Occupied() contained unexpected idx %d", idx)
		}
	}
}
