package events

import "testing"

func TestSinceOrdersOldestFirst(t *testing.T) {
	l := NewLog()
	l.Add(PeerConnected, map[string]string{"id": "a"})
	l.Add(PeerConnected, map[string]string{"id": "b"})
	l.Add(PeerConnected, map[string]string{"id": "c"})

	evs := l.Since(-1)
	if len(evs) != 3 {
		t.Fatalf("len = %d, want 3", len(evs))
	}
	for i, e := range evs {
		if e.ID != i {
			t.Errorf("evs[%d].ID = %d, want %d", i, e.ID, i)
		}
	}
}

func TestSinceFiltersByID(t *testing.T) {
	l := NewLog()
	for i := 0; i < 5; i++ {
		l.Add(SearchCompleted, nil)
	}
	evs := l.Since(2)
	if len(evs) != 2 {
		t.Fatalf("len = %d, want 2", len(evs))
	}
	if evs[0].ID != 3 || evs[1].ID != 4 {
		t.Errorf("unexpected ids: %d, %d", evs[0].ID, evs[1].ID)
	}
}

func TestRingBufferWraps(t *testing.T) {
	l := NewLog()
	for i := 0; i < capacity+10; i++ {
		l.Add(PeerTimedOut, nil)
	}
	if l.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", l.Len(), capacity)
	}
	evs := l.Since(0)
	if len(evs) != capacity {
		t.Fatalf("Since(0) len = %d, want %d", len(evs), capacity)
	}
	// The oldest retained event should be the 11th added (ID == 10).
	if evs[0].ID != 10 {
		t.Errorf("oldest retained ID = %d, want 10", evs[0].ID)
	}
}
