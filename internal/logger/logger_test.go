package logger

import "testing"

func TestHandlerReceivesTrimmedMessage(t *testing.T) {
	l := Discard()
	var got string
	l.AddHandler(LevelWarn, func(lvl Level, msg string) {
		if lvl != LevelWarn {
			t.Errorf("level = %v, want LevelWarn", lvl)
		}
		got = msg
	})
	l.Warnln("disk low   ")
	if got != "disk low" {
		t.Errorf("handler msg = %q, want %q", got, "disk low")
	}
}

func TestFacilityGating(t *testing.T) {
	l := Discard()
	n := 0
	l.AddHandler(LevelDebug, func(Level, string) { n++ })

	l.DebugFacility("mesh", "tick")
	if n != 0 {
		t.Fatalf("expected no debug output before facility enabled, got %d calls", n)
	}

	l.EnableFacility("mesh")
	l.DebugFacility("mesh", "tick")
	if n != 1 {
		t.Fatalf("expected 1 debug call after enabling facility, got %d", n)
	}

	l.DebugFacility("transport", "send")
	if n != 1 {
		t.Fatalf("expected unrelated facility to stay gated, got %d calls", n)
	}
}

func TestEnableAllFacility(t *testing.T) {
	l := Discard()
	n := 0
	l.AddHandler(LevelDebug, func(Level, string) { n++ })
	l.EnableFacility("all")
	l.DebugFacility("anything", "x")
	if n != 1 {
		t.Fatalf("expected 'all' to gate every facility, got %d calls", n)
	}
}
