package nodeid

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	id1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id1 == Unknown {
		t.Fatalf("generated id must not be Unknown (0)")
	}

	id2, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Load not idempotent: %x != %x", id1, id2)
	}
}

func TestFormatIs16CharLowercaseHex(t *testing.T) {
	s := Format(0xdeadbeefcafebabe)
	if len(s) != 16 {
		t.Fatalf("Format length = %d, want 16", len(s))
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Fatalf("Format produced non-lowercase-hex rune %q in %q", r, s)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := uint64(0x0102030405060708)
	got, err := Parse(Format(want))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %x, want %x", got, want)
	}
}

func TestLoadRegeneratesOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte("not hex!!"), 0o600); err != nil {
		t.Fatal(err)
	}
	id, err := Load(dir)
	if err != nil {
		t.Fatalf("Load over corrupt file: %v", err)
	}
	if id == Unknown {
		t.Fatalf("expected a freshly generated non-zero id")
	}
}
