package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	e := New(KindLink, "recv", errors.New("deadline exceeded"))
	want := "recv: link: deadline exceeded"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	bare := New(KindArgument, "add", nil)
	if bare.Error() != "add: argument" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "add: argument")
	}
}

func TestIsUnwraps(t *testing.T) {
	inner := New(KindProtocol, "decode", nil)
	wrapped := fmt.Errorf("frame: %w", inner)
	if !Is(wrapped, KindProtocol) {
		t.Errorf("expected Is to find wrapped KindProtocol error")
	}
	if Is(wrapped, KindIO) {
		t.Errorf("expected Is to reject mismatched kind")
	}
}

func TestCodeMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotInitialized: CodeNotInitialized,
		KindArgument:       CodeInvalidArg,
		KindPeerNotFound:   CodeNoSuchPeer,
		KindProtocol:       CodeFrameError,
	}
	for kind, want := range cases {
		if got := Code(kind); got != want {
			t.Errorf("Code(%v) = %d, want %d", kind, got, want)
		}
	}
}
