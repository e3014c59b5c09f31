package transport

import (
	"testing"
	"time"
)

func TestParseTagRoundTrip(t *testing.T) {
	cases := map[string]Tag{
		"tcp":       TagStream,
		"udp":       TagDatagram,
		"serial":    TagSerial,
		"bluetooth": TagRadioShort,
		"lora":       TagRadioLong,
		"wifi-mesh": TagKernelMesh,
	}
	for name, want := range cases {
		got, ok := ParseTag(name)
		if !ok || got != want {
			t.Errorf("ParseTag(%q) = %v,%v want %v,true", name, got, ok, want)
		}
	}
	if _, ok := ParseTag("nope"); ok {
		t.Error("ParseTag(\"nope\") should fail")
	}
}

func TestTagString(t *testing.T) {
	if TagStream.String() != "stream-socket" {
		t.Errorf("TagStream.String() = %q", TagStream.String())
	}
	if TagNone.String() != "none" {
		t.Errorf("TagNone.String() = %q", TagNone.String())
	}
}

type fakeBackend struct{ inited bool }

func (f *fakeBackend) Init(cfg Config) error                        { f.inited = true; return nil }
func (f *fakeBackend) Shutdown()                                    {}
func (f *fakeBackend) Send(peerID uint64, data []byte) (int, error) { return len(data), nil }
func (f *fakeBackend) Recv(buf []byte, timeout time.Duration) (int, uint64, error) {
	return 0, 0, nil
}
func (f *fakeBackend) GetPeers(out []PeerAddr) int   { return 0 }
func (f *fakeBackend) LinkQuality(peerID uint64) int { return -1 }

var _ Backend = (*fakeBackend)(nil)
