package meshproto

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	m := Message{
		Header: Header{
			Type:    TypeHello,
			Version: Version,
			Flags:   0x1234,
			Src:     0x0102030405060708,
			Dst:     Broadcast,
		},
		Payload: []byte("payload bytes"),
	}
	buf, err := Encode(m, DefaultMaxPayload)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(buf, DefaultMaxPayload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != m.Type || got.Src != m.Src || got.Dst != m.Dst || got.Flags != m.Flags {
		t.Fatalf("header mismatch: %+v vs %+v", got.Header, m.Header)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Fatalf("payload mismatch: %q vs %q", got.Payload, m.Payload)
	}
}

func TestBadMagicRejected(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("expected error for zeroed (bad-magic) header")
	}
}

func TestDeclaredLengthExceedingBufferRejected(t *testing.T) {
	m := Message{Header: Header{Type: TypePing, Version: Version}, Payload: []byte("x")}
	buf, _ := Encode(m, DefaultMaxPayload)
	// Lie about the length in the header without adding the bytes.
	buf[24] = 0xFF
	if _, err := Decode(buf, DefaultMaxPayload); err == nil {
		t.Fatal("expected error when declared length exceeds available bytes")
	}
}

func TestDeclaredLengthExceedingCapRejected(t *testing.T) {
	m := Message{Header: Header{Type: TypeIndex}, Payload: make([]byte, 100)}
	if _, err := Encode(m, 50); err == nil {
		t.Fatal("expected Encode to reject payload exceeding cap")
	}
}

func TestChecksumMismatchRejected(t *testing.T) {
	m := Message{Header: Header{Type: TypePing, Version: Version}, Payload: []byte("abc")}
	buf, _ := Encode(m, DefaultMaxPayload)
	buf[len(buf)-1] ^= 0xFF
	if _, err := Decode(buf, DefaultMaxPayload); err == nil {
		t.Fatal("expected checksum mismatch to be rejected")
	}
}

func TestHelloPayloadRoundTrip(t *testing.T) {
	p := HelloPayload{NodeID: 0xabc, Version: 1, MeshPort: 9000, HTTPPort: 8080, Flags: 3}
	got, err := DecodeHello(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestSearchPayloadRoundTrip(t *testing.T) {
	p := SearchPayload{QueryID: 7, Flags: 0, MaxResults: 10, Query: "hello world"}
	got, err := DecodeSearch(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestResultsPayloadRoundTrip(t *testing.T) {
	p := ResultsPayload{QueryID: 9, Results: []ResultRecord{{DocID: 1, Score: 5}, {DocID: 2, Score: 9}}}
	got, err := DecodeResults(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.QueryID != p.QueryID || len(got.Results) != len(p.Results) {
		t.Fatalf("got %+v, want %+v", got, p)
	}
	for i := range p.Results {
		if got.Results[i] != p.Results[i] {
			t.Fatalf("result[%d] = %+v, want %+v", i, got.Results[i], p.Results[i])
		}
	}
}

func TestIndexPayloadRoundTrip(t *testing.T) {
	p := IndexPayload{DocID: 42, Op: IndexPut, Content: []byte("hello world")}
	got, err := DecodeIndex(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.DocID != p.DocID || got.Op != p.Op || !bytes.Equal(got.Content, p.Content) {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestPeersPayloadRoundTrip(t *testing.T) {
	p := PeersPayload{Peers: []PeerRecord{
		{NodeID: 1, Host: "10.0.0.1", Port: 9000},
		{NodeID: 2, Host: "192.168.1.1", Port: 9001},
	}}
	got, err := DecodePeers(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Peers) != 2 {
		t.Fatalf("len(Peers) = %d, want 2", len(got.Peers))
	}
	for i := range p.Peers {
		if got.Peers[i] != p.Peers[i] {
			t.Fatalf("peer[%d] = %+v, want %+v", i, got.Peers[i], p.Peers[i])
		}
	}
}
