// Package meshproto implements the mesh wire message: a fixed header
// (distinct magic from the framing codec's sync bytes, to allow stream
// re-sync at a different layer) followed by a type-specific payload, all
// little-endian, mirroring the bit-packed header idiom used elsewhere in
// this lineage of code.
package meshproto

import (
	"encoding/binary"
	"fmt"
)

// Magic distinguishes a mesh message header from the framing codec's own
// sync bytes (0xAA 0x55) used by datagram-like transports underneath it.
const Magic uint32 = 0x4F4D4553 // "OMES"

const Version uint8 = 1

type Type uint8

const (
	TypeHello Type = iota + 1
	TypePing
	TypePong
	TypeDiscover
	TypePeers
	TypeSearch
	TypeResults
	TypeIndex
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeDiscover:
		return "DISCOVER"
	case TypePeers:
		return "PEERS"
	case TypeSearch:
		return "SEARCH"
	case TypeResults:
		return "RESULTS"
	case TypeIndex:
		return "INDEX"
	default:
		return "UNKNOWN"
	}
}

// HeaderSize is the fixed on-wire header length in bytes:
// magic(4) + type(1) + version(1) + flags(2) + src(8) + dst(8) + len(4) + checksum(4).
const HeaderSize = 4 + 1 + 1 + 2 + 8 + 8 + 4 + 4

// Broadcast is the destination node id meaning "every connected peer".
const Broadcast uint64 = 0

// DefaultMaxPayload is the per-message payload cap enforced by Decode; it
// must be at least 4 KiB per the wire format's invariant.
const DefaultMaxPayload = 64 * 1024

type Header struct {
	Type    Type
	Version uint8
	Flags   uint16
	Src     uint64
	Dst     uint64
	Length  uint32
}

type Message struct {
	Header
	Payload []byte
}

// checksum is a simple additive checksum over the payload bytes, stable
// within a mesh per the wire format note that header magic and checksum
// algorithm are implementation-defined but must be consistent mesh-wide.
func checksum(payload []byte) uint32 {
	var sum uint32
	for i, b := range payload {
		sum += uint32(b) << (uint(i%4) * 8)
	}
	return sum
}

// Encode serializes a message. Payload length must not exceed maxPayload.
func Encode(m Message, maxPayload int) ([]byte, error) {
	if len(m.Payload) > maxPayload {
		return nil, fmt.Errorf("meshproto: encode: payload %d exceeds cap %d", len(m.Payload), maxPayload)
	}

	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	buf[4] = byte(m.Type)
	buf[5] = m.Version
	binary.LittleEndian.PutUint16(buf[6:], m.Flags)
	binary.LittleEndian.PutUint64(buf[8:], m.Src)
	binary.LittleEndian.PutUint64(buf[16:], m.Dst)
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint32(buf[28:], checksum(m.Payload))
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

// DecodeHeader parses just the fixed header from buf, which must be at
// least HeaderSize bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("meshproto: short header (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:])
	if magic != Magic {
		return Header{}, fmt.Errorf("meshproto: bad magic %#x", magic)
	}
	h := Header{
		Type:    Type(buf[4]),
		Version: buf[5],
		Flags:   binary.LittleEndian.Uint16(buf[6:]),
		Src:     binary.LittleEndian.Uint64(buf[8:]),
		Dst:     binary.LittleEndian.Uint64(buf[16:]),
		Length:  binary.LittleEndian.Uint32(buf[24:]),
	}
	return h, nil
}

// Decode parses a complete message (header + payload) from buf. It enforces
// that the declared payload length does not exceed the bytes present, is
// within maxPayload, and that the checksum agrees; bytes after the declared
// payload are ignored. Unknown types are not rejected
// here — the caller (the reactor's dispatch table) silently drops them, per
// the mesh message invariants.
func Decode(buf []byte, maxPayload int) (Message, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Message{}, err
	}
	if h.Version != Version {
		return Message{}, fmt.Errorf("meshproto: unsupported version %d", h.Version)
	}
	if int(h.Length) > maxPayload {
		return Message{}, fmt.Errorf("meshproto: declared length %d exceeds cap %d", h.Length, maxPayload)
	}
	want := HeaderSize + int(h.Length)
	if len(buf) < want {
		return Message{}, fmt.Errorf("meshproto: declared length %d does not match %d bytes available", h.Length, len(buf)-HeaderSize)
	}
	payload := buf[HeaderSize:want]
	storedChecksum := binary.LittleEndian.Uint32(buf[28:])
	if checksum(payload) != storedChecksum {
		return Message{}, fmt.Errorf("meshproto: checksum mismatch")
	}
	return Message{Header: h, Payload: append([]byte(nil), payload...)}, nil
}
