// Package transport defines the capability-object contract every link-type
// backend implements (the Go rendition of the source's function-pointer
// vtable, per the design notes), plus the registry and selection policy
// that multiplex over the active set of backends.
package transport

import (
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
)

// Tag identifies a transport kind. Values are stable and used on the wire
// (the peer list's transport field) as well as in the CLI's --transport
// flag.
type Tag uint8

const (
	TagNone Tag = iota
	TagStream
	TagDatagram
	TagSerial
	TagRadioLong
	TagRadioShort
	TagKernelMesh

	numTags
)

func (t Tag) String() string {
	switch t {
	case TagStream:
		return "stream-socket"
	case TagDatagram:
		return "datagram-socket"
	case TagSerial:
		return "serial"
	case TagRadioLong:
		return "radio-longrange"
	case TagRadioShort:
		return "radio-short"
	case TagKernelMesh:
		return "kernel-mesh"
	default:
		return "none"
	}
}

// ParseTag maps the CLI-facing transport names to a Tag.
func ParseTag(name string) (Tag, bool) {
	switch name {
	case "tcp":
		return TagStream, true
	case "udp":
		return TagDatagram, true
	case "serial":
		return TagSerial, true
	case "bluetooth":
		return TagRadioShort, true
	case "lora":
		return TagRadioLong, true
	case "wifi-mesh":
		return TagKernelMesh, true
	default:
		return TagNone, false
	}
}

// Config carries the per-backend initialization parameters. Not every
// field applies to every backend; unused fields are ignored.
type Config struct {
	Tag Tag

	Listen    bool
	Broadcast bool
	BindPort  uint16

	DevicePath string
	BaudRate   int

	// RadioBand/RadioPower/RadioSpreadFactor are long-radio-specific extras.
	RadioBand          string
	RadioPower         int
	RadioSpreadFactor  int

	InterfaceName string // for the kernel-mesh backend

	MaxPayload int
}

// PeerAddr is one entry returned by Backend.GetPeers.
type PeerAddr struct {
	PeerID uint64
	Host   string
	Port   uint16
}

// Backend is the six-operation contract every link-type implementation
// honors, per the transport backend section.
type Backend interface {
	Init(cfg Config) error
	Shutdown()

	// Send writes data to peerID, or broadcasts to every known peer of this
	// backend if peerID is 0. It returns the number of bytes sent.
	Send(peerID uint64, data []byte) (int, error)

	// Recv blocks for up to timeout waiting for one inbound message. A
	// timeout of 0 means "poll, don't block".
	Recv(buf []byte, timeout time.Duration) (n int, peerID uint64, err error)

	// GetPeers fills out with up to len(out) known peers and returns the
	// count written.
	GetPeers(out []PeerAddr) int

	// LinkQuality returns 0-100, or -1 if unknown or the peer is not known.
	LinkQuality(peerID uint64) int
}

// NotInitialized is a convenience constructor backends use before Init has
// run.
func NotInitialized(op string) error {
	return errs.New(errs.KindNotInitialized, op, nil)
}
