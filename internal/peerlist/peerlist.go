// Package peerlist implements the bounded, persistent set of known peers
// keyed by node id with address fallback, per the data model's peer list
// invariants: capacity <= 64, uniqueness on node id and on (host, port),
// swap-last-into-slot removal, and a local node id excluded from discovery.
package peerlist

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Capacity is the maximum number of peer entries a List holds.
const Capacity = 64

type Transport uint8

const (
	TransportNone Transport = iota
	TransportStream
	TransportDatagram
	TransportSerial
	TransportRadioLong
	TransportRadioShort
	TransportKernelMesh
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Flag bits for Entry.Flags.
const (
	FlagPersistentSeed uint8 = 1 << iota
	FlagDiscovered
)

// LinkQualityUnknown is the sentinel value meaning quality has not been
// measured yet.
const LinkQualityUnknown uint8 = 255

// Entry is one peer-list row. ConnFD is volatile (an index into the
// connection table, not persisted meaningfully across restarts) but is kept
// on the struct because the data model lists it alongside the persistent
// fields; Save does not write it and Load always sets it to -1.
type Entry struct {
	NodeID      uint64
	Host        string
	Port        uint16
	Transport   Transport
	Status      Status
	Flags       uint8
	LastSeen    int64
	LinkQuality uint8
	ConnFD      int32
}

var (
	ErrFull      = fmt.Errorf("peerlist: full")
	ErrDuplicate = fmt.Errorf("peerlist: duplicate")
	ErrNotFound  = fmt.Errorf("peerlist: not found")
)

// List is the peer list itself. It has no internal locking: per the
// concurrency model, it is touched only by the single engine thread.
type List struct {
	localID uint64
	entries []Entry
}

func New() *List {
	return &List{}
}

func (l *List) SetLocalID(id uint64) { l.localID = id }
func (l *List) LocalID() uint64      { return l.localID }

// Count returns the number of occupied entries.
func (l *List) Count() int { return len(l.entries) }

// Add appends a new entry, enforcing capacity and the two uniqueness
// invariants. node_id may be 0 ("not yet learned via HELLO").
func (l *List) Add(host string, port uint16, nodeID uint64) (int, error) {
	if len(l.entries) >= Capacity {
		return -1, ErrFull
	}
	if nodeID != 0 {
		if idx := l.Find(nodeID); idx >= 0 {
			return -1, ErrDuplicate
		}
	}
	if idx := l.FindByAddr(host, port); idx >= 0 {
		return -1, ErrDuplicate
	}

	l.entries = append(l.entries, Entry{
		NodeID:      nodeID,
		Host:        host,
		Port:        port,
		Status:      StatusUnknown,
		LinkQuality: LinkQualityUnknown,
		ConnFD:      -1,
	})
	return len(l.entries) - 1, nil
}

// Remove deletes the entry for nodeID, if any, swapping the last entry into
// the removed slot (so indices are not stable across Remove calls).
func (l *List) Remove(nodeID uint64) bool {
	idx := l.Find(nodeID)
	if idx < 0 {
		return false
	}
	last := len(l.entries) - 1
	l.entries[idx] = l.entries[last]
	l.entries = l.entries[:last]
	return true
}

// Get returns a copy of the entry at idx, or false if out of range.
func (l *List) Get(idx int) (Entry, bool) {
	if idx < 0 || idx >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[idx], true
}

// Find returns the index of the entry with the given non-zero node id, or
// -1. Node id 0 is never found (it means "not yet learned").
func (l *List) Find(nodeID uint64) int {
	if nodeID == 0 {
		return -1
	}
	for i := range l.entries {
		if l.entries[i].NodeID == nodeID {
			return i
		}
	}
	return -1
}

// FindByAddr returns the index of the entry with the given (host, port), or
// -1.
func (l *List) FindByAddr(host string, port uint16) int {
	for i := range l.entries {
		if l.entries[i].Host == host && l.entries[i].Port == port {
			return i
		}
	}
	return -1
}

// FindByTransport returns the indices of entries whose Transport matches t.
func (l *List) FindByTransport(t Transport) []int {
	var out []int
	for i := range l.entries {
		if l.entries[i].Transport == t {
			out = append(out, i)
		}
	}
	return out
}

func (l *List) mustEntry(idx int) (*Entry, error) {
	if idx < 0 || idx >= len(l.entries) {
		return nil, ErrNotFound
	}
	return &l.entries[idx], nil
}

func (l *List) UpdateStatus(idx int, s Status) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.Status = s
	return nil
}

// UpdateLastSeen stamps the entry with the current real time. Per the
// monotonicity invariant, last_seen never decreases, so a stale stamp (e.g.
// a delayed PONG) is simply ignored.
func (l *List) UpdateLastSeen(idx int) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if now > e.LastSeen {
		e.LastSeen = now
	}
	return nil
}

func (l *List) UpdateNodeID(idx int, nodeID uint64) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.NodeID = nodeID
	return nil
}

func (l *List) SetTransport(idx int, t Transport) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.Transport = t
	return nil
}

func (l *List) GetTransport(idx int) (Transport, error) {
	e, err := l.mustEntry(idx)
	if err != nil {
		return TransportNone, err
	}
	return e.Transport, nil
}

func (l *List) SetLinkQuality(idx int, q uint8) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.LinkQuality = q
	return nil
}

func (l *List) GetLinkQuality(idx int) (uint8, error) {
	e, err := l.mustEntry(idx)
	if err != nil {
		return 0, err
	}
	return e.LinkQuality, nil
}

func (l *List) SetConnFD(idx int, fd int32) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.ConnFD = fd
	return nil
}

func (l *List) SetFlags(idx int, flags uint8) error {
	e, err := l.mustEntry(idx)
	if err != nil {
		return err
	}
	e.Flags = flags
	return nil
}

// All returns a copy of every entry, for enumeration (e.g. the HTTP /peers
// route, or the periodic maintenance sweep).
func (l *List) All() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

const (
	fileMagic   uint32 = 0x4F504C31 // "OPL1"
	fileVersion uint32 = 1
	entrySize          = 48
	headerSize         = 4 + 4 + 4 + 4 + 8 + 8
)

// Save writes the peer list to path in the format described in the data
// model: magic | version | count | capacity | local_id | reserved, followed
// by count 48-byte entries. Count is authoritative; entries are written in
// current slot order regardless of historical removals.
func (l *List) Save(path string) error {
	buf := make([]byte, headerSize+entrySize*len(l.entries))
	binary.LittleEndian.PutUint32(buf[0:], fileMagic)
	binary.LittleEndian.PutUint32(buf[4:], fileVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(l.entries)))
	binary.LittleEndian.PutUint32(buf[12:], Capacity)
	binary.LittleEndian.PutUint64(buf[16:], l.localID)
	binary.LittleEndian.PutUint64(buf[24:], 0) // reserved

	off := headerSize
	for _, e := range l.entries {
		encodeEntry(buf[off:off+entrySize], e)
		off += entrySize
	}

	return os.WriteFile(path, buf, 0o600)
}

func encodeEntry(dst []byte, e Entry) {
	binary.LittleEndian.PutUint64(dst[0:], e.NodeID)
	hostBytes := []byte(e.Host)
	if len(hostBytes) > 15 {
		hostBytes = hostBytes[:15]
	}
	copy(dst[8:8+16], hostBytes)
	binary.LittleEndian.PutUint16(dst[24:], e.Port)
	dst[26] = byte(e.Transport)
	dst[27] = byte(e.Status)
	dst[28] = e.Flags
	dst[29] = e.LinkQuality
	binary.LittleEndian.PutUint64(dst[30:], uint64(e.LastSeen))
	// bytes 38..48 reserved
}

func decodeEntry(src []byte) Entry {
	hostRaw := src[8:24]
	nul := len(hostRaw)
	for i, b := range hostRaw {
		if b == 0 {
			nul = i
			break
		}
	}
	return Entry{
		NodeID:      binary.LittleEndian.Uint64(src[0:]),
		Host:        string(hostRaw[:nul]),
		Port:        binary.LittleEndian.Uint16(src[24:]),
		Transport:   Transport(src[26]),
		Status:      Status(src[27]),
		Flags:       src[28],
		LinkQuality: src[29],
		LastSeen:    int64(binary.LittleEndian.Uint64(src[30:])),
		ConnFD:      -1,
	}
}

// Load reads a peer list file. A magic or version mismatch yields a clean
// empty list rather than an error, per the data model's persistence note:
// the node must not abort over a stale or foreign peer-list file.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	if len(data) < headerSize {
		return New(), nil
	}
	magic := binary.LittleEndian.Uint32(data[0:])
	version := binary.LittleEndian.Uint32(data[4:])
	if magic != fileMagic || version != fileVersion {
		return New(), nil
	}

	count := binary.LittleEndian.Uint32(data[8:])
	localID := binary.LittleEndian.Uint64(data[16:])

	l := New()
	l.localID = localID

	need := headerSize + entrySize*int(count)
	if len(data) < need {
		// Truncated file: return a fresh empty list (no entries are
		// recovered) rather than erroring out the whole node.
		return New(), nil
	}

	off := headerSize
	for i := uint32(0); i < count; i++ {
		l.entries = append(l.entries, decodeEntry(data[off:off+entrySize]))
		off += entrySize
	}
	return l, nil
}
