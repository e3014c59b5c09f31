// Package connset implements the fixed-size connection table: the volatile
// per-link state machine that sits between an accepted/dialed socket and a
// peer-list entry. See the data model's connection entry and state
// transition diagram.
package connset

import "fmt"

// Capacity is the maximum number of simultaneous connection slots.
const Capacity = 64

type State uint8

const (
	StateFree State = iota
	StateConnecting
	StateAwaitHello
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateConnecting:
		return "connecting"
	case StateAwaitHello:
		return "await-hello"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Direction records whether a connection was accepted or dialed.
type Direction uint8

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// Conn is one connection-table slot. FD is the transport-level handle (a
// raw file descriptor for stream/datagram-like backends using the reactor's
// epoll facility, or a small synthetic int for non-socket backends); -1
// means the slot is free.
type Conn struct {
	FD            int
	State         State
	PeerIdx       int
	RemoteNodeID  uint64
	Direction     Direction
	TransportTag  int
}

var (
	ErrFull     = fmt.Errorf("connset: full")
	ErrNotFound = fmt.Errorf("connset: not found")
)

// weight gives the relative ordering of states used to enforce the
// never-regress-from-connected-to-connecting monotonicity invariant.
func weight(s State) int {
	switch s {
	case StateFree:
		return 0
	case StateConnecting:
		return 1
	case StateAwaitHello:
		return 2
	case StateConnected:
		return 3
	case StateClosing:
		return 4
	default:
		return -1
	}
}

// Table is the fixed-size connection table. No internal locking: touched
// only by the single reactor thread.
type Table struct {
	slots []Conn
}

func New() *Table {
	t := &Table{slots: make([]Conn, Capacity)}
	for i := range t.slots {
		t.slots[i] = Conn{FD: -1, State: StateFree, PeerIdx: -1}
	}
	return t
}

// Alloc finds a free slot and initializes it, returning its index, or
// ErrFull if the table is saturated.
func (t *Table) Alloc(fd int, dir Direction, state State) (int, error) {
	for i := range t.slots {
		if t.slots[i].State == StateFree {
			t.slots[i] = Conn{
				FD:        fd,
				State:     state,
				PeerIdx:   -1,
				Direction: dir,
			}
			return i, nil
		}
	}
	return -1, ErrFull
}

func (t *Table) Get(idx int) (Conn, bool) {
	if idx < 0 || idx >= len(t.slots) {
		return Conn{}, false
	}
	return t.slots[idx], true
}

// FindByFD returns the slot index owning fd, or -1.
func (t *Table) FindByFD(fd int) int {
	if fd < 0 {
		return -1
	}
	for i := range t.slots {
		if t.slots[i].State != StateFree && t.slots[i].FD == fd {
			return i
		}
	}
	return -1
}

// SetState transitions the slot at idx to s. Transitioning back to
// StateConnecting from StateConnected or later is rejected, enforcing the
// monotonicity invariant; all other transitions (including to StateClosing,
// which precedes freeing) are allowed.
func (t *Table) SetState(idx int, s State) error {
	c, err := t.mustSlot(idx)
	if err != nil {
		return err
	}
	if weight(s) == 1 && weight(c.State) >= 3 {
		return fmt.Errorf("connset: illegal transition %s -> %s", c.State, s)
	}
	c.State = s
	return nil
}

func (t *Table) SetPeerIdx(idx, peerIdx int) error {
	c, err := t.mustSlot(idx)
	if err != nil {
		return err
	}
	c.PeerIdx = peerIdx
	return nil
}

func (t *Table) SetRemoteNodeID(idx int, id uint64) error {
	c, err := t.mustSlot(idx)
	if err != nil {
		return err
	}
	c.RemoteNodeID = id
	return nil
}

func (t *Table) SetTransportTag(idx, tag int) error {
	c, err := t.mustSlot(idx)
	if err != nil {
		return err
	}
	c.TransportTag = tag
	return nil
}

// Free releases the slot at idx back to StateFree, clearing its fields. It
// does not close any underlying socket — that is the caller's (the
// reactor's tear-down routine's) responsibility, since the table owns only
// bookkeeping, not the fd's lifetime.
func (t *Table) Free(idx int) error {
	if _, err := t.mustSlot(idx); err != nil {
		return err
	}
	t.slots[idx] = Conn{FD: -1, State: StateFree, PeerIdx: -1}
	return nil
}

func (t *Table) mustSlot(idx int) (*Conn, error) {
	if idx < 0 || idx >= len(t.slots) {
		return nil, ErrNotFound
	}
	return &t.slots[idx], nil
}

// Connected returns the indices of every slot currently in StateConnected.
func (t *Table) Connected() []int {
	var out []int
	for i := range t.slots {
		if t.slots[i].State == StateConnected {
			out = append(out, i)
		}
	}
	return out
}

// Occupied returns the indices of every slot not in StateFree — connecting,
// awaiting HELLO, connected, or closing — for callers like shutdown that
// must tear down every live fd regardless of handshake progress.
func (t *Table) Occupied() []int {
	var out []int
	for i := range t.slots {
		if t.slots[i].State != StateFree {
			out = append(out, i)
		}
	}
	return out
}

// CountByState returns the number of slots in state s.
func (t *Table) CountByState(s State) int {
	n := 0
	for i := range t.slots {
		if t.slots[i].State == s {
			n++
		}
	}
	return n
}
