// Package datagram implements the datagram-socket transport backend: UDP
// carrying framed messages per internal/framing, with per-peer rx-ok/rx-fail
// counters feeding link quality — grounded on the teacher's beacon/multicast.go
// UDP idiom and discover/discover.go's packet encode/decode.
package datagram

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/framing"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

type peerStat struct {
	addr   *net.UDPAddr
	rxOK   int
	rxFail int
}

// Backend is the datagram-socket transport.
type Backend struct {
	mu         sync.Mutex
	conn       *net.UDPConn
	maxPayload int
	byID       map[uint64]*peerStat
	dec        *framing.Decoder
	inbox      chan inboundMsg
	closed     bool
}

type inboundMsg struct {
	peerID uint64
	data   []byte
}

func New() *Backend {
	return &Backend{
		byID:  make(map[uint64]*peerStat),
		inbox: make(chan inboundMsg, 256),
	}
}

func (b *Backend) Init(cfg transport.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maxPayload = cfg.MaxPayload
	if b.maxPayload <= 0 {
		b.maxPayload = framing.DefaultMaxPayload
	}
	b.dec = framing.NewDecoder(b.maxPayload)

	addr := &net.UDPAddr{Port: int(cfg.BindPort)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errs.New(errs.KindIO, "datagram.Init", err)
	}
	b.conn = conn
	go b.readLoop()
	return nil
}

func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.conn != nil {
		b.conn.Close()
	}
}

// RegisterPeer associates a known peer id with a UDP address, since raw
// datagrams carry no peer id of their own until a HELLO has been exchanged.
func (b *Backend) RegisterPeer(peerID uint64, host string, port uint16) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return errs.New(errs.KindArgument, "datagram.RegisterPeer", err)
	}
	b.mu.Lock()
	b.byID[peerID] = &peerStat{addr: addr}
	b.mu.Unlock()
	return nil
}

func (b *Backend) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		b.mu.Lock()
		dec := b.dec
		dec.Feed(buf[:n])
		frames := dec.Take()
		peerID := b.idForAddr(from)
		stat := b.byID[peerID]
		if len(frames) == 0 {
			if stat != nil {
				stat.rxFail++
			}
		} else if stat != nil {
			stat.rxOK += len(frames)
		}
		b.mu.Unlock()

		for _, f := range frames {
			select {
			case b.inbox <- inboundMsg{peerID: peerID, data: f}:
			default:
			}
		}
	}
}

// idForAddr returns the peer id registered under addr, or 0 if unknown.
// Caller holds b.mu.
func (b *Backend) idForAddr(addr *net.UDPAddr) uint64 {
	for id, st := range b.byID {
		if st.addr.IP.Equal(addr.IP) && st.addr.Port == addr.Port {
			return id
		}
	}
	return 0
}

func (b *Backend) Send(peerID uint64, data []byte) (int, error) {
	b.mu.Lock()
	maxPayload := b.maxPayload
	conn := b.conn
	b.mu.Unlock()

	frame, err := framing.Encode(data, maxPayload)
	if err != nil {
		return 0, errs.New(errs.KindArgument, "datagram.Send", err)
	}

	if peerID == 0 {
		b.mu.Lock()
		targets := make([]*net.UDPAddr, 0, len(b.byID))
		for _, st := range b.byID {
			targets = append(targets, st.addr)
		}
		b.mu.Unlock()
		n := 0
		for _, addr := range targets {
			if written, err := conn.WriteToUDP(frame, addr); err == nil {
				n += written
			}
		}
		return n, nil
	}

	b.mu.Lock()
	st, ok := b.byID[peerID]
	b.mu.Unlock()
	if !ok {
		return 0, errs.New(errs.KindPeerNotFound, "datagram.Send", nil)
	}
	n, err := conn.WriteToUDP(frame, st.addr)
	if err != nil {
		return n, errs.New(errs.KindLink, "datagram.Send", err)
	}
	return n, nil
}

func (b *Backend) Recv(buf []byte, timeout time.Duration) (int, uint64, error) {
	var t <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		t = timer.C
	}
	select {
	case m := <-b.inbox:
		return copy(buf, m.data), m.peerID, nil
	case <-t:
		return 0, 0, errs.New(errs.KindLink, "datagram.Recv", nil)
	default:
		if timeout == 0 {
			return 0, 0, errs.New(errs.KindLink, "datagram.Recv", nil)
		}
		select {
		case m := <-b.inbox:
			return copy(buf, m.data), m.peerID, nil
		case <-t:
			return 0, 0, errs.New(errs.KindLink, "datagram.Recv", nil)
		}
	}
}

func (b *Backend) GetPeers(out []transport.PeerAddr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, st := range b.byID {
		if n >= len(out) {
			break
		}
		out[n] = transport.PeerAddr{PeerID: id, Host: st.addr.IP.String(), Port: uint16(st.addr.Port)}
		n++
	}
	return n
}

// LinkQuality derives a 0-100 score from the rx-ok/rx-fail ratio, or -1 if
// the peer is unknown or has exchanged no frames yet.
func (b *Backend) LinkQuality(peerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.byID[peerID]
	if !ok {
		return -1
	}
	total := st.rxOK + st.rxFail
	if total == 0 {
		return -1
	}
	return st.rxOK * 100 / total
}

var _ transport.Backend = (*Backend)(nil)
