//go:build linux

// Package kernelmesh implements the kernel-mesh transport backend: a
// datagram socket bound to a named 802.11s mesh interface via SO_BINDTODEVICE,
// carrying the §4.1 framing envelope like internal/transport/datagram, with
// link quality derived from send/receive traffic heuristics rather than an
// RSSI reading the kernel mesh stack doesn't expose through a plain socket.
// Grounded on internal/transport/datagram plus golang.org/x/sys/unix for the
// raw socket and SO_BINDTODEVICE setsockopt.
package kernelmesh

import (
	"context"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/framing"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

type peerStat struct {
	addr *net.UDPAddr
	rx   int
	tx   int
}

// Backend is the kernel-mesh transport: an 802.11s interface carries
// link-layer mesh routing, so at the socket level this looks like plain UDP
// bound to that interface's device name.
type Backend struct {
	mu    sync.Mutex
	conn  *net.UDPConn
	iface string
	dec   *framing.Decoder
	maxSz int
	byID  map[uint64]*peerStat
	inbox chan inboundMsg
	closed bool
}

type inboundMsg struct {
	peerID uint64
	data   []byte
}

func New() *Backend {
	return &Backend{byID: make(map[uint64]*peerStat), inbox: make(chan inboundMsg, 256)}
}

func (b *Backend) Init(cfg transport.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.InterfaceName == "" {
		return errs.New(errs.KindArgument, "kernelmesh.Init", nil)
	}
	b.iface = cfg.InterfaceName
	b.maxSz = cfg.MaxPayload
	if b.maxSz <= 0 {
		b.maxSz = framing.DefaultMaxPayload
	}
	b.dec = framing.NewDecoder(b.maxSz)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.BindToDevice(int(fd), cfg.InterfaceName)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", net.JoinHostPort("", strconv.Itoa(int(cfg.BindPort))))
	if err != nil {
		return errs.New(errs.KindIO, "kernelmesh.Init", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return errs.New(errs.KindIO, "kernelmesh.Init", nil)
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

// RegisterPeer associates a peer id with the UDP address it is reachable at
// over this mesh interface.
func (b *Backend) RegisterPeer(peerID uint64, host string, port uint16) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return errs.New(errs.KindArgument, "kernelmesh.RegisterPeer", err)
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
		b.dec.Feed(buf[:n])
		frames := b.dec.Take()
		if id := b.idForAddr(from); id != 0 {
			if st := b.byID[id]; st != nil {
				st.rx += len(frames)
			}
		}
		b.mu.Unlock()
		peerID := b.idForAddr(from)
		for _, f := range frames {
			select {
			case b.inbox <- inboundMsg{peerID: peerID, data: f}:
			default:
			}
		}
	}
}

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
	conn, maxSz := b.conn, b.maxSz
	b.mu.Unlock()
	frame, err := framing.Encode(data, maxSz)
	if err != nil {
		return 0, errs.New(errs.KindArgument, "kernelmesh.Send", err)
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
		return 0, errs.New(errs.KindPeerNotFound, "kernelmesh.Send", nil)
	}
	n, err := conn.WriteToUDP(frame, st.addr)
	if err != nil {
		return n, errs.New(errs.KindLink, "kernelmesh.Send", err)
	}
	b.mu.Lock()
	st.tx++
	b.mu.Unlock()
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
		return 0, 0, errs.New(errs.KindLink, "kernelmesh.Recv", nil)
	default:
		if timeout == 0 {
			return 0, 0, errs.New(errs.KindLink, "kernelmesh.Recv", nil)
		}
		select {
		case m := <-b.inbox:
			return copy(buf, m.data), m.peerID, nil
		case <-t:
			return 0, 0, errs.New(errs.KindLink, "kernelmesh.Recv", nil)
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

// LinkQuality is a simple traffic heuristic: 100 once any frame has been
// received from the peer, 0 if frames were sent to it but none received,
// and -1 if there has been no traffic either way. Unlike datagram's
// rx-ok/rx-fail (which counts decode failures), the mesh interface's
// link-layer routing already hides per-hop frame loss, so the only signal
// available at this layer is "have we heard anything back".
func (b *Backend) LinkQuality(peerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.byID[peerID]
	if !ok {
		return -1
	}
	if st.rx == 0 {
		if st.tx == 0 {
			return -1
		}
		return 0
	}
	return 100
}

var _ transport.Backend = (*Backend)(nil)
