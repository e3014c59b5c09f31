// Package stream implements the stream-socket transport backend: a plain
// TCP dial/listen pair carrying length-delimited framed messages, fixed
// link quality, grounded on the teacher's connections_tcp.go dial/listen
// idiom.
package stream

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/framing"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
	"golang.org/x/time/rate"
)

// linkQuality is fixed for stream-socket links: reliable in-order delivery
// means there is nothing to measure.
const linkQuality = 100

type peer struct {
	conn net.Conn
	dec  *framing.Decoder
}

// Backend is the stream-socket transport.
type Backend struct {
	mu         sync.Mutex
	cfg        transport.Config
	ln         net.Listener
	peers      map[uint64]*peer
	maxPayload int
	inbox      chan inboundMsg
	limiter    *rate.Limiter
	closed     bool
}

type inboundMsg struct {
	peerID uint64
	data   []byte
}

func New() *Backend {
	return &Backend{
		peers: make(map[uint64]*peer),
		inbox: make(chan inboundMsg, 256),
		// Cap accepts to 20/s with a burst of 40 so one noisy remote host
		// cannot starve the fixed-size connection table.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (b *Backend) Init(cfg transport.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.maxPayload = cfg.MaxPayload
	if b.maxPayload <= 0 {
		b.maxPayload = framing.DefaultMaxPayload
	}
	if cfg.Listen {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(cfg.BindPort))))
		if err != nil {
			return errs.New(errs.KindIO, "stream.Init", err)
		}
		b.ln = ln
		go b.acceptLoop(ln)
	}
	return nil
}

func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.ln != nil {
		b.ln.Close()
	}
	for _, p := range b.peers {
		p.conn.Close()
	}
}

func (b *Backend) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if !b.limiter.Allow() {
			conn.Close()
			continue
		}
		go b.readLoop(0, conn)
	}
}

// Dial opens an outbound connection to a known peer and registers it under
// peerID. This is stream-specific setup for a caller that has resolved a
// peer-list entry's address, since the generic Backend contract has no
// address parameter. The mesh reactor does not use it: it dials over its
// own raw sockets.
func (b *Backend) Dial(peerID uint64, host string, port uint16) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))), 5*time.Second)
	if err != nil {
		return errs.New(errs.KindIO, "stream.Dial", err)
	}
	b.mu.Lock()
	b.peers[peerID] = &peer{conn: conn, dec: framing.NewDecoder(b.maxPayload)}
	b.mu.Unlock()
	go b.readLoop(peerID, conn)
	return nil
}

func (b *Backend) readLoop(peerID uint64, conn net.Conn) {
	dec := framing.NewDecoder(b.maxPayload)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			b.mu.Lock()
			delete(b.peers, peerID)
			b.mu.Unlock()
			return
		}
		dec.Feed(buf[:n])
		for _, m := range dec.Take() {
			select {
			case b.inbox <- inboundMsg{peerID: peerID, data: m}:
			default:
				// Inbox full: drop, matching the bounded-buffer overflow
				// policy used elsewhere rather than blocking the reader.
			}
		}
	}
}

func (b *Backend) Send(peerID uint64, data []byte) (int, error) {
	b.mu.Lock()
	maxPayload := b.maxPayload
	b.mu.Unlock()
	frame, err := framing.Encode(data, maxPayload)
	if err != nil {
		return 0, errs.New(errs.KindArgument, "stream.Send", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if peerID == 0 {
		n := 0
		for _, p := range b.peers {
			if written, err := p.conn.Write(frame); err == nil {
				n += written
			}
		}
		return n, nil
	}
	p, ok := b.peers[peerID]
	if !ok {
		return 0, errs.New(errs.KindPeerNotFound, "stream.Send", nil)
	}
	n, err := p.conn.Write(frame)
	if err != nil {
		return n, errs.New(errs.KindLink, "stream.Send", err)
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
		n := copy(buf, m.data)
		return n, m.peerID, nil
	case <-t:
		return 0, 0, errs.New(errs.KindLink, "stream.Recv", nil)
	default:
		if timeout == 0 {
			return 0, 0, errs.New(errs.KindLink, "stream.Recv", nil)
		}
		select {
		case m := <-b.inbox:
			n := copy(buf, m.data)
			return n, m.peerID, nil
		case <-t:
			return 0, 0, errs.New(errs.KindLink, "stream.Recv", nil)
		}
	}
}

func (b *Backend) GetPeers(out []transport.PeerAddr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, p := range b.peers {
		if n >= len(out) {
			break
		}
		host, port := splitAddr(p.conn.RemoteAddr().String())
		out[n] = transport.PeerAddr{PeerID: id, Host: host, Port: port}
		n++
	}
	return n
}

func (b *Backend) LinkQuality(peerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[peerID]; !ok {
		return -1
	}
	return linkQuality
}

func splitAddr(addr string) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, uint16(p)
}

var _ transport.Backend = (*Backend)(nil)
