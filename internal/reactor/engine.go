//go:build linux

package reactor

import (
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/connset"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/events"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/logger"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/meshproto"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/peerlist"
)

const (
	heartbeatInterval = 30 * time.Second
	sweepInterval     = 10 * time.Second
	peerTimeout       = 90 * time.Second
	maxMessageSize    = meshproto.DefaultMaxPayload
)

// SearchHandler is invoked with a decoded SEARCH/RESULTS/INDEX message; the
// engine itself only owns transport-level plumbing, not index or search
// semantics (those live in internal/search and internal/index).
type SearchHandler interface {
	HandleSearch(fromNodeID uint64, p meshproto.SearchPayload)
	HandleResults(fromNodeID uint64, p meshproto.ResultsPayload)
	HandleIndex(fromNodeID uint64, p meshproto.IndexPayload)
}

// Engine is the single-threaded mesh reactor: one epoll facility over the
// listener and every connection, a handshake/dispatch state machine, the
// connection table, and the peer list.
type Engine struct {
	log    *logger.Logger
	ev     *events.Log
	poller *Poller

	listenFD int
	conns    *connset.Table
	peers    *peerlist.List
	localID  uint64
	httpPort uint16
	meshPort uint16

	handler SearchHandler

	recvBuf [maxMessageSize + meshproto.HeaderSize]byte
	running bool

	lastHeartbeat time.Time
	lastSweep     time.Time
}

// New constructs an Engine. meshPort/httpPort are announced in this node's
// own HELLO payloads.
func New(log *logger.Logger, ev *events.Log, peers *peerlist.List, localID uint64, meshPort, httpPort uint16, handler SearchHandler) *Engine {
	return &Engine{
		log:      log,
		ev:       ev,
		conns:    connset.New(),
		peers:    peers,
		localID:  localID,
		meshPort: meshPort,
		httpPort: httpPort,
		handler:  handler,
	}
}

// Start allocates the notification facility and the mesh listener. Failure
// is fatal-init: the caller should exit the process.
func (e *Engine) Start() error {
	p, err := NewPoller()
	if err != nil {
		return err
	}
	e.poller = p

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		p.Close()
		return errs.New(errs.KindFatalInit, "reactor.Start", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		p.Close()
		return errs.New(errs.KindFatalInit, "reactor.Start", err)
	}
	addr := &unix.SockaddrInet4{Port: int(e.meshPort)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		p.Close()
		return errs.New(errs.KindFatalInit, "reactor.Start", err)
	}
	if err := unix.Listen(fd, 64); err != nil {
		unix.Close(fd)
		p.Close()
		return errs.New(errs.KindFatalInit, "reactor.Start", err)
	}
	e.listenFD = fd
	if err := e.poller.Add(fd, false); err != nil {
		unix.Close(fd)
		p.Close()
		return err
	}

	e.running = true
	now := time.Now()
	e.lastHeartbeat = now
	e.lastSweep = now
	e.log.Infof("mesh listener bound on port %d", e.meshPort)
	return nil
}

func (e *Engine) Stop() {
	e.running = false
	for _, idx := range e.conns.Occupied() {
		e.teardown(idx)
	}
	if e.listenFD != 0 {
		e.poller.Del(e.listenFD)
		unix.Close(e.listenFD)
	}
	e.poller.Close()
}

// Running reports whether stop() has not yet been called.
func (e *Engine) Running() bool { return e.running }

// ListenPort returns the actual bound mesh port, useful when the engine was
// started with port 0 (OS-assigned) for tests or ephemeral deployments.
func (e *Engine) ListenPort() (uint16, error) {
	sa, err := unix.Getsockname(e.listenFD)
	if err != nil {
		return 0, errs.New(errs.KindIO, "reactor.ListenPort", err)
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return uint16(sa4.Port), nil
	}
	return 0, errs.New(errs.KindIO, "reactor.ListenPort", nil)
}

// Pump runs one iteration: wait up to timeout for ready events, dispatch
// them, then run periodic maintenance. Called directly by a dedicated mesh
// loop, or indirectly (with timeout 0) by the HTTP/mesh cooperative loop.
func (e *Engine) Pump(timeout time.Duration) error {
	ready := make([]Event, 64)
	n, err := e.poller.Wait(timeout, ready)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		e.dispatchEvent(ready[i])
	}
	e.maintain()
	return nil
}

func (e *Engine) dispatchEvent(ev Event) {
	if ev.FD == e.listenFD {
		e.acceptOne()
		return
	}
	idx := e.conns.FindByFD(ev.FD)
	if idx < 0 {
		return
	}
	c, _ := e.conns.Get(idx)

	if ev.Error || ev.Hangup {
		e.teardown(idx)
		return
	}
	if ev.Writable && c.State == connset.StateConnecting {
		if err := checkSocketError(ev.FD); err != nil {
			e.teardown(idx)
			return
		}
		e.conns.SetState(idx, connset.StateAwaitHello)
		e.poller.Mod(ev.FD, false)
		e.sendHello(idx)
		return
	}
	if ev.Readable {
		e.readSocket(idx)
	}
}

func checkSocketError(fd int) error {
	val, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if val != 0 {
		return unix.Errno(val)
	}
	return nil
}

func (e *Engine) acceptOne() {
	fd, _, err := unix.Accept4(e.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return
	}
	idx, err := e.conns.Alloc(fd, connset.DirectionInbound, connset.StateAwaitHello)
	if err != nil {
		unix.Close(fd)
		return
	}
	if err := e.poller.Add(fd, false); err != nil {
		e.conns.Free(idx)
		unix.Close(fd)
	}
}

// Connect initiates an outbound connection to a known peer-list entry,
// registering it in the connection table as connecting and in the poller
// for writable-readiness.
func (e *Engine) Connect(peerIdx int, host string, port uint16) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errs.New(errs.KindIO, "reactor.Connect", err)
	}
	ip, err := resolveIPv4(host)
	if err != nil {
		unix.Close(fd)
		return errs.New(errs.KindArgument, "reactor.Connect", err)
	}
	addr := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	err = unix.Connect(fd, addr)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return errs.New(errs.KindIO, "reactor.Connect", err)
	}
	cidx, cerr := e.conns.Alloc(fd, connset.DirectionOutbound, connset.StateConnecting)
	if cerr != nil {
		unix.Close(fd)
		return cerr
	}
	e.conns.SetPeerIdx(cidx, peerIdx)
	if err := e.poller.Add(fd, true); err != nil {
		e.conns.Free(cidx)
		unix.Close(fd)
		return err
	}
	e.peers.UpdateStatus(peerIdx, peerlist.StatusConnecting)
	return nil
}

func (e *Engine) sendHello(idx int) {
	hello := meshproto.HelloPayload{
		NodeID:   e.localID,
		Version:  uint32(meshproto.Version),
		MeshPort: e.meshPort,
		HTTPPort: e.httpPort,
	}
	e.sendMessage(idx, meshproto.TypeHello, hello.Encode())
}

// sendMessage encodes and writes one message on the slot's socket, reporting
// whether the whole message was written.
func (e *Engine) sendMessage(idx int, typ meshproto.Type, payload []byte) bool {
	c, ok := e.conns.Get(idx)
	if !ok {
		return false
	}
	msg := meshproto.Message{
		Header: meshproto.Header{
			Type:    typ,
			Version: meshproto.Version,
			Src:     e.localID,
			Dst:     uint64(c.RemoteNodeID),
		},
		Payload: payload,
	}
	buf, err := meshproto.Encode(msg, maxMessageSize)
	if err != nil {
		return false
	}
	return e.writeAll(c.FD, buf) == nil
}

func (e *Engine) writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (e *Engine) readSocket(idx int) {
	c, ok := e.conns.Get(idx)
	if !ok {
		return
	}
	n, err := unix.Read(c.FD, e.recvBuf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		e.teardown(idx)
		return
	}
	if n == 0 {
		e.teardown(idx)
		return
	}
	msg, err := meshproto.Decode(e.recvBuf[:n], maxMessageSize)
	if err != nil {
		// Protocol errors are dropped, not fatal to a stream connection.
		return
	}
	e.dispatchMessage(idx, msg)
}

func (e *Engine) dispatchMessage(idx int, msg meshproto.Message) {
	switch msg.Type {
	case meshproto.TypeHello:
		e.onHello(idx, msg)
	case meshproto.TypePing:
		e.sendMessage(idx, meshproto.TypePong, nil)
	case meshproto.TypePong:
		e.onHeartbeatReply(idx)
	case meshproto.TypeDiscover:
		e.onDiscover(idx)
	case meshproto.TypePeers:
		e.onPeers(idx, msg)
	case meshproto.TypeSearch:
		if p, err := meshproto.DecodeSearch(msg.Payload); err == nil && e.handler != nil {
			e.handler.HandleSearch(msg.Src, p)
		}
	case meshproto.TypeResults:
		if p, err := meshproto.DecodeResults(msg.Payload); err == nil && e.handler != nil {
			e.handler.HandleResults(msg.Src, p)
		}
	case meshproto.TypeIndex:
		if p, err := meshproto.DecodeIndex(msg.Payload); err == nil && e.handler != nil {
			e.handler.HandleIndex(msg.Src, p)
		}
	default:
		// Unknown message types are silently dropped.
	}
}

func (e *Engine) onHello(idx int, msg meshproto.Message) {
	hello, err := meshproto.DecodeHello(msg.Payload)
	if err != nil {
		return
	}
	c, ok := e.conns.Get(idx)
	if !ok {
		return
	}
	wasInbound := c.Direction == connset.DirectionInbound
	e.conns.SetRemoteNodeID(idx, hello.NodeID)
	e.conns.SetState(idx, connset.StateConnected)

	// Resolution order per the HELLO handling rule: the connection this
	// HELLO arrived on may already be associated with a peer-list entry
	// (an outbound connect we initiated); otherwise look up by node id;
	// otherwise by the remote address; otherwise this is a newly
	// discovered peer.
	peerIdx := c.PeerIdx
	if peerIdx < 0 {
		peerIdx = e.peers.Find(hello.NodeID)
	}
	host, port := e.remoteAddr(c.FD, hello)
	if peerIdx < 0 {
		peerIdx = e.peers.FindByAddr(host, port)
	}
	if peerIdx < 0 {
		peerIdx, _ = e.peers.Add(host, port, hello.NodeID)
	} else {
		e.peers.UpdateNodeID(peerIdx, hello.NodeID)
	}
	if peerIdx >= 0 {
		e.peers.UpdateStatus(peerIdx, peerlist.StatusConnected)
		e.peers.UpdateLastSeen(peerIdx)
		e.conns.SetPeerIdx(idx, peerIdx)
	}

	e.ev.Add(events.PeerConnected, map[string]string{"node_id": formatUint64(hello.NodeID)})

	if wasInbound {
		e.sendHello(idx)
	}
	e.sendMessage(idx, meshproto.TypeDiscover, nil)
}

// remoteAddr returns the connection's peer IP (from the OS) and the port
// the remote node announced listening on via HELLO, per the peer-discovery
// fallback rule (look up by address; on a full miss, learn a new entry from
// the accept-time address plus the HELLO-announced port).
func (e *Engine) remoteAddr(fd int, hello meshproto.HelloPayload) (string, uint16) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", hello.MeshPort
	}
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return ipv4String(sa4.Addr), hello.MeshPort
	}
	return "", hello.MeshPort
}

func (e *Engine) onHeartbeatReply(idx int) {
	c, ok := e.conns.Get(idx)
	if !ok || c.PeerIdx < 0 {
		return
	}
	e.peers.UpdateLastSeen(c.PeerIdx)
}

func (e *Engine) onDiscover(idx int) {
	all := e.peers.All()
	recs := make([]meshproto.PeerRecord, 0, len(all))
	for _, p := range all {
		if p.NodeID == 0 || p.NodeID == e.localID {
			continue
		}
		recs = append(recs, meshproto.PeerRecord{NodeID: p.NodeID, Host: p.Host, Port: p.Port})
	}
	e.sendMessage(idx, meshproto.TypePeers, meshproto.PeersPayload{Peers: recs}.Encode())
}

func (e *Engine) onPeers(idx int, msg meshproto.Message) {
	p, err := meshproto.DecodePeers(msg.Payload)
	if err != nil {
		return
	}
	for _, rec := range p.Peers {
		if rec.NodeID == e.localID {
			continue
		}
		if e.peers.Find(rec.NodeID) >= 0 {
			continue
		}
		if e.peers.FindByAddr(rec.Host, rec.Port) >= 0 {
			continue
		}
		peerIdx, err := e.peers.Add(rec.Host, rec.Port, rec.NodeID)
		if err != nil {
			continue
		}
		e.peers.SetFlags(peerIdx, peerlist.FlagDiscovered)
		_ = e.Connect(peerIdx, rec.Host, rec.Port)
	}
}

// maintain runs the two periodic maintenance cadences: heartbeats every 30s
// on every connected link, and a reconnect/timeout sweep every 10s.
func (e *Engine) maintain() {
	now := time.Now()
	if now.Sub(e.lastHeartbeat) >= heartbeatInterval {
		e.lastHeartbeat = now
		for _, idx := range e.conns.Connected() {
			e.sendMessage(idx, meshproto.TypePing, nil)
		}
	}
	if now.Sub(e.lastSweep) >= sweepInterval {
		e.lastSweep = now
		e.sweep(now)
	}
}

func (e *Engine) sweep(now time.Time) {
	for _, entry := range e.peers.All() {
		if entry.Status != peerlist.StatusConnected {
			continue
		}
		if now.Unix()-entry.LastSeen <= int64(peerTimeout.Seconds()) {
			continue
		}
		idx := e.peers.Find(entry.NodeID)
		if idx < 0 {
			continue
		}
		e.peers.UpdateStatus(idx, peerlist.StatusDisconnected)
		e.ev.Add(events.PeerTimedOut, map[string]string{"node_id": formatUint64(entry.NodeID)})

		if entry.Flags&peerlist.FlagPersistentSeed != 0 {
			_ = e.Connect(idx, entry.Host, entry.Port)
		}
	}
}

func (e *Engine) teardown(idx int) {
	c, ok := e.conns.Get(idx)
	if !ok {
		return
	}
	e.poller.Del(c.FD)
	unix.Close(c.FD)
	if c.PeerIdx >= 0 {
		e.peers.UpdateStatus(c.PeerIdx, peerlist.StatusDisconnected)
	}
	e.conns.SetState(idx, connset.StateClosing)
	e.conns.Free(idx)
}

// BroadcastSearch sends a SEARCH message carrying queryID to every connected
// link, returning the number of successful sends — the distributed search
// coordinator uses this count as expected_peer_count.
func (e *Engine) BroadcastSearch(queryID uint32, maxResults uint32, query string) int {
	payload := meshproto.SearchPayload{QueryID: queryID, MaxResults: maxResults, Query: query}.Encode()
	n := 0
	for _, idx := range e.conns.Connected() {
		if e.sendMessage(idx, meshproto.TypeSearch, payload) {
			n++
		}
	}
	return n
}

// ReplyResults sends a RESULTS message on the first connected link whose
// remote node id is toNodeID, the node the SEARCH originated from.
func (e *Engine) ReplyResults(toNodeID uint64, p meshproto.ResultsPayload) {
	for _, idx := range e.conns.Connected() {
		c, _ := e.conns.Get(idx)
		if c.RemoteNodeID == toNodeID {
			e.sendMessage(idx, meshproto.TypeResults, p.Encode())
			return
		}
	}
}

// BroadcastIndex replicates an INDEX message to every connected link.
// Per-peer send failures are not surfaced: replication is best-effort and
// logged, not retried.
func (e *Engine) BroadcastIndex(p meshproto.IndexPayload) {
	payload := p.Encode()
	for _, idx := range e.conns.Connected() {
		if !e.sendMessage(idx, meshproto.TypeIndex, payload) {
			e.log.Warnf("INDEX replication on connection slot %d failed", idx)
		}
	}
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	addrs, err := net.LookupIP(host)
	if err != nil {
		return out, err
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			copy(out[:], v4)
			return out, nil
		}
	}
	return out, errs.New(errs.KindArgument, "reactor.resolveIPv4", nil)
}

func ipv4String(ip [4]byte) string {
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]).String()
}

func formatUint64(v uint64) string {
	return strconv.FormatUint(v, 10)
}
