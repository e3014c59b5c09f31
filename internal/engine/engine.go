//go:build linux

// Package engine wires the peer list, connection table (via the mesh
// reactor), pending-search registry, transport registry, and local index
// into a single value owned by main — the explicit-context replacement for
// the source's process-wide BSS globals (spec.md §9). HTTP handlers and the
// mesh reactor both receive this value rather than reaching for statics,
// which keeps the single-threaded invariant intact while making the
// dependency graph constructible in tests.
package engine

import (
	"fmt"
	"time"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/events"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/index"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/logger"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/meshproto"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/metrics"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/peerlist"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/reactor"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/search"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport/datagram"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport/kernelmesh"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport/radio"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport/serial"
)

// indexMaintenanceInterval piggybacks the index's dirty-flag save onto the
// reactor's own 10s sweep cadence (SPEC_FULL.md §3.1), rather than adding a
// second timer.
const indexMaintenanceInterval = 10 * time.Second

// transportMaxMessageSize bounds mesh messages sent or received over a
// non-reactor transport backend, same cap the reactor itself applies.
const transportMaxMessageSize = meshproto.DefaultMaxPayload

// Engine is the node's top-level context: every subsystem a handler might
// need, held by value-receiver reference so HTTP routes and the mesh
// reactor share exactly one of each.
type Engine struct {
	Log       *logger.Logger
	Events    *events.Log
	Metrics   *metrics.Metrics
	Peers     *peerlist.List
	Index     *index.Index
	Search    *search.Registry
	Transport *transport.Registry
	Mesh      *reactor.Engine

	NodeID   uint64
	HTTPPort uint16
	MeshPort uint16

	indexPath      string
	peerListPath   string
	nextDocID      uint64
	lastIndexSave  time.Time
	transportBuf   [transportMaxMessageSize + meshproto.HeaderSize]byte
}

// Config bundles the construction-time parameters for New.
type Config struct {
	NodeID       uint64
	MeshPort     uint16
	HTTPPort     uint16
	IndexPath    string
	PeerListPath string
	NoMesh       bool

	// TransportTags activates each named backend in the transport registry
	// in addition to the mesh reactor's own hardcoded raw-TCP path.
	// TagStream is skipped: the reactor already speaks stream-socket.
	TransportTags []transport.Tag
	SerialDevice  string
	SerialBaud    int
	UDPPort       uint16
	MeshInterface string
}

// New constructs a fully wired Engine. If cfg.PeerListPath names an existing
// file it is loaded; otherwise a fresh peer list is used. The mesh reactor
// is started unless cfg.NoMesh is set.
func New(log *logger.Logger, cfg Config) (*Engine, error) {
	peers, err := peerlist.Load(cfg.PeerListPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load peer list: %w", err)
	}
	peers.SetLocalID(cfg.NodeID)

	ix := index.New()
	if err := ix.Load(cfg.IndexPath); err != nil {
		return nil, fmt.Errorf("engine: load index: %w", err)
	}

	e := &Engine{
		Log:          log,
		Events:       events.NewLog(),
		Metrics:      metrics.New(),
		Peers:        peers,
		Index:        ix,
		Search:       search.NewRegistry(),
		Transport:    transport.NewRegistry(),
		NodeID:       cfg.NodeID,
		HTTPPort:     cfg.HTTPPort,
		MeshPort:     cfg.MeshPort,
		indexPath:    cfg.IndexPath,
		peerListPath: cfg.PeerListPath,
	}

	if !cfg.NoMesh {
		e.Mesh = reactor.New(log, e.Events, peers, cfg.NodeID, cfg.MeshPort, cfg.HTTPPort, e)
		if err := e.Mesh.Start(); err != nil {
			return nil, err
		}
	}

	e.activateTransports(cfg)

	return e, nil
}

// activateTransports builds, registers, and activates a backend for each
// requested non-stream transport tag. A backend that fails to construct or
// initialize is logged and skipped rather than failing the whole node —
// one bad serial device shouldn't keep the reactor's own TCP path down.
func (e *Engine) activateTransports(cfg Config) {
	for _, tag := range cfg.TransportTags {
		if tag == transport.TagStream {
			// The mesh reactor already speaks stream-socket directly.
			continue
		}
		backend, bcfg := newBackend(tag, cfg)
		if backend == nil {
			continue
		}
		if err := e.Transport.Register(tag, backend); err != nil {
			e.Log.Warnf("transport %v register: %v", tag, err)
			continue
		}
		if err := backend.Init(bcfg); err != nil {
			e.Log.Warnf("transport %v init: %v", tag, err)
			continue
		}
		if err := e.Transport.Activate(tag); err != nil {
			e.Log.Warnf("transport %v activate: %v", tag, err)
		}
	}
}

func newBackend(tag transport.Tag, cfg Config) (transport.Backend, transport.Config) {
	switch tag {
	case transport.TagDatagram:
		return datagram.New(), transport.Config{Tag: tag, BindPort: cfg.UDPPort, Broadcast: true}
	case transport.TagSerial:
		return serial.New(), transport.Config{Tag: tag, DevicePath: cfg.SerialDevice, BaudRate: cfg.SerialBaud}
	case transport.TagRadioShort:
		return radio.New(radio.ModeShort), transport.Config{Tag: tag, DevicePath: cfg.SerialDevice, BaudRate: cfg.SerialBaud}
	case transport.TagRadioLong:
		return radio.New(radio.ModeLong), transport.Config{Tag: tag, DevicePath: cfg.SerialDevice, BaudRate: cfg.SerialBaud}
	case transport.TagKernelMesh:
		return kernelmesh.New(), transport.Config{Tag: tag, InterfaceName: cfg.MeshInterface}
	default:
		return nil, transport.Config{}
	}
}

// Pump advances the mesh reactor by one iteration and runs the index's
// piggybacked save tick. Safe to call with timeout 0 from the HTTP/mesh
// cooperative loop (SPEC_FULL.md §4.6).
func (e *Engine) Pump(timeout time.Duration) error {
	if e.Mesh != nil {
		if err := e.Mesh.Pump(timeout); err != nil {
			return err
		}
	}
	e.pumpTransports()
	e.maybeSaveIndex()
	return nil
}

// pumpTransports drains one pending message from every active non-reactor
// transport backend, non-blocking, and dispatches it the same way the
// reactor dispatches a decoded mesh message.
func (e *Engine) pumpTransports() {
	for _, tag := range e.Transport.Active() {
		backend, ok := e.Transport.Get(tag)
		if !ok {
			continue
		}
		for {
			n, _, err := backend.Recv(e.transportBuf[:], 0)
			if err != nil || n == 0 {
				break
			}
			msg, err := meshproto.Decode(e.transportBuf[:n], transportMaxMessageSize)
			if err != nil {
				continue
			}
			e.dispatchTransportMessage(msg)
		}
	}
}

func (e *Engine) dispatchTransportMessage(msg meshproto.Message) {
	switch msg.Type {
	case meshproto.TypeSearch:
		if p, err := meshproto.DecodeSearch(msg.Payload); err == nil {
			e.HandleSearch(msg.Src, p)
		}
	case meshproto.TypeResults:
		if p, err := meshproto.DecodeResults(msg.Payload); err == nil {
			e.HandleResults(msg.Src, p)
		}
	case meshproto.TypeIndex:
		if p, err := meshproto.DecodeIndex(msg.Payload); err == nil {
			e.HandleIndex(msg.Src, p)
		}
	default:
		// HELLO/PING/PONG/DISCOVER/PEERS are the reactor's own handshake
		// traffic; non-reactor transports carry only application messages.
	}
}

// preferredTransport returns the transport tag a known peer was last seen
// on, or TagNone if the peer is unknown.
func (e *Engine) preferredTransport(nodeID uint64) transport.Tag {
	idx := e.Peers.Find(nodeID)
	if idx < 0 {
		return transport.TagNone
	}
	entry, ok := e.Peers.Get(idx)
	if !ok {
		return transport.TagNone
	}
	return transport.Tag(entry.Transport)
}

// sendViaTransport encodes and sends one mesh message to peerID over the
// transport registry's selection for preferred, returning whether a send
// was attempted on an active backend.
func (e *Engine) sendViaTransport(peerID uint64, preferred transport.Tag, typ meshproto.Type, payload []byte) bool {
	tag := e.Transport.Select(preferred, transport.ModeDefault)
	if tag == transport.TagNone {
		return false
	}
	backend, ok := e.Transport.Get(tag)
	if !ok {
		return false
	}
	msg := meshproto.Message{
		Header:  meshproto.Header{Type: typ, Version: meshproto.Version, Src: e.NodeID, Dst: peerID},
		Payload: payload,
	}
	buf, err := meshproto.Encode(msg, transportMaxMessageSize)
	if err != nil {
		return false
	}
	if _, err := backend.Send(peerID, buf); err != nil {
		e.Metrics.ReplicationFails.Inc()
		return false
	}
	e.Metrics.ReplicationSends.Inc()
	return true
}

// broadcastOverTransports fans a mesh message out to every active
// non-reactor transport backend, peerID 0 meaning "every peer that backend
// knows", mirroring the reactor's own BroadcastIndex/BroadcastSearch.
func (e *Engine) broadcastOverTransports(typ meshproto.Type, payload []byte) {
	for _, tag := range e.Transport.Active() {
		backend, ok := e.Transport.Get(tag)
		if !ok {
			continue
		}
		msg := meshproto.Message{
			Header:  meshproto.Header{Type: typ, Version: meshproto.Version, Src: e.NodeID, Dst: meshproto.Broadcast},
			Payload: payload,
		}
		buf, err := meshproto.Encode(msg, transportMaxMessageSize)
		if err != nil {
			continue
		}
		if _, err := backend.Send(0, buf); err != nil {
			e.Metrics.ReplicationFails.Inc()
			continue
		}
		e.Metrics.ReplicationSends.Inc()
	}
}

func (e *Engine) maybeSaveIndex() {
	now := time.Now()
	if now.Sub(e.lastIndexSave) < indexMaintenanceInterval {
		return
	}
	e.lastIndexSave = now
	if !e.Index.Dirty() {
		return
	}
	if err := e.Index.Save(e.indexPath); err != nil {
		e.Log.Warnf("index save failed: %v", err)
	}
}

// FlushPeers saves the peer list to its configured path, for the periodic
// persistence-flush service independent of the mesh reactor's own
// maintenance cadence.
func (e *Engine) FlushPeers() error {
	return e.Peers.Save(e.peerListPath)
}

// Shutdown tears down the mesh reactor, every active transport backend, and
// flushes persistent state.
func (e *Engine) Shutdown() {
	if e.Mesh != nil {
		e.Mesh.Stop()
	}
	for _, tag := range e.Transport.Active() {
		if backend, ok := e.Transport.Get(tag); ok {
			backend.Shutdown()
		}
	}
	if err := e.Peers.Save(e.peerListPath); err != nil {
		e.Log.Warnf("peer list save failed: %v", err)
	}
	if err := e.Index.Save(e.indexPath); err != nil {
		e.Log.Warnf("index save failed: %v", err)
	}
}

// IndexLocalAndBroadcast is the replication entry point (spec.md §4.6):
// write doc to the local index, then, on success, broadcast an INDEX
// message to every connected mesh link. Per-peer send failures are logged,
// not surfaced — replication never fails the local write.
func (e *Engine) IndexLocalAndBroadcast(docID uint64, content string) error {
	if err := e.Index.Put(docID, content); err != nil {
		return err
	}
	e.Metrics.DocumentsIndexed.Inc()
	e.Events.Add(events.DocumentIndexed, map[string]string{"doc_id": fmt.Sprint(docID)})

	payload := meshproto.IndexPayload{
		DocID:   docID,
		Op:      meshproto.IndexPut,
		Content: []byte(content),
	}
	if e.Mesh != nil {
		e.Mesh.BroadcastIndex(payload)
	}
	e.broadcastOverTransports(meshproto.TypeIndex, payload.Encode())
	return nil
}

// NextDocID assigns a monotonic document id from the wall clock in seconds,
// nudged forward if two ingests land in the same second, per spec.md's
// "assign a doc id (monotonic clock seconds)" rule.
func (e *Engine) NextDocID() uint64 {
	candidate := uint64(time.Now().Unix())
	if candidate <= e.nextDocID {
		candidate = e.nextDocID + 1
	}
	e.nextDocID = candidate
	return candidate
}

// Broadcast starts a new distributed query, fans a SEARCH message out to
// every connected peer, and returns the query id and the number of peers it
// was sent to (expected_peer_count). If mesh is disabled or no peers are
// connected, expected_peer_count is 0 and the caller should skip Collect.
func (e *Engine) Broadcast(query string, maxResults int) (uint32, int, error) {
	queryID, err := e.Search.Start(0)
	if err != nil {
		return 0, 0, err
	}
	e.Events.Add(events.SearchStarted, map[string]string{"query": query})

	expected := 0
	if e.Mesh != nil {
		expected = e.Mesh.BroadcastSearch(queryID, uint32(maxResults), query)
	}
	e.broadcastOverTransports(meshproto.TypeSearch, meshproto.SearchPayload{
		QueryID:    queryID,
		MaxResults: uint32(maxResults),
		Query:      query,
	}.Encode())
	e.Search.SetExpectedPeers(expected)
	e.Metrics.PendingSearches.Set(1)
	return queryID, expected, nil
}

// Collect waits for the active search to complete or deadline to elapse,
// pumping the mesh reactor so incoming RESULTS are processed, per spec.md
// §4.5's Collect algorithm. With deadline 0 it performs exactly one pump.
func (e *Engine) Collect(deadline time.Duration) {
	start := time.Now()
	for {
		e.Pump(0)
		if e.Search.IsComplete() || deadline == 0 {
			return
		}
		if time.Since(start) >= deadline {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// FinishSearch gathers the collected results, combines them with the local
// result set, and retires the pending-search registry entry.
func (e *Engine) FinishSearch(localResults []index.Result) []search.Result {
	out := make([]search.Result, 0, len(localResults)+e.Search.GetCount())
	for _, r := range localResults {
		out = append(out, search.Result{DocID: r.DocID, Score: r.Score})
	}
	for i := 0; i < e.Search.GetCount(); i++ {
		if r, ok := e.Search.GetResult(i); ok {
			out = append(out, r)
		}
	}
	e.Metrics.SearchesCompleted.Inc()
	e.Events.Add(events.SearchCompleted, map[string]string{"results": fmt.Sprint(len(out))})
	e.Metrics.PendingSearches.Set(0)
	e.Search.Finish()
	return out
}

// HandleSearch implements reactor.SearchHandler: execute the query locally
// and reply with a RESULTS message on the originating connection. The reply
// goes out on exactly one path — when the peer has a recorded transport
// other than stream-socket, the registry's selection for it (that transport
// if active, else the first active backend in default priority order);
// if that is not possible or the send fails, the mesh reactor — so a peer
// reachable both ways is never double-counted by MarkPeerResponded.
func (e *Engine) HandleSearch(fromNodeID uint64, p meshproto.SearchPayload) {
	results := e.Index.Query(p.Query, int(p.MaxResults))
	records := make([]meshproto.ResultRecord, 0, len(results))
	for _, r := range results {
		records = append(records, meshproto.ResultRecord{DocID: r.DocID, Score: r.Score})
	}
	resp := meshproto.ResultsPayload{QueryID: p.QueryID, Results: records}

	if tag := e.preferredTransport(fromNodeID); tag != transport.TagNone && tag != transport.TagStream {
		if e.sendViaTransport(fromNodeID, tag, meshproto.TypeResults, resp.Encode()) {
			return
		}
	}
	if e.Mesh != nil {
		e.Mesh.ReplyResults(fromNodeID, resp)
	}
}

// HandleResults implements reactor.SearchHandler: append the peer's results
// to the active pending search, if the query id still matches.
func (e *Engine) HandleResults(fromNodeID uint64, p meshproto.ResultsPayload) {
	if !e.Search.Active() || p.QueryID != e.Search.QueryID() {
		return
	}
	for _, r := range p.Results {
		e.Search.AddResult(p.QueryID, r.DocID, r.Score)
	}
	e.Search.MarkPeerResponded(p.QueryID)
}

// HandleIndex implements reactor.SearchHandler: apply a replicated INDEX
// message to the local index.
func (e *Engine) HandleIndex(fromNodeID uint64, p meshproto.IndexPayload) {
	switch p.Op {
	case meshproto.IndexPut:
		if err := e.Index.Put(p.DocID, string(p.Content)); err == nil {
			e.Metrics.DocumentsIndexed.Inc()
		}
	case meshproto.IndexDelete:
		e.Index.Delete(p.DocID)
	}
}
