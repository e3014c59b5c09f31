//go:build linux

// Package httpapi implements the HTTP route table (spec.md §4.6/§6) on top
// of a hand-rolled http.ResponseWriter that writes directly to a net.Conn,
// so accepting a client never spawns the goroutine-per-request model
// net/http.Server would impose — the HTTP listener shares its single OS
// thread with the mesh reactor (spec.md §5). Routing itself reuses the
// teacher's router library; grounded on lib/api/api.go's httprouter wiring,
// CORS middleware, and JSON response helper.
package httpapi

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/engine"
)

// serverHeader identifies this node's HTTP responses, per spec.md §6's
// mandated response headers.
const serverHeader = "omesh/1"

// maxRequestBytes bounds the per-connection read, per spec.md §4.6's "read
// the request into a recv buffer up to 8 KiB".
const maxRequestBytes = 8 * 1024

// searchDeadline is the distributed-search collection window for GET
// /search, per spec.md §4.6's route table.
const searchDeadline = 500 * time.Millisecond

// maxSearchResults caps both the locally-executed query and the
// distributed SEARCH broadcast, per spec.md's "max 10 results" rule.
const maxSearchResults = 10

// Server routes one node's HTTP surface against its wired Engine.
type Server struct {
	eng    *engine.Engine
	router *httprouter.Router
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{eng: eng, router: httprouter.New()}

	s.router.GET("/health", s.handleHealth)
	s.router.POST("/index", s.handleIndex)
	s.router.GET("/search", s.handleSearch)
	s.router.GET("/peers", s.handlePeers)
	s.router.GET("/status", s.handleStatus)
	s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(eng.Metrics.Registry, promhttp.HandlerOpts{}))

	s.router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return s
}

// ServeConn parses exactly one HTTP/1.1 request off conn and writes the
// response, then lets the caller close the connection (the cooperative
// loop accepts one client per readable event, per spec.md §4.6 step 2, and
// does not keep connections alive across iterations).
func (s *Server) ServeConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReaderSize(io.LimitReader(conn, maxRequestBytes), maxRequestBytes)

	req, err := http.ReadRequest(reader)
	if err != nil {
		w := newResponseWriter(conn)
		writeJSONError(w, http.StatusBadRequest, "malformed request")
		w.flush()
		return
	}

	w := newResponseWriter(conn)
	writeCORSHeaders(w)
	s.router.ServeHTTP(w, req)
	w.flush()
}

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": "1"})
}

type indexRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req indexRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed body")
		return
	}

	docID := s.eng.NextDocID()
	if err := s.eng.IndexLocalAndBroadcast(docID, req.Content); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "index write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "indexed", "doc_id": docID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	local := s.eng.Index.Query(query, maxSearchResults)

	var combined []map[string]interface{}
	if _, _, err := s.eng.Broadcast(query, maxSearchResults); err != nil {
		// Another distributed search is already in flight (single-active-query
		// invariant, spec.md §4.5): fall back to the local result set alone.
		for _, r := range local {
			combined = append(combined, map[string]interface{}{"doc_id": r.DocID, "score": r.Score})
		}
	} else {
		s.eng.Collect(searchDeadline)
		for _, r := range s.eng.FinishSearch(local) {
			combined = append(combined, map[string]interface{}{"doc_id": r.DocID, "score": r.Score})
		}
	}
	if combined == nil {
		combined = []map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": combined, "total": len(combined)})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	entries := s.eng.Peers.All()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"node_id":   hexNodeID(e.NodeID),
			"host":      e.Host,
			"port":      e.Port,
			"status":    e.Status.String(),
			"transport": int(e.Transport),
			"last_seen": e.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"peers": out, "count": len(out)})
}

func hexNodeID(id uint64) string {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}

// responseWriter implements http.ResponseWriter over a net.Conn: no
// http.Server, no per-request goroutine. The body is buffered so the final
// response can carry an accurate Content-Length — spec.md §6 mandates every
// response include Server, Content-Type, Content-Length, and
// Connection: close — and flush writes the whole thing out in one shot once
// the handler has finished.
type responseWriter struct {
	conn   net.Conn
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseWriter(conn net.Conn) *responseWriter {
	return &responseWriter{conn: conn, header: make(http.Header), status: http.StatusOK}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
}

func (w *responseWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

// flush writes the status line, headers, and buffered body to the
// connection. Must be called exactly once, after the handler returns.
func (w *responseWriter) flush() {
	w.header.Set("Server", serverHeader)
	w.header.Set("Content-Length", strconv.Itoa(w.body.Len()))
	w.header.Set("Connection", "close")

	fmt.Fprintf(w.conn, "HTTP/1.1 %d %s\r\n", w.status, http.StatusText(w.status))
	w.header.Write(w.conn)
	io.WriteString(w.conn, "\r\n")
	w.conn.Write(w.body.Bytes())
}
