//go:build linux

// Command omesh runs one node of the distributed full-text search mesh:
// the HTTP ingest/search API, the mesh reactor, and periodic persistence,
// all on one cooperatively-scheduled thread. CLI surface grounded on
// cmd/syncthing/cli/main.go's urfave/cli v1 wiring; service supervision
// grounded on cmd/syncthing/connections.go's suture.Supervisor embedding.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/urfave/cli"
	_ "go.uber.org/automaxprocs"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/engine"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/httpapi"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/logger"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/nodeid"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/peerlist"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

const (
	exitOK             = 0
	exitHTTPInitFailed = 1
	exitMeshInitFailed = 2
	exitBadArguments   = 3
)

var (
	version   = "unknown-dev"
	longVersion = fmt.Sprintf("omesh %s (%s)", version, "linux")
)

func main() {
	app := cli.NewApp()
	app.Name = "omesh"
	app.Usage = "distributed full-text search mesh node"
	app.Version = longVersion
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "http", Value: 8080, Usage: "HTTP API port"},
		cli.BoolFlag{Name: "mesh", Usage: "enable the mesh reactor (default on unless --no-mesh)"},
		cli.IntFlag{Name: "mesh-port", Value: 9000, Usage: "mesh listener port"},
		cli.StringFlag{Name: "peer", Usage: "seed peer as host:port, may be repeated via comma"},
		cli.StringFlag{Name: "node-id", Usage: "override the persisted node id (hex)"},
		cli.BoolFlag{Name: "no-mesh", Usage: "disable the mesh reactor entirely"},
		cli.StringFlag{Name: "transport", Value: "tcp", Usage: "comma-separated transport list: tcp,udp,serial,bluetooth,lora,wifi-mesh"},
		cli.StringFlag{Name: "serial-device", Usage: "serial device path"},
		cli.IntFlag{Name: "serial-baud", Usage: "serial baud rate"},
		cli.IntFlag{Name: "udp-port", Usage: "datagram transport bind port"},
		cli.StringFlag{Name: "mesh-iface", Value: "wmesh0", Usage: "802.11s interface name for the wifi-mesh transport"},
		cli.StringFlag{Name: "home", Value: defaultHomeDir(), Usage: "node configuration directory"},
		cli.StringFlag{Name: "peers-file", Value: "./omesh.peers", Usage: "peer list persistence path"},
		cli.StringFlag{Name: "index-dir", Value: "./omesh-index", Usage: "index data directory"},
		cli.BoolFlag{Name: "setup", Usage: "initialize node identity and config, then exit"},
		cli.BoolFlag{Name: "show-config", Usage: "print the effective configuration, then exit"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(exitBadArguments)
	}
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omesh"
	}
	return filepath.Join(home, ".omesh")
}

func run(c *cli.Context) error {
	log := logger.New()

	homeDir := c.String("home")
	nodeID, err := resolveNodeID(c, homeDir)
	if err != nil {
		return cli.NewExitError(err.Error(), exitBadArguments)
	}

	if c.Bool("setup") {
		fmt.Printf("node id: %s\nhome: %s\n", nodeid.Format(nodeID), homeDir)
		return nil
	}

	tags, err := parseTransports(c.String("transport"))
	if err != nil {
		return cli.NewExitError(err.Error(), exitBadArguments)
	}

	indexDir := c.String("index-dir")
	if err := os.MkdirAll(indexDir, 0o700); err != nil {
		return cli.NewExitError(err.Error(), exitBadArguments)
	}

	cfg := engine.Config{
		NodeID:        nodeID,
		MeshPort:      uint16(c.Int("mesh-port")),
		HTTPPort:      uint16(c.Int("http")),
		IndexPath:     filepath.Join(indexDir, "omesh.index.gob"),
		PeerListPath:  c.String("peers-file"),
		NoMesh:        c.Bool("no-mesh"),
		TransportTags: tags,
		SerialDevice:  c.String("serial-device"),
		SerialBaud:    c.Int("serial-baud"),
		UDPPort:       uint16(c.Int("udp-port")),
		MeshInterface: c.String("mesh-iface"),
	}

	if c.Bool("show-config") {
		fmt.Printf("node id:    %s\n", nodeid.Format(cfg.NodeID))
		fmt.Printf("http port:  %d\n", cfg.HTTPPort)
		fmt.Printf("mesh port:  %d\n", cfg.MeshPort)
		fmt.Printf("no mesh:    %v\n", cfg.NoMesh)
		fmt.Printf("transports: %s\n", c.String("transport"))
		fmt.Printf("peer file:  %s\n", cfg.PeerListPath)
		fmt.Printf("index dir:  %s\n", indexDir)
		return nil
	}

	eng, err := engine.New(log, cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), exitMeshInitFailed)
	}
	defer eng.Shutdown()

	for _, addr := range splitPeers(c.String("peer")) {
		if err := seedPeer(eng, addr); err != nil {
			log.Warnf("seed peer %s: %v", addr, err)
		}
	}

	httpLn, err := net.ListenTCP("tcp", &net.TCPAddr{Port: int(cfg.HTTPPort)})
	if err != nil {
		return cli.NewExitError(err.Error(), exitHTTPInitFailed)
	}
	defer httpLn.Close()

	server := httpapi.NewServer(eng)

	sup := suture.NewSimple("omesh")
	sup.Add(&cooperativeLoop{eng: eng, server: server, httpLn: httpLn, log: log})
	sup.Add(&flushService{eng: eng, log: log})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	errCh := sup.ServeBackground(ctx)
	<-ctx.Done()
	<-errCh

	log.Infof("%s shutting down", longVersion)
	return nil
}

func resolveNodeID(c *cli.Context, homeDir string) (uint64, error) {
	if hex := c.String("node-id"); hex != "" {
		return nodeid.Parse(hex)
	}
	return nodeid.Load(homeDir)
}

// parseTransports turns the --transport flag's comma-separated name list
// into the tags the engine should activate a backend for.
func parseTransports(names string) ([]transport.Tag, error) {
	parts := splitPeers(names)
	tags := make([]transport.Tag, 0, len(parts))
	for _, name := range parts {
		tag, ok := transport.ParseTag(name)
		if !ok {
			return nil, fmt.Errorf("unknown transport %q", name)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func splitPeers(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seedPeer(eng *engine.Engine, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	idx, err := eng.Peers.Add(host, uint16(port), 0)
	if err != nil {
		return err
	}
	eng.Peers.SetFlags(idx, peerlist.FlagPersistentSeed)
	if eng.Mesh != nil {
		return eng.Mesh.Connect(idx, host, uint16(port))
	}
	return nil
}

// cooperativeLoop is the HTTP/mesh co-scheduled service (spec.md §4.6): one
// 100ms wait on the HTTP listener, then one non-blocking mesh reactor pump,
// repeated until the context is cancelled.
type cooperativeLoop struct {
	eng    *engine.Engine
	server *httpapi.Server
	httpLn *net.TCPListener
	log    *logger.Logger
}

func (l *cooperativeLoop) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.httpLn.SetDeadline(time.Now().Add(100 * time.Millisecond))
		conn, err := l.httpLn.Accept()
		if err == nil {
			l.server.ServeConn(conn)
			conn.Close()
		}

		if err := l.eng.Pump(0); err != nil {
			l.log.Warnf("mesh pump: %v", err)
		}
	}
}

// flushService periodically persists the peer list independent of the
// mesh reactor's own maintenance cadence, per SPEC_FULL.md §1.2's
// suture-supervised "periodic persistence flush" service.
type flushService struct {
	eng *engine.Engine
	log *logger.Logger
}

func (f *flushService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.eng.FlushPeers(); err != nil {
				f.log.Warnf("peer list flush: %v", err)
			}
		}
	}
}
