//go:build linux

// Package radio implements the short-radio and long-radio transport
// backends as one shared AT-command driver over a tty, distinguished by a
// Mode flag: long-range adds spread-factor/band/power configuration lines
// before entering receive mode. Grounded on the serial backend's termios
// setup plus discover/encoding.go's text-packet parsing idiom for the
// "+RCV=<id>,<len>:<hexpayload>" notification format.
package radio

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

// Mode selects which radio class this driver instance speaks for.
type Mode int

const (
	ModeShort Mode = iota // e.g. Bluetooth-class short-range radio
	ModeLong               // e.g. LoRa-class long-range radio
)

type inboundMsg struct {
	peerID uint64
	data   []byte
}

// Backend is the AT-command radio transport, shared between short- and
// long-range radio tags via Mode.
type Backend struct {
	mode Mode

	mu     sync.Mutex
	f      *os.File
	rd     *bufio.Reader
	inbox  chan inboundMsg
	known  map[uint64]bool
	closed bool
}

func New(mode Mode) *Backend {
	return &Backend{mode: mode, inbox: make(chan inboundMsg, 64), known: make(map[uint64]bool)}
}

func (b *Backend) Init(cfg transport.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.DevicePath == "" {
		return errs.New(errs.KindArgument, "radio.Init", nil)
	}

	f, err := os.OpenFile(cfg.DevicePath, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return errs.New(errs.KindIO, "radio.Init", err)
	}

	if err := configureForAT(int(f.Fd())); err != nil {
		f.Close()
		return errs.New(errs.KindIO, "radio.Init", err)
	}

	b.f = f
	b.rd = bufio.NewReader(f)

	if err := b.sendCommand("AT\r\n"); err != nil {
		f.Close()
		return errs.New(errs.KindIO, "radio.Init", err)
	}
	if b.mode == ModeLong {
		band := cfg.RadioBand
		if band == "" {
			band = "868"
		}
		sf := cfg.RadioSpreadFactor
		if sf == 0 {
			sf = 7
		}
		pwr := cfg.RadioPower
		if pwr == 0 {
			pwr = 14
		}
		for _, cmd := range []string{
			fmt.Sprintf("AT+BAND=%s\r\n", band),
			fmt.Sprintf("AT+SF=%d\r\n", sf),
			fmt.Sprintf("AT+PWR=%d\r\n", pwr),
		} {
			if err := b.sendCommand(cmd); err != nil {
				f.Close()
				return errs.New(errs.KindIO, "radio.Init", err)
			}
		}
	}

	go b.readLoop()
	return nil
}

func (b *Backend) sendCommand(cmd string) error {
	_, err := b.f.WriteString(cmd)
	return err
}

func (b *Backend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.f != nil {
		b.f.Close()
	}
}

// readLoop parses line-oriented "+RCV=<peerid>,<len>:<hexpayload>"
// notifications; anything else is discarded as driver chatter (OK, ERROR,
// echoed commands).
func (b *Backend) readLoop() {
	for {
		line, err := b.rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+RCV=") {
			continue
		}
		peerID, payload, ok := parseRCV(line)
		if !ok {
			continue
		}
		b.mu.Lock()
		b.known[peerID] = true
		b.mu.Unlock()
		select {
		case b.inbox <- inboundMsg{peerID: peerID, data: payload}:
		default:
		}
	}
}

func parseRCV(line string) (uint64, []byte, bool) {
	body := strings.TrimPrefix(line, "+RCV=")
	comma := strings.IndexByte(body, ',')
	colon := strings.IndexByte(body, ':')
	if comma < 0 || colon < 0 || colon < comma {
		return 0, nil, false
	}
	peerID, err := strconv.ParseUint(body[:comma], 10, 64)
	if err != nil {
		return 0, nil, false
	}
	payload, err := hex.DecodeString(body[colon+1:])
	if err != nil {
		return 0, nil, false
	}
	return peerID, payload, true
}

func (b *Backend) Send(peerID uint64, data []byte) (int, error) {
	b.mu.Lock()
	f := b.f
	b.mu.Unlock()
	if f == nil {
		return 0, transport.NotInitialized("radio.Send")
	}
	cmd := fmt.Sprintf("AT+SEND=%d,%d:%s\r\n", peerID, len(data), hex.EncodeToString(data))
	if _, err := f.WriteString(cmd); err != nil {
		return 0, errs.New(errs.KindLink, "radio.Send", err)
	}
	return len(data), nil
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
		return 0, 0, errs.New(errs.KindLink, "radio.Recv", nil)
	default:
		if timeout == 0 {
			return 0, 0, errs.New(errs.KindLink, "radio.Recv", nil)
		}
		select {
		case m := <-b.inbox:
			return copy(buf, m.data), m.peerID, nil
		case <-t:
			return 0, 0, errs.New(errs.KindLink, "radio.Recv", nil)
		}
	}
}

func (b *Backend) GetPeers(out []transport.PeerAddr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id := range b.known {
		if n >= len(out) {
			break
		}
		out[n] = transport.PeerAddr{PeerID: id}
		n++
	}
	return n
}

// LinkQuality: a radio peer we've heard from is "good" (100), otherwise
// unknown (-1). Neither class of radio exposes an RSSI reading through the
// AT command set this driver targets.
func (b *Backend) LinkQuality(peerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.known[peerID] {
		return 100
	}
	return -1
}

func configureForAT(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	unix.CfmakeRaw(t)
	t.Cflag |= unix.CREAD | unix.CLOCAL | unix.CS8
	unix.CfsetispeedUint32(t, unix.B9600)
	unix.CfsetospeedUint32(t, unix.B9600)
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 10
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

var _ transport.Backend = (*Backend)(nil)
