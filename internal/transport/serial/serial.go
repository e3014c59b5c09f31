//go:build linux

// Package serial implements the serial transport backend: a tty device
// configured for raw 8N1 I/O at a fixed baud rate, carrying the §4.1 framing
// envelope over a byte state machine — grounded on golang.org/x/sys's
// presence in the teacher's dependency stack for raw POSIX calls, applied
// here to termios configuration instead of syncthing's inotify/xattr uses.
package serial

import (
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/framing"
	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/transport"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Backend is the serial transport. Only one remote peer exists per device,
// assigned peer id 1 once known; peer id 0 on Send means "the device", same
// as peer id 1 since there is nothing else to address.
type Backend struct {
	mu      sync.Mutex
	f       *os.File
	dec     *framing.Decoder
	maxSize int
	peerID  uint64
	linkOK  bool
	inbox   chan []byte
	closed  bool
}

func New() *Backend {
	return &Backend{inbox: make(chan []byte, 64)}
}

func (b *Backend) Init(cfg transport.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.DevicePath == "" {
		return errs.New(errs.KindArgument, "serial.Init", nil)
	}
	rate, ok := baudRates[cfg.BaudRate]
	if !ok {
		return errs.New(errs.KindArgument, "serial.Init", nil)
	}

	f, err := os.OpenFile(cfg.DevicePath, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return errs.New(errs.KindIO, "serial.Init", err)
	}

	if err := configureRaw(int(f.Fd()), rate); err != nil {
		f.Close()
		return errs.New(errs.KindIO, "serial.Init", err)
	}

	b.maxSize = cfg.MaxPayload
	if b.maxSize <= 0 {
		b.maxSize = framing.DefaultMaxPayload
	}
	b.f = f
	b.dec = framing.NewDecoder(b.maxSize)
	b.peerID = 1
	go b.readLoop()
	return nil
}

// configureRaw puts fd into raw 8N1 mode with VMIN=1, VTIME=0 (block for at
// least one byte, no inter-byte timeout) at the given termios speed
// constant.
func configureRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	unix.CfmakeRaw(t)
	t.Cflag |= unix.CREAD | unix.CLOCAL
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return err
	}
	t, err = unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	unix.CfsetispeedUint32(t, speed)
	unix.CfsetospeedUint32(t, speed)
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
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

func (b *Backend) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := b.f.Read(buf)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.dec.Feed(buf[:n])
		frames := b.dec.Take()
		if len(frames) > 0 {
			b.linkOK = true
		}
		b.mu.Unlock()
		for _, fr := range frames {
			select {
			case b.inbox <- fr:
			default:
			}
		}
	}
}

func (b *Backend) Send(peerID uint64, data []byte) (int, error) {
	b.mu.Lock()
	f, maxSize := b.f, b.maxSize
	b.mu.Unlock()
	if f == nil {
		return 0, transport.NotInitialized("serial.Send")
	}
	frame, err := framing.Encode(data, maxSize)
	if err != nil {
		return 0, errs.New(errs.KindArgument, "serial.Send", err)
	}
	n, err := f.Write(frame)
	if err != nil {
		return n, errs.New(errs.KindLink, "serial.Send", err)
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
		return copy(buf, m), b.peerID, nil
	case <-t:
		return 0, 0, errs.New(errs.KindLink, "serial.Recv", nil)
	default:
		if timeout == 0 {
			return 0, 0, errs.New(errs.KindLink, "serial.Recv", nil)
		}
		select {
		case m := <-b.inbox:
			return copy(buf, m), b.peerID, nil
		case <-t:
			return 0, 0, errs.New(errs.KindLink, "serial.Recv", nil)
		}
	}
}

func (b *Backend) GetPeers(out []transport.PeerAddr) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil || len(out) == 0 {
		return 0
	}
	out[0] = transport.PeerAddr{PeerID: b.peerID}
	return 1
}

// LinkQuality is binary for a serial link: 100 once any frame has been
// decoded, -1 until then.
func (b *Backend) LinkQuality(peerID uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if peerID != b.peerID || !b.linkOK {
		return -1
	}
	return 100
}

var _ transport.Backend = (*Backend)(nil)
