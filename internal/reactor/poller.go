//go:build linux

// Package reactor implements the single-threaded, cooperative, event-driven
// mesh engine: one readiness-notification facility (epoll) multiplexing the
// mesh listener and every connection socket, a per-connection handshake and
// message dispatch state machine, and periodic heartbeat/timeout
// maintenance. Grounded on golang.org/x/sys/unix's presence in the teacher's
// go.mod for raw syscalls, and on cmd/syncthing/connections.go's
// connectionSvc for the dial/listen/accept responsibilities — collapsed
// from goroutine-per-concern into event-loop steps since single-threaded,
// lock-free cooperative scheduling is this spec's one explicit departure
// from the teacher's own concurrency idiom.
package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"
)

// Event is one readiness notification: Readable/Writable/Error/Hangup as
// reported by the OS, plus the fd it refers to.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// Poller wraps an epoll instance: Add/Mod/Del register interest, Wait blocks
// (up to a timeout) for readiness.
type Poller struct {
	epfd int
}

// NewPoller creates the notification facility. Failure here is fatal-init
// per spec.md's error taxonomy: the caller (main) should exit.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.New(errs.KindFatalInit, "reactor.NewPoller", err)
	}
	return &Poller{epfd: fd}, nil
}

func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Add registers fd for read-readiness (and write-readiness if writable is
// set, used while an outbound connect is still in progress).
func (p *Poller) Add(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if writable {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errs.New(errs.KindIO, "reactor.Add", err)
	}
	return nil
}

// Mod changes fd's registered interest, used to drop EPOLLOUT once an
// outbound connect's writable event has fired.
func (p *Poller) Mod(fd int, writable bool) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if writable {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errs.New(errs.KindIO, "reactor.Mod", err)
	}
	return nil
}

func (p *Poller) Del(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errs.New(errs.KindIO, "reactor.Del", err)
	}
	return nil
}

// Wait blocks for up to timeout for ready events, or returns immediately
// with whatever is ready if timeout is 0. A negative timeout blocks
// indefinitely.
func (p *Poller) Wait(timeout time.Duration, out []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(out))
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errs.New(errs.KindIO, "reactor.Wait", err)
	}
	for i := 0; i < n; i++ {
		out[i] = Event{
			FD:       int(raw[i].Fd),
			Readable: raw[i].Events&unix.EPOLLIN != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
			Error:    raw[i].Events&unix.EPOLLERR != 0,
			Hangup:   raw[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		}
	}
	return n, nil
}
