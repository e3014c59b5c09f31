package transport

import "github.com/ijustsuplexedmycomputer/omesh-sub000/internal/errs"

// MaxActive bounds the number of simultaneously live backends, mirroring
// the source's small fixed "active transports" table.
const MaxActive = 6

// Mode selects a priority ordering for transport selection.
type Mode int

const (
	ModeDefault Mode = iota
	ModePreferOffline
	ModePreferInternet
)

var priorityOrder = map[Mode][]Tag{
	ModeDefault:        {TagStream, TagSerial, TagRadioShort, TagDatagram, TagKernelMesh, TagRadioLong},
	ModePreferOffline:  {TagSerial, TagRadioShort, TagRadioLong, TagKernelMesh, TagStream, TagDatagram},
	ModePreferInternet: {TagStream, TagDatagram, TagKernelMesh, TagRadioShort, TagSerial, TagRadioLong},
}

// Registry is the per-process table of registered backends plus the active
// subset currently live. The first backend added becomes the default for
// legacy single-transport callers.
type Registry struct {
	backends map[Tag]Backend
	active   []Tag
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[Tag]Backend)}
}

// Register adds a backend implementation for tag, without activating it.
func (r *Registry) Register(tag Tag, b Backend) error {
	if tag == TagNone {
		return errs.New(errs.KindArgument, "transport.Register", nil)
	}
	r.backends[tag] = b
	return nil
}

// Activate marks tag as live. Re-activating an already-active tag is a
// no-op; activating an unregistered tag or when the active set is full is
// an error.
func (r *Registry) Activate(tag Tag) error {
	if _, ok := r.backends[tag]; !ok {
		return errs.New(errs.KindArgument, "transport.Activate", nil)
	}
	for _, t := range r.active {
		if t == tag {
			return nil
		}
	}
	if len(r.active) >= MaxActive {
		return errs.New(errs.KindArgument, "transport.Activate", nil)
	}
	r.active = append(r.active, tag)
	return nil
}

// Default returns the first-activated backend, for legacy single-transport
// callers, or nil if nothing is active.
func (r *Registry) Default() Backend {
	if len(r.active) == 0 {
		return nil
	}
	return r.backends[r.active[0]]
}

func (r *Registry) Get(tag Tag) (Backend, bool) {
	b, ok := r.backends[tag]
	return b, ok
}

func (r *Registry) IsActive(tag Tag) bool {
	for _, t := range r.active {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *Registry) Active() []Tag {
	out := make([]Tag, len(r.active))
	copy(out, r.active)
	return out
}

// Select implements the selection policy for a destination peer: if the
// peer's preferred transport is active, use it; otherwise walk mode's
// priority order and return the first active tag found. Returns TagNone if
// nothing is active.
func (r *Registry) Select(preferred Tag, mode Mode) Tag {
	if preferred != TagNone && r.IsActive(preferred) {
		return preferred
	}
	for _, tag := range priorityOrder[mode] {
		if r.IsActive(tag) {
			return tag
		}
	}
	return TagNone
}
