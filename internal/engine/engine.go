// Package engine selects the backend that provides the stitch primitive.
//
// Each backend (OpenCV, Hugin, ImageMagick) decodes images into its own
// representation and merges them; the adaptive controller in package stitch
// only sees opaque handles.
package engine

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"panostitch/internal/stitch"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrUnavailable   = errors.New("engine not available")
	ErrNoEngine      = errors.New("no available stitching engine found")
	// ErrForeignImage is returned when an engine is handed an image another engine decoded.
	ErrForeignImage = errors.New("image was not produced by this engine")
)

// Engine is a stitching backend.
type Engine interface {
	stitch.Loader
	stitch.Stitcher

	Name() string
	Check() Status
	// Export converts an image produced by this engine to a Go image.
	Export(img stitch.Image) (image.Image, error)
	Close() error
}

// Status represents the availability of an engine.
type Status struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
	Error     error  `json:"-"`
}

// Manager handles engine selection with a preferred engine and fallbacks.
type Manager struct {
	mu        sync.Mutex
	engines   map[string]Engine
	order     []string
	preferred string
	fallbacks []string
}

// NewManager returns an empty manager using the given preference order.
func NewManager(preferred string, fallbacks []string) *Manager {
	return &Manager{
		engines:   map[string]Engine{},
		preferred: preferred,
		fallbacks: append([]string(nil), fallbacks...),
	}
}

// Register adds e, replacing any engine with the same name.
func (m *Manager) Register(e Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[e.Name()]; !ok {
		m.order = append(m.order, e.Name())
	}
	m.engines[e.Name()] = e
}

// candidates returns registered engine names, preferred first, then
// fallbacks, then everything else in registration order.
func (m *Manager) candidates() []string {
	seen := map[string]bool{}
	var names []string
	for _, name := range append(append([]string{m.preferred}, m.fallbacks...), m.order...) {
		if name == "" || seen[name] {
			continue
		}
		if _, ok := m.engines[name]; !ok {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Select returns the named engine, or the first available candidate when
// name is empty.
func (m *Manager) Select(name string) (Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		e, ok := m.engines[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
		}
		if st := e.Check(); !st.Available {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, name, st.Error)
		}
		return e, nil
	}

	for _, candidate := range m.candidates() {
		e := m.engines[candidate]
		st := e.Check()
		if st.Available {
			return e, nil
		}
		slog.Debug("engine not available", "engine", candidate, "error", st.Error)
	}
	return nil, ErrNoEngine
}

// Status reports the availability of every registered engine in selection order.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Status
	for _, name := range m.candidates() {
		st := m.engines[name].Check()
		st.Name = name
		out = append(out, st)
	}
	return out
}

// Close releases every registered engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.order {
		if err := m.engines[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
