// Package stream tracks the episode relays in flight, for the debug API and
// the active relay gauge.
package stream

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Mode is how a relay delivers its audio.
type Mode string

const (
	// ModeDirect streams the elementary stream into the HTTP response.
	ModeDirect Mode = "direct"
	// ModeUpload stores the elementary stream in the object store.
	ModeUpload Mode = "upload"
)

// Relay is one episode relay in flight.
type Relay struct {
	ID        string
	Episode   string
	Mode      Mode
	StartedAt time.Time

	bytes atomic.Int64
	done  chan struct{}
}

// AddBytes records n elementary stream bytes delivered.
func (r *Relay) AddBytes(n int) { r.bytes.Add(int64(n)) }

// Bytes returns the elementary stream bytes delivered so far.
func (r *Relay) Bytes() int64 { return r.bytes.Load() }

// Done is closed when the relay is removed from its manager.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Info is a JSON snapshot of a relay.
type Info struct {
	ID        string    `json:"id"`
	Episode   string    `json:"episode"`
	Mode      Mode      `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	Bytes     int64     `json:"bytes"`
}

// Info returns a snapshot of r.
func (r *Relay) Info() Info {
	return Info{
		ID:        r.ID,
		Episode:   r.Episode,
		Mode:      r.Mode,
		StartedAt: r.StartedAt,
		Bytes:     r.Bytes(),
	}
}

// Manager tracks active relays by request ID.
type Manager struct {
	log    *slog.Logger
	mu     sync.RWMutex
	relays map[string]*Relay
}

// NewManager creates a new relay manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:    log.With("component", "relay-manager"),
		relays: make(map[string]*Relay),
	}
}

// Create registers a relay. It returns nil and false if the ID is already
// in use.
func (m *Manager) Create(id, episode string, mode Mode) (*Relay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.relays[id]; ok {
		m.log.Warn("relay already exists, rejecting duplicate", "id", id)
		return nil, false
	}

	r := &Relay{
		ID:        id,
		Episode:   episode,
		Mode:      mode,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	m.relays[id] = r
	m.log.Debug("relay started", "id", id, "episode", episode, "mode", mode)
	return r, true
}

// Remove unregisters a relay and closes its Done channel.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	r, ok := m.relays[id]
	if ok {
		delete(m.relays, id)
	}
	m.mu.Unlock()

	if ok {
		close(r.done)
		m.log.Debug("relay finished", "id", id, "episode", r.Episode,
			"bytes", r.Bytes(), "elapsed", time.Since(r.StartedAt))
	}
}

// Len returns the number of active relays.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}

// List returns snapshots of all active relays, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.relays))
	for _, r := range m.relays {
		infos = append(infos, r.Info())
	}
	m.mu.RUnlock()

	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}
