// Package channel connects a less trusted caller to trusted applications
// running in an isolated process.
//
// Trusted applications are registered by id in a Registry. A caller opens
// sessions through a Channel: Local calls the registry in process, while
// Dial reaches a Server over mutually authenticated QUIC. Either way only
// the result code of a call crosses the boundary.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kardianos/oemlock/lockdef"
)

// App is a trusted application. The registry never calls the entry points
// of one instance concurrently.
type App interface {
	OpenSession(types lockdef.ParamTypes, params *lockdef.Params) error
	Invoke(cmd uint32, types lockdef.ParamTypes, params *lockdef.Params) error
	CloseSession()
}

// Factory creates an App instance.
type Factory func() (App, error)

// Channel is the caller side of a connection to a registry.
type Channel interface {
	// OpenSession opens a session to the app with the given id.
	OpenSession(ctx context.Context, app uuid.UUID, types lockdef.ParamTypes, params *lockdef.Params) (Session, error)

	// Close closes every session still open and releases the channel.
	Close() error
}

// Session is one open session to an app.
type Session interface {
	// Invoke runs cmd. params is updated with the output of the command.
	Invoke(ctx context.Context, cmd uint32, types lockdef.ParamTypes, params *lockdef.Params) error
	Close() error
}

type appEntry struct {
	factory Factory

	mu   sync.Mutex // Serializes entry points and guards inst.
	inst App
}

// Registry holds the registered apps and their open sessions.
type Registry struct {
	mu       sync.Mutex
	apps     map[uuid.UUID]*appEntry
	sessions map[uint32]*appEntry
	nextID   uint32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		apps:     make(map[uuid.UUID]*appEntry),
		sessions: make(map[uint32]*appEntry),
	}
}

// Register adds an app. The instance is created on the first session open.
func (r *Registry) Register(id uuid.UUID, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[id] = &appEntry{factory: f}
}

// OpenSession creates the app instance if needed and opens a session on it.
func (r *Registry) OpenSession(app uuid.UUID, types lockdef.ParamTypes, params *lockdef.Params) (uint32, error) {
	r.mu.Lock()
	e := r.apps[app]
	r.mu.Unlock()
	if e == nil {
		return 0, fmt.Errorf("%w: app %s", lockdef.ErrItemNotFound, app)
	}

	e.mu.Lock()
	if e.inst == nil {
		inst, err := e.factory()
		if err != nil {
			e.mu.Unlock()
			return 0, fmt.Errorf("create app %s: %w", app, err)
		}
		e.inst = inst
	}
	err := e.inst.OpenSession(types, params)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	if r.nextID == 0 {
		r.nextID++
	}
	id := r.nextID
	r.sessions[id] = e
	return id, nil
}

// Invoke runs cmd on the app owning session.
func (r *Registry) Invoke(session uint32, cmd uint32, types lockdef.ParamTypes, params *lockdef.Params) error {
	r.mu.Lock()
	e := r.sessions[session]
	r.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: unknown session %d", lockdef.ErrBadParameters, session)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.Invoke(cmd, types, params)
}

// CloseSession closes a session. Closing an unknown session is a no-op.
func (r *Registry) CloseSession(session uint32) {
	r.mu.Lock()
	e := r.sessions[session]
	delete(r.sessions, session)
	r.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inst.CloseSession()
}

// Sessions returns the number of open sessions.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
