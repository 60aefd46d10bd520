package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kardianos/oemlock/lockdef"
)

// Local returns a Channel that calls r in process. Errors are reduced to
// their result code, as they would be over a remote channel.
func Local(r *Registry) Channel {
	return &localChannel{
		reg:      r,
		sessions: make(map[uint32]struct{}),
	}
}

type localChannel struct {
	reg *Registry

	mu       sync.Mutex
	closed   bool
	sessions map[uint32]struct{}
}

func (c *localChannel) OpenSession(ctx context.Context, app uuid.UUID, types lockdef.ParamTypes, params *lockdef.Params) (Session, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, lockdef.ErrNotConnected
	}

	id, err := c.reg.OpenSession(app, types, params)
	if err != nil {
		return nil, lockdef.ResultOf(err).Err()
	}

	c.mu.Lock()
	c.sessions[id] = struct{}{}
	c.mu.Unlock()
	return &localSession{ch: c, id: id}, nil
}

func (c *localChannel) closeSession(id uint32) {
	c.mu.Lock()
	_, ok := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if ok {
		c.reg.CloseSession(id)
	}
}

func (c *localChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	ids := make([]uint32, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.closeSession(id)
	}
	return nil
}

type localSession struct {
	ch *localChannel
	id uint32
}

func (s *localSession) Invoke(ctx context.Context, cmd uint32, types lockdef.ParamTypes, params *lockdef.Params) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := *params
	if err := s.ch.reg.Invoke(s.id, cmd, types, &p); err != nil {
		return lockdef.ResultOf(err).Err()
	}
	*params = p
	return nil
}

func (s *localSession) Close() error {
	s.ch.closeSession(s.id)
	return nil
}
