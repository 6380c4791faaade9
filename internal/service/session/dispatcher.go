package session

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// EngineFactory builds a conversational engine speaking into the given room.
type EngineFactory func(r Room) (Engine, error)

// Dispatcher starts one session per newly created room.
type Dispatcher struct {
	ctx      context.Context
	env      *Env
	engines  EngineFactory
	registry *Registry
	running  sync.WaitGroup
}

// NewDispatcher binds sessions to ctx: cancelling it ends every live session.
func NewDispatcher(ctx context.Context, env *Env, engines EngineFactory, registry *Registry) *Dispatcher {
	return &Dispatcher{ctx: ctx, env: env, engines: engines, registry: registry}
}

// Available reports whether sessions can be started.
func (d *Dispatcher) Available() bool {
	return d != nil && d.engines != nil
}

// Dispatch creates and runs a session for r in the background.
func (d *Dispatcher) Dispatch(r Room) (*Session, error) {
	if !d.Available() {
		return nil, ErrEngineUnavailable
	}
	engine, err := d.engines(r)
	if err != nil {
		log.Printf("[session] engine for room=%s failed: %v", r.Name(), err)
		if delErr := r.Delete(context.WithoutCancel(d.ctx)); delErr != nil {
			log.Printf("[session] teardown of room=%s failed: %v", r.Name(), delErr)
		}
		return nil, err
	}

	s := New(uuid.NewString(), r, engine, d.env)
	d.registry.Add(s)
	d.running.Add(1)
	go func() {
		defer d.running.Done()
		defer d.registry.Remove(s.ID())
		s.Run(d.ctx)
	}()
	return s, nil
}

// Wait blocks until every dispatched session has closed or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
