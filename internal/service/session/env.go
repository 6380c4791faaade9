package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/z-switchboard/backend/internal/model/chat"
	"github.com/zhouzirui/z-switchboard/backend/internal/model/persona"
	"github.com/zhouzirui/z-switchboard/backend/internal/service/facts"
)

// MemoryQuerier fetches prior call history; "" means none.
type MemoryQuerier interface {
	Query(ctx context.Context) string
}

// Deliverer relays a transcript snapshot to the memory/log service.
type Deliverer interface {
	Deliver(ctx context.Context, snap chat.Snapshot) error
}

// Env holds the collaborators shared by every session. It must not be copied
// after first use.
type Env struct {
	Personas        persona.Store
	Classifier      *Classifier
	Memory          MemoryQuerier
	Facts           facts.Store
	Delivery        Deliverer
	Clock           func() time.Time
	TeardownTimeout time.Duration
	DeliveryTimeout time.Duration

	deliveries sync.WaitGroup
}

func (e *Env) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Env) teardownTimeout() time.Duration {
	if e.TeardownTimeout > 0 {
		return e.TeardownTimeout
	}
	return 10 * time.Second
}

// deliver hands the snapshot off without waiting for the outcome.
func (e *Env) deliver(snap chat.Snapshot) {
	if e.Delivery == nil {
		return
	}
	timeout := e.DeliveryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.Delivery.Deliver(ctx, snap); err != nil {
			log.Printf("[session] transcript delivery failed session=%s: %v", snap.SessionID, err)
		}
	}()
}

// WaitDeliveries blocks until in-flight transcript deliveries finish or ctx ends.
func (e *Env) WaitDeliveries(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
