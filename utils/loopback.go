package utils

import (
	"context"
	"sync"

	"go.einride.tech/can"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations.
// Multiple endpoints opened from the same bus can exchange frames.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*LoopbackEndpoint]struct{}
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*LoopbackEndpoint]struct{})}
}

// Open creates a new endpoint attached to the bus.
func (b *LoopbackBus) Open() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{
		bus: b,
		ch:  make(chan can.Frame, 64),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ep.dead = true
		close(ep.ch)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeNoLock()
	}
	b.endpoints = nil
	return nil
}

// LoopbackEndpoint implements CANBus.
type LoopbackEndpoint struct {
	bus  *LoopbackBus
	ch   chan can.Frame
	mu   sync.Mutex
	dead bool
}

// WriteFrame delivers the frame to every other endpoint. A full receiver
// drops the frame rather than stall the sender.
func (e *LoopbackEndpoint) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if e.bus.closed {
		return ErrClosed
	}
	for ep := range e.bus.endpoints {
		if ep == e {
			continue
		}
		select {
		case ep.ch <- frame:
		default:
		}
	}
	return nil
}

func (e *LoopbackEndpoint) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f, ok := <-e.ch:
		if !ok {
			return can.Frame{}, ErrClosed
		}
		return f, nil
	}
}

// Close detaches endpoint from bus and closes its channel.
func (e *LoopbackEndpoint) Close() error {
	e.bus.mu.Lock()
	e.closeNoLock()
	e.bus.mu.Unlock()
	return nil
}

func (e *LoopbackEndpoint) closeNoLock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.ch)
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
}
