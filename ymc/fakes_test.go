package ymc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.einride.tech/can"

	"ymc-dbw-core/utils"
)

// fakeBus captures written frames and replays scripted received frames.
// ReadFrame blocks on ctx once the script is exhausted.
type fakeBus struct {
	mu       sync.Mutex
	written  []can.Frame
	writeErr error

	rx chan can.Frame

	reading        atomic.Int32
	closes         atomic.Int32
	readingAtClose atomic.Int32
}

func newFakeBus(script ...can.Frame) *fakeBus {
	b := &fakeBus{rx: make(chan can.Frame, len(script)+16)}
	for _, f := range script {
		b.rx <- f
	}
	return b
}

func (b *fakeBus) WriteFrame(ctx context.Context, f can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	b.written = append(b.written, f)
	return nil
}

func (b *fakeBus) ReadFrame(ctx context.Context) (can.Frame, error) {
	b.reading.Add(1)
	defer b.reading.Add(-1)
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-b.rx:
		return f, nil
	}
}

func (b *fakeBus) Close() error {
	b.readingAtClose.Store(b.reading.Load())
	b.closes.Add(1)
	return nil
}

func (b *fakeBus) frames() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]can.Frame, len(b.written))
	copy(out, b.written)
	return out
}

var _ utils.CANBus = (*fakeBus)(nil)

type recordingPublisher struct {
	mu       sync.Mutex
	readings []VelocityReading
}

func (p *recordingPublisher) PublishVelocity(r VelocityReading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
}

func (p *recordingPublisher) snapshot() []VelocityReading {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]VelocityReading, len(p.readings))
	copy(out, p.readings)
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Transport = TransportLoopback
	cfg.KeyPollInterval = 5 * time.Millisecond
	return cfg
}
