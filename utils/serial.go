package utils

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	serial "go.bug.st/serial"
	"go.einride.tech/can"
)

// SerialBus talks to a serial CAN bridge that streams candump text and
// accepts cansend lines.
type SerialBus struct {
	port io.ReadWriteCloser
	dump *DumpReader

	wmu    sync.Mutex
	once   sync.Once
	closed atomic.Bool
	err    error
}

// OpenSerial opens dev at baud.
func OpenSerial(dev string, baud int) (*SerialBus, error) {
	p, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", dev, err)
	}
	return NewSerialBus(p), nil
}

// NewSerialBus wraps an already open port. Tests pass a pipe.
func NewSerialBus(port io.ReadWriteCloser) *SerialBus {
	return &SerialBus{port: port, dump: NewDumpReader(port)}
}

// SetSkipHook forwards malformed lines to fn.
func (s *SerialBus) SetSkipHook(fn func(line string, err error)) {
	s.dump.OnSkip = fn
}

func (s *SerialBus) ReadFrame(ctx context.Context) (can.Frame, error) {
	if s.closed.Load() {
		return can.Frame{}, ErrClosed
	}
	f, err := s.dump.ReadFrame(ctx)
	if err != nil && ctx.Err() == nil && (err == io.EOF || s.closed.Load()) {
		return can.Frame{}, ErrClosed
	}
	return f, err
}

// WriteFrame writes the frame as one cansend line. ctx is only checked
// before the write; serial writes are not cancellable.
func (s *SerialBus) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := FormatSendLine(frame) + "\n"
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (s *SerialBus) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.dump.Close()
		s.err = s.port.Close()
	})
	return s.err
}
