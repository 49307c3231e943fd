package utils

import (
	"context"
	"errors"

	"go.einride.tech/can"
)

// ErrClosed is returned by transports after Close.
var ErrClosed = errors.New("can: transport closed")

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// CANReader defines the interface for reading CAN frames
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// CANBus is a duplex transport. Close releases both directions.
type CANBus interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}
