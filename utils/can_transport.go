package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	once sync.Once
	err  error
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	w.once.Do(func() {
		if w.conn != nil {
			w.err = w.conn.Close()
		}
	})
	return w.err
}

// SocketCANBus pairs a writer and a reader on the same interface. The two use
// separate sockets so a blocked Receive never delays a transmit.
type SocketCANBus struct {
	*SocketCANWriter
	reader *SocketCANReader
}

// OpenSocketCAN dials iface twice (TX and RX). Either failure is fatal.
func OpenSocketCAN(ctx context.Context, iface string) (*SocketCANBus, error) {
	w, err := NewSocketCANWriter(ctx, iface)
	if err != nil {
		return nil, err
	}
	r, err := NewSocketCANReader(ctx, iface)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &SocketCANBus{SocketCANWriter: w, reader: r}, nil
}

func (b *SocketCANBus) ReadFrame(ctx context.Context) (can.Frame, error) {
	return b.reader.ReadFrame(ctx)
}

func (b *SocketCANBus) Close() error {
	rerr := b.reader.Close()
	werr := b.SocketCANWriter.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
