// go-armlink
// Copyright (c) 2025 The UMRT Robotics Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-armlink.
//
// go-armlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-armlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-armlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package canbus connects the mks package to a SocketCAN interface, the
// Linux-side view of the arm's CAN bus.
package canbus

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/mks"
)

// maxData is the payload limit of a classic CAN frame.
const maxData = 8

// Bus is an mks.Bus over a SocketCAN interface. A reader goroutine drains
// the socket from Dial onward so Receive can honour contexts and no kernel
// buffer overflows while the caller is busy.
type Bus struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
	log  *zap.Logger
	name string

	frames chan mks.Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	readErr error
	closed  bool
}

// Option configures a Bus.
type Option func(*Bus) error

// WithLogger sets the logger bus activity is reported to.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bus) error {
		if log == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		b.log = log
		return nil
	}
}

// Dial opens the named SocketCAN interface, such as "can0".
func Dial(iface string, opts ...Option) (*Bus, error) {
	return DialContext(context.Background(), iface, opts...)
}

// DialContext opens the named SocketCAN interface, giving up when ctx ends.
func DialContext(ctx context.Context, iface string, opts ...Option) (*Bus, error) {
	b := newBus(iface)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("failed to apply bus option: %w", err)
		}
	}

	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, armlink.NewTransportError("dial", iface, err, armlink.ErrorTypePermanent)
	}
	b.attach(conn)
	return b, nil
}

func newBus(name string) *Bus {
	return &Bus{
		name:   name,
		log:    zap.NewNop(),
		frames: make(chan mks.Frame, 32),
		done:   make(chan struct{}),
	}
}

// attach wires the connection and starts the reader. Split from DialContext
// so tests can run a bus over an in-memory pipe.
func (b *Bus) attach(conn net.Conn) {
	b.conn = conn
	b.tx = socketcan.NewTransmitter(conn)
	b.rx = socketcan.NewReceiver(conn)
	b.wg.Add(1)
	go b.readLoop()
}

// Send transmits one frame. Payloads longer than a classic CAN frame's
// eight bytes are rejected.
func (b *Bus) Send(ctx context.Context, frame mks.Frame) error {
	if len(frame.Data) > maxData {
		return fmt.Errorf("payload of %d bytes exceeds the %d a CAN frame holds: %w",
			len(frame.Data), maxData, armlink.ErrOutOfRange)
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return armlink.NewTransportError("transmit", b.name, armlink.ErrTransportClosed, armlink.ErrorTypePermanent)
	}

	out := can.Frame{
		ID:         frame.ID,
		Length:     uint8(len(frame.Data)),
		IsExtended: frame.Extended,
	}
	copy(out.Data[:], frame.Data)
	if err := b.tx.TransmitFrame(ctx, out); err != nil {
		return armlink.NewTransportError("transmit", b.name, err, armlink.ErrorTypeTransient)
	}
	return nil
}

// Receive returns the next frame from the bus, waiting until one arrives,
// ctx ends, or the bus dies.
func (b *Bus) Receive(ctx context.Context) (mks.Frame, error) {
	select {
	case frame, ok := <-b.frames:
		if !ok {
			return mks.Frame{}, armlink.NewTransportError("receive", b.name, b.deathCause(), armlink.ErrorTypePermanent)
		}
		return frame, nil
	case <-ctx.Done():
		return mks.Frame{}, ctx.Err()
	}
}

// Close shuts the reader down and closes the socket. Closing twice is fine.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.conn.Close()
	b.wg.Wait()
	if err != nil {
		return armlink.NewTransportError("close", b.name, err, armlink.ErrorTypePermanent)
	}
	return nil
}

// deathCause explains why the frame channel closed.
func (b *Bus) deathCause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil && !b.closed {
		return b.readErr
	}
	return armlink.ErrTransportClosed
}

func (b *Bus) readLoop() {
	defer b.wg.Done()
	defer close(b.frames)

	for b.rx.Receive() {
		in := b.rx.Frame()
		if in.IsRemote {
			continue
		}
		frame := mks.Frame{
			ID:       in.ID,
			Data:     append([]byte(nil), in.Data[:in.Length]...),
			Extended: in.IsExtended,
		}
		select {
		case b.frames <- frame:
		case <-b.done:
			return
		}
	}

	if err := b.rx.Err(); err != nil {
		b.mu.Lock()
		closed := b.closed
		if !closed {
			b.readErr = err
		}
		b.mu.Unlock()
		if !closed {
			b.log.Warn("CAN receive failed", zap.String("interface", b.name), zap.Error(err))
		}
	}
}
