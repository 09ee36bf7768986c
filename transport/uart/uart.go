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

// Package uart carries Firmata sysex traffic over a serial port, typically
// the USB connection to the arm's Arduino-class stepper controller.
package uart

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/firmata"
)

// DefaultBaudRate is StandardFirmata's serial speed.
const DefaultBaudRate = 57600

// readPoll bounds how long a blocked serial read holds the reader before it
// rechecks for shutdown.
const readPoll = 100 * time.Millisecond

// serialPort is the slice of the serial API the link reads and writes
// through, narrow enough to fake in tests.
type serialPort interface {
	io.ReadWriteCloser
}

// Link is a firmata.Link over a serial port. Opening the port usually
// auto-resets the board, after which the firmware announces itself with a
// version report; Connect waits for that report, and commands are refused
// until it arrives.
type Link struct {
	port serialPort
	log  *zap.Logger
	name string
	baud int

	out     chan firmata.Message
	done    chan struct{}
	failed  chan struct{}
	readyCh chan struct{}
	wg      sync.WaitGroup
	writeMu sync.Mutex

	mu      sync.Mutex
	readErr error
	major   uint8
	minor   uint8
	ready   bool
	closed  bool
}

// Option configures a Link.
type Option func(*Link) error

// WithLogger sets the logger link activity is reported to.
func WithLogger(log *zap.Logger) Option {
	return func(l *Link) error {
		if log == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		l.log = log
		return nil
	}
}

// WithBaudRate overrides DefaultBaudRate for firmwares built with a
// different serial speed.
func WithBaudRate(baud int) Option {
	return func(l *Link) error {
		if baud <= 0 {
			return fmt.Errorf("baud rate %d is not positive: %w", baud, armlink.ErrOutOfRange)
		}
		l.baud = baud
		return nil
	}
}

// Open dials the serial port and starts reading from it. The returned link
// is not yet connected: follow with Connect to wait for the firmware's
// version report.
func Open(portName string, opts ...Option) (*Link, error) {
	l := newLink(portName)
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply link option: %w", err)
		}
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: l.baud})
	if err != nil {
		return nil, armlink.NewTransportError("open", portName, err, armlink.ErrorTypePermanent)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		_ = port.Close()
		return nil, armlink.NewTransportError("configure", portName, err, armlink.ErrorTypePermanent)
	}
	// Drop whatever the board spewed before we were listening.
	_ = port.ResetInputBuffer()

	l.attach(port)

	// Boards that do not auto-reset on open stay silent, so ask. The
	// firmware answers a bare report-version byte either way.
	if _, err := port.Write([]byte{firmata.ReportVersion}); err != nil {
		_ = l.Close()
		return nil, armlink.NewTransportError("write", portName, err, armlink.ErrorTypeTransient)
	}
	return l, nil
}

func newLink(name string) *Link {
	return &Link{
		name:    name,
		baud:    DefaultBaudRate,
		log:     zap.NewNop(),
		out:     make(chan firmata.Message, 32),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
		readyCh: make(chan struct{}),
	}
}

// attach wires the port and starts the reader. Split from Open so tests can
// drive a link over an in-memory port.
func (l *Link) attach(port serialPort) {
	l.port = port
	l.wg.Add(1)
	go l.readLoop()
}

// Connect waits for the firmware's version report. ErrNoHandshake means the
// controller never announced itself within ctx's deadline, which usually
// points at the wrong port or a board stuck in its bootloader.
func (l *Link) Connect(ctx context.Context) error {
	select {
	case <-l.readyCh:
		return nil
	case <-l.failed:
		return armlink.NewTransportError("connect", l.name, l.readError(), armlink.ErrorTypeTransient)
	case <-l.done:
		return armlink.NewTransportError("connect", l.name, armlink.ErrTransportClosed, armlink.ErrorTypePermanent)
	case <-ctx.Done():
		return fmt.Errorf("waiting for version report on %s: %w", l.name, armlink.ErrNoHandshake)
	}
}

// Version returns the protocol version the firmware reported, once it has.
func (l *Link) Version() (major, minor uint8, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.major, l.minor, l.ready
}

// Connected reports whether the handshake completed and the port is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready && !l.closed
}

// SendSysex frames payload in a sysex envelope and writes it out. The
// payload must already be seven-bit clean; a byte with its top bit set
// would corrupt the framing.
func (l *Link) SendSysex(cmd firmata.Command, payload []byte) error {
	l.mu.Lock()
	closed, ready := l.closed, l.ready
	l.mu.Unlock()
	if closed {
		return armlink.NewTransportError("send", l.name, armlink.ErrTransportClosed, armlink.ErrorTypePermanent)
	}
	if !ready {
		return fmt.Errorf("link %s has no version report yet: %w", l.name, armlink.ErrNoHandshake)
	}
	if byte(cmd) > 0x7F {
		return fmt.Errorf("command %#02x not seven-bit clean: %w", byte(cmd), armlink.ErrOutOfRange)
	}
	for _, b := range payload {
		if b > 0x7F {
			return fmt.Errorf("payload byte %#02x not seven-bit clean: %w", b, armlink.ErrMalformedFrame)
		}
	}

	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, firmata.SysexStart, byte(cmd))
	frame = append(frame, payload...)
	frame = append(frame, firmata.SysexEnd)

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(frame); err != nil {
		return armlink.NewTransportError("write", l.name, err, armlink.ErrorTypeTransient)
	}
	return nil
}

// ReadMessage returns the next sysex message from the firmware, waiting
// until one arrives, ctx ends, or the link dies.
func (l *Link) ReadMessage(ctx context.Context) (firmata.Message, error) {
	select {
	case msg := <-l.out:
		return msg, nil
	case <-ctx.Done():
		return firmata.Message{}, ctx.Err()
	case <-l.failed:
		return firmata.Message{}, armlink.NewTransportError("read", l.name, l.readError(), armlink.ErrorTypeTransient)
	case <-l.done:
		return firmata.Message{}, armlink.NewTransportError("read", l.name, armlink.ErrTransportClosed, armlink.ErrorTypePermanent)
	}
}

// Close shuts the reader down and closes the port. Closing twice is fine.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	err := l.port.Close()
	l.wg.Wait()
	if err != nil {
		return armlink.NewTransportError("close", l.name, err, armlink.ErrorTypePermanent)
	}
	return nil
}

func (l *Link) readError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readErr
}

// readLoop turns the serial byte stream back into messages. Everything the
// stepper firmware sends is either a sysex frame or a three-byte version
// report; any other control byte is noise from the boot banner or a report
// type nothing here subscribes to.
func (l *Link) readLoop() {
	defer l.wg.Done()

	var (
		inSysex bool
		buf     []byte
		verLeft int
		version [2]byte
	)
	chunk := make([]byte, 256)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		n, err := l.port.Read(chunk)
		if err != nil {
			select {
			case <-l.done:
			default:
				l.mu.Lock()
				l.readErr = err
				l.mu.Unlock()
				close(l.failed)
				l.log.Warn("serial read failed", zap.String("port", l.name), zap.Error(err))
			}
			return
		}
		if n == 0 {
			// Read timeout tick.
			continue
		}

		for _, b := range chunk[:n] {
			switch {
			case verLeft > 0:
				version[2-verLeft] = b
				verLeft--
				if verLeft == 0 {
					l.setVersion(version[0], version[1])
				}
			case inSysex && b == firmata.SysexEnd:
				inSysex = false
				if len(buf) == 0 {
					l.log.Warn("empty sysex frame", zap.String("port", l.name))
					continue
				}
				msg := firmata.Message{
					Command: firmata.Command(buf[0]),
					Payload: append([]byte(nil), buf[1:]...),
				}
				select {
				case l.out <- msg:
				case <-l.done:
					return
				}
			case inSysex && b == firmata.SysexStart:
				// A new start inside a frame means the end byte was
				// lost. Abandon and collect the fresh frame.
				l.log.Warn("sysex frame restarted", zap.String("port", l.name))
				buf = buf[:0]
			case inSysex && b == firmata.ReportVersion:
				l.log.Warn("sysex frame interrupted", zap.String("port", l.name))
				inSysex = false
				verLeft = 2
			case inSysex && b > 0x7F:
				l.log.Warn("sysex frame corrupted",
					zap.String("port", l.name),
					zap.Uint8("byte", b))
				inSysex = false
			case inSysex:
				buf = append(buf, b)
			case b == firmata.SysexStart:
				inSysex = true
				buf = buf[:0]
			case b == firmata.ReportVersion:
				verLeft = 2
			default:
				// Stray data or an unsubscribed report.
			}
		}
	}
}

func (l *Link) setVersion(major, minor uint8) {
	l.mu.Lock()
	l.major, l.minor = major, minor
	wasReady := l.ready
	l.ready = true
	l.mu.Unlock()
	if !wasReady {
		close(l.readyCh)
		l.log.Info("controller announced itself",
			zap.String("port", l.name),
			zap.Uint8("major", major),
			zap.Uint8("minor", minor))
	}
}
