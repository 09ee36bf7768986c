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

package testing

import (
	"context"
	"sync"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/mks"
	"github.com/umrt-robotics/go-armlink/wire"
)

// VirtualDriver simulates one MKS SERVO42D/57D driver. It follows the
// manual's sign conventions: positions and encoder values count CW of zero
// as positive, while reported speeds count CCW as positive. Moves complete
// instantly, answering with a moving frame followed by a completed frame.
type VirtualDriver struct {
	mu       sync.Mutex
	id       uint16
	position int32 // pulses, positive CW of zero
	encoder  int64 // 1/0x4000ths of a turn, positive CW of zero
	speed    int16 // RPM, positive CCW
	enabled  bool
	io       mks.IOStatus
}

// NewVirtualDriver creates a driver answering on id, at its zero position
// with the shaft enabled.
func NewVirtualDriver(id uint16) *VirtualDriver {
	return &VirtualDriver{id: id, enabled: true}
}

// ID returns the driver's CAN id.
func (d *VirtualDriver) ID() uint16 {
	return d.id
}

// Position returns the position counter, in pulses CW of zero.
func (d *VirtualDriver) Position() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Speed returns the commanded speed, in RPM positive CCW.
func (d *VirtualDriver) Speed() int16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// Encoder returns the additive encoder value.
func (d *VirtualDriver) Encoder() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encoder
}

// Enabled reports whether the shaft is energised.
func (d *VirtualDriver) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetIO pins the IO status the driver reports.
func (d *VirtualDriver) SetIO(status mks.IOStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.io = status
}

// Handle processes one request payload addressed to this driver and returns
// the response payloads it puts on the bus, oldest first. Corrupt or unknown
// requests get no answer, like the real hardware.
func (d *VirtualDriver) Handle(data []byte) [][]byte {
	if len(data) < 2 {
		return nil
	}
	body := data[:len(data)-1]
	sum := uint32(d.id)
	for _, b := range body {
		sum += uint32(b)
	}
	if byte(sum) != data[len(data)-1] {
		return nil
	}
	cmd := mks.Command(body[0])
	fields := body[1:]

	d.mu.Lock()
	defer d.mu.Unlock()
	switch cmd {
	case mks.CmdEncoderSplit:
		turns := int32(d.encoder >> 14)
		angle := uint16(d.encoder & (mks.AnglePerTurn - 1))
		return [][]byte{BuildEncoderSplitResponse(d.id, turns, angle)}

	case mks.CmdEncoderAdditive:
		return [][]byte{BuildEncoderResponse(d.id, d.encoder)}

	case mks.CmdMotorSpeed:
		return [][]byte{BuildSpeedResponse(d.id, d.speed)}

	case mks.CmdCurrentPos:
		return [][]byte{BuildPositionResponse(d.id, d.position)}

	case mks.CmdIOStatus:
		return [][]byte{BuildIOStatusResponse(d.id, d.io)}

	case mks.CmdReleaseShaftLock:
		return [][]byte{BuildOKResponse(d.id, cmd, true)}

	case mks.CmdGoHome:
		d.position = 0
		d.encoder = 0
		d.speed = 0
		return [][]byte{
			BuildGoHomeResponse(d.id, mks.GoHomeStarted),
			BuildGoHomeResponse(d.id, mks.GoHomeCompleted),
		}

	case mks.CmdSetZero:
		d.position = 0
		d.encoder = 0
		return [][]byte{BuildOKResponse(d.id, cmd, true)}

	case mks.CmdQueryStatus:
		status := mks.StatusStopped
		if d.speed != 0 {
			status = mks.StatusFullSpeed
		}
		return [][]byte{BuildStatusResponse(d.id, status)}

	case mks.CmdEnableMotor:
		if len(fields) != 1 {
			return nil
		}
		d.enabled = fields[0] != 0
		return [][]byte{BuildOKResponse(d.id, cmd, true)}

	case mks.CmdSetSpeed:
		if len(fields) != 3 {
			return nil
		}
		mag := int16(fields[0]&0x7F)<<8 | int16(fields[1])
		if fields[0]&0x80 != 0 {
			d.speed = -mag
		} else {
			d.speed = mag
		}
		return [][]byte{BuildOKResponse(d.id, cmd, true)}

	case mks.CmdEmergencyStop:
		d.speed = 0
		return [][]byte{BuildOKResponse(d.id, cmd, true)}

	case mks.CmdSendStep:
		if len(fields) != 6 {
			return nil
		}
		steps, err := wire.Uint(fields[3:], 3, wire.BigEndian)
		if err != nil {
			return nil
		}
		if fields[0]&0x80 != 0 {
			d.position += int32(steps)
		} else {
			d.position -= int32(steps)
		}
		return d.moveDone(cmd)

	case mks.CmdSeekPosBySteps:
		target, err := wire.Int(fields[3:], 3, wire.BigEndian)
		if err != nil {
			return nil
		}
		d.position = int32(target)
		return d.moveDone(cmd)

	case mks.CmdSendAngle:
		delta, err := wire.Int(fields[3:], 3, wire.BigEndian)
		if err != nil {
			return nil
		}
		d.encoder += delta
		return d.moveDone(cmd)

	case mks.CmdSeekPosByAngle:
		target, err := wire.Int(fields[3:], 3, wire.BigEndian)
		if err != nil {
			return nil
		}
		d.encoder = target
		return d.moveDone(cmd)
	}
	return nil
}

func (d *VirtualDriver) moveDone(cmd mks.Command) [][]byte {
	return [][]byte{
		BuildMoveResponse(d.id, cmd, mks.MoveMoving),
		BuildMoveResponse(d.id, cmd, mks.MoveCompleted),
	}
}

// VirtualBus joins virtual drivers into a bus satisfying the controller's
// transport contract. Requests route by frame id; responses queue for
// Receive in the order the drivers produced them.
type VirtualBus struct {
	drivers map[uint16]*VirtualDriver
	inbox   chan mks.Frame
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewVirtualBus wires drivers onto a fresh bus.
func NewVirtualBus(drivers ...*VirtualDriver) *VirtualBus {
	bus := &VirtualBus{
		drivers: make(map[uint16]*VirtualDriver, len(drivers)),
		inbox:   make(chan mks.Frame, 64),
		done:    make(chan struct{}),
	}
	for _, driver := range drivers {
		bus.drivers[driver.ID()] = driver
	}
	return bus
}

// Send delivers frame to the driver on its id. Frames nobody listens on
// vanish, as on a real bus.
func (b *VirtualBus) Send(_ context.Context, frame mks.Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return armlink.ErrTransportClosed
	}
	if frame.Extended || frame.ID > uint32(mks.MaxID) {
		return nil
	}
	driver, listening := b.drivers[uint16(frame.ID)]
	if !listening {
		return nil
	}
	for _, resp := range driver.Handle(frame.Data) {
		b.inbox <- mks.Frame{ID: uint32(driver.ID()), Data: resp}
	}
	return nil
}

// Receive returns the next queued response.
func (b *VirtualBus) Receive(ctx context.Context) (mks.Frame, error) {
	select {
	case frame := <-b.inbox:
		return frame, nil
	case <-ctx.Done():
		return mks.Frame{}, ctx.Err()
	case <-b.done:
		return mks.Frame{}, armlink.ErrTransportClosed
	}
}

// Close stops the bus; pending responses are discarded.
func (b *VirtualBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
