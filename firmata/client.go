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

package firmata

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/wire"
)

// Link is the byte-level connection to the stepper controller. The serial
// implementation lives in transport/uart; tests substitute their own.
type Link interface {
	// SendSysex writes one sysex frame carrying cmd and an already
	// 7-bit-safe payload.
	SendSysex(cmd Command, payload []byte) error

	// ReadMessage blocks until the next inbound sysex frame arrives, ctx
	// is cancelled, or the link fails.
	ReadMessage(ctx context.Context) (Message, error)

	// Connected reports whether the controller has completed its version
	// handshake.
	Connected() bool

	// Close releases the underlying connection.
	Close() error
}

// Message is one inbound sysex frame. Payload holds the bytes between the
// command byte and the end-of-sysex marker, still 7-bit encoded.
type Message struct {
	Payload []byte
	Command Command
}

// Client sends stepper and gripper commands to the controller and routes its
// responses to callbacks. The controller answers asynchronously, so queries
// like GetSpeed return once the request is written; the value arrives through
// the matching callback while Run is pumping.
type Client struct {
	link Link
	log  *zap.Logger

	// Response callbacks, invoked from Run's goroutine. A nil callback
	// drops the response.
	OnEcho         func(payload []byte)
	OnSetSpeed     func(motor uint8, speed int16)
	OnGetSpeed     func(motor uint8, speed int16)
	OnSendStep     func(motor uint8, steps uint16, speed int16)
	OnSeekPosition func(motor uint8, position int32, speed int16)
	OnGetPosition  func(motor uint8, position int32)
	OnSetGripper   func(position uint8)
}

// Option configures a Client.
type Option func(*Client) error

// WithLogger sets the logger used for wire-level diagnostics. The default
// discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) error {
		if log == nil {
			return errors.New("logger must not be nil")
		}
		c.log = log
		return nil
	}
}

// NewClient creates a client over an established link.
func NewClient(link Link, opts ...Option) (*Client, error) {
	if link == nil {
		return nil, errors.New("link must not be nil")
	}
	c := &Client{link: link, log: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply client option: %w", err)
		}
	}
	return c, nil
}

// Connected reports whether the controller has completed its version
// handshake.
func (c *Client) Connected() bool {
	return c.link.Connected()
}

// Close closes the underlying link.
func (c *Client) Close() error {
	if err := c.link.Close(); err != nil {
		return fmt.Errorf("failed to close link: %w", err)
	}
	return nil
}

// SendEcho asks the controller to repeat payload back through OnEcho.
func (c *Client) SendEcho(payload []byte) error {
	return c.send(CmdEcho, payload)
}

// SetSpeed spins motor continuously at speed, in tenths of an RPM; negative
// values reverse the direction and zero stops the motor.
func (c *Client) SetSpeed(motor uint8, speed int16) error {
	pack := wire.AppendInt16([]byte{motor}, speed, wire.LittleEndian)
	return c.send(CmdSetSpeed, pack)
}

// GetSpeed queries motor's current speed; the answer arrives through
// OnGetSpeed.
func (c *Client) GetSpeed(motor uint8) error {
	return c.send(CmdGetSpeed, []byte{motor})
}

// SendStep moves motor by steps at speed, in tenths of an RPM; the sign of
// the speed sets the direction.
func (c *Client) SendStep(motor uint8, steps uint16, speed int16) error {
	pack := wire.AppendUint16([]byte{motor}, steps, wire.LittleEndian)
	pack = wire.AppendInt16(pack, speed, wire.LittleEndian)
	return c.send(CmdSendStep, pack)
}

// SeekPosition moves motor until its step counter reaches position, moving
// at speed in tenths of an RPM. The controller ignores the speed's sign since
// the target fixes the direction.
func (c *Client) SeekPosition(motor uint8, position int32, speed int16) error {
	pack := wire.AppendInt32([]byte{motor}, position, wire.LittleEndian)
	pack = wire.AppendInt16(pack, speed, wire.LittleEndian)
	return c.send(CmdSeekPosition, pack)
}

// GetPosition queries motor's step count from its zero point; the answer
// arrives through OnGetPosition.
func (c *Client) GetPosition(motor uint8) error {
	return c.send(CmdGetPosition, []byte{motor})
}

// SetGripper positions the gripper servo; 0 through GripperMax spans its
// whole range.
func (c *Client) SetGripper(position uint8) error {
	if position > GripperMax {
		return fmt.Errorf("gripper position %d exceeds %d: %w", position, GripperMax, armlink.ErrOutOfRange)
	}
	return c.send(CmdSetGripper, []byte{position})
}

func (c *Client) send(cmd Command, pack []byte) error {
	c.log.Debug("sending sysex",
		zap.Stringer("command", cmd),
		zap.Int("bytes", len(pack)))
	if err := c.link.SendSysex(cmd, Encode7Bit(pack)); err != nil {
		return fmt.Errorf("send %v: %w", cmd, err)
	}
	return nil
}

// Run pumps inbound messages to the callbacks until ctx is cancelled or the
// link fails. Messages that fail to decode are logged and dropped so one
// corrupt frame cannot stall the pump.
func (c *Client) Run(ctx context.Context) error {
	for {
		msg, err := c.link.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("read sysex: %w", err)
		}
		if err := c.dispatch(msg); err != nil {
			c.log.Warn("dropping sysex message",
				zap.Stringer("command", msg.Command),
				zap.Error(err))
		}
	}
}

func (c *Client) dispatch(msg Message) error {
	data, err := Decode7Bit(msg.Payload)
	if err != nil {
		return err
	}

	switch msg.Command {
	case CmdEcho:
		c.log.Debug("echo received", zap.Int("bytes", len(data)))
		if c.OnEcho != nil {
			c.OnEcho(data)
		}
	case CmdSetSpeed:
		motor, speed, err := decodeMotorSpeed(data)
		if err != nil {
			return err
		}
		c.log.Debug("set speed acknowledged", zap.Uint8("motor", motor), zap.Int16("speed", speed))
		if c.OnSetSpeed != nil {
			c.OnSetSpeed(motor, speed)
		}
	case CmdGetSpeed:
		motor, speed, err := decodeMotorSpeed(data)
		if err != nil {
			return err
		}
		c.log.Debug("speed reported", zap.Uint8("motor", motor), zap.Int16("speed", speed))
		if c.OnGetSpeed != nil {
			c.OnGetSpeed(motor, speed)
		}
	case CmdSendStep:
		if len(data) < 5 {
			return fmt.Errorf("step response has %d bytes: %w", len(data), armlink.ErrMalformedFrame)
		}
		steps, err := wire.Uint16(data[1:], wire.LittleEndian)
		if err != nil {
			return err
		}
		speed, err := wire.Int16(data[3:], wire.LittleEndian)
		if err != nil {
			return err
		}
		c.log.Debug("step acknowledged",
			zap.Uint8("motor", data[0]), zap.Uint16("steps", steps), zap.Int16("speed", speed))
		if c.OnSendStep != nil {
			c.OnSendStep(data[0], steps, speed)
		}
	case CmdSeekPosition:
		if len(data) < 7 {
			return fmt.Errorf("seek response has %d bytes: %w", len(data), armlink.ErrMalformedFrame)
		}
		position, err := wire.Int32(data[1:], wire.LittleEndian)
		if err != nil {
			return err
		}
		speed, err := wire.Int16(data[5:], wire.LittleEndian)
		if err != nil {
			return err
		}
		c.log.Debug("seek acknowledged",
			zap.Uint8("motor", data[0]), zap.Int32("position", position), zap.Int16("speed", speed))
		if c.OnSeekPosition != nil {
			c.OnSeekPosition(data[0], position, speed)
		}
	case CmdGetPosition:
		motor, position, err := decodeMotorPosition(data)
		if err != nil {
			return err
		}
		c.log.Debug("position reported", zap.Uint8("motor", motor), zap.Int32("position", position))
		if c.OnGetPosition != nil {
			c.OnGetPosition(motor, position)
		}
	case CmdSetGripper:
		if len(data) < 1 {
			return fmt.Errorf("gripper response is empty: %w", armlink.ErrMalformedFrame)
		}
		c.log.Debug("gripper acknowledged", zap.Uint8("position", data[0]))
		if c.OnSetGripper != nil {
			c.OnSetGripper(data[0])
		}
	default:
		c.log.Info("unknown sysex command",
			zap.Uint8("command", byte(msg.Command)),
			zap.Int("bytes", len(msg.Payload)))
	}
	return nil
}

func decodeMotorSpeed(data []byte) (motor uint8, speed int16, err error) {
	if len(data) < 3 {
		return 0, 0, fmt.Errorf("speed response has %d bytes: %w", len(data), armlink.ErrMalformedFrame)
	}
	speed, err = wire.Int16(data[1:], wire.LittleEndian)
	if err != nil {
		return 0, 0, err
	}
	return data[0], speed, nil
}

func decodeMotorPosition(data []byte) (motor uint8, position int32, err error) {
	if len(data) < 5 {
		return 0, 0, fmt.Errorf("position response has %d bytes: %w", len(data), armlink.ErrMalformedFrame)
	}
	position, err = wire.Int32(data[1:], wire.LittleEndian)
	if err != nil {
		return 0, 0, err
	}
	return data[0], position, nil
}
