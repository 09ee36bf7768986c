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

package mks

import (
	"context"
	"fmt"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/wire"
	"go.uber.org/zap"
)

// Frame is one CAN frame as this package sees it: the arbitration id, up to
// eight data bytes, and whether the id is a 29-bit extended one.
type Frame struct {
	Data     []byte
	ID       uint32
	Extended bool
}

// Bus is the CAN connection the controller and servo drive. transport/canbus
// implements it over SocketCAN. The Controller never closes the bus; its
// owner does, since a servo gateway usually shares the same interface.
type Bus interface {
	// Send transmits one frame.
	Send(ctx context.Context, frame Frame) error
	// Receive blocks until a frame arrives or ctx ends.
	Receive(ctx context.Context) (Frame, error)
	// Close shuts the connection down.
	Close() error
}

// DefaultNormFactor is the microstep interpolation the wire protocol's
// nominal speed unit assumes. At this factor speeds pass through unscaled.
const DefaultNormFactor = 16

// Config carries the controller's settings.
type Config struct {
	// MotorIDs lists the CAN ids of the drivers this controller owns.
	// Frames from any other id are ignored, so a bus shared with other
	// devices does not confuse the dispatcher. At least one id is
	// required, each between 1 and MaxID.
	MotorIDs []uint16

	// NormFactor is the microstep interpolation factor the drivers are
	// configured for. Speeds given to the controller are RPM of the
	// output shaft at that factor and are rescaled to the wire's nominal
	// unit, which assumes 16-microstepping: a factor of 16, the default
	// when zero, makes the rescale the identity. Scaling truncates
	// toward zero.
	NormFactor uint8
}

// Controller speaks the MKS serial protocol to a set of stepper drivers
// sharing one CAN bus. Commands go out immediately; replies arrive whenever
// the drivers answer and are delivered through the On* callbacks, so one
// goroutine runs Run (or the owner calls Poll) while others command motors.
//
// Callbacks are invoked from the polling goroutine and must not block.
// Set them before the first Poll or Run call.
type Controller struct {
	bus Bus
	log *zap.Logger
	ids map[uint16]struct{}

	// OnSetSpeed is called with the driver's answer to SetSpeed.
	OnSetSpeed func(motor uint16, ok bool)

	// OnSendStep is called with each move status the driver reports for
	// a SendStep: once on acceptance, again when motion ends.
	OnSendStep func(motor uint16, status MoveStatus)

	// OnSeekPosition is called with each move status for a SeekPosition.
	OnSeekPosition func(motor uint16, status MoveStatus)

	// OnSendAngle is called with each move status for a SendAngle.
	OnSendAngle func(motor uint16, status MoveStatus)

	// OnSeekAngle is called with each move status for a SeekAngle.
	OnSeekAngle func(motor uint16, status MoveStatus)

	// OnPosition is called with the step count answering GetPosition.
	OnPosition func(motor uint16, steps int32)

	// OnSpeed is called with the live speed answering GetSpeed, positive
	// counter-clockwise.
	// TODO: confirm the unit; the manual says RPM but the value may be in
	// the wire's nominal speed unit like everything else.
	OnSpeed func(motor uint16, rpm int16)

	// OnEncoder is called with the cumulative encoder value answering
	// GetEncoder. AnglePerTurn units make one clockwise revolution.
	OnEncoder func(motor uint16, value int64)

	// OnEncoderSplit is called with the turn count and within-turn angle
	// answering GetEncoderSplit.
	OnEncoderSplit func(motor uint16, turns int32, angle uint16)

	// OnIOStatus is called with the port levels answering GetIOStatus.
	OnIOStatus func(motor uint16, status IOStatus)

	// OnMotorStatus is called with the answer to QueryStatus.
	OnMotorStatus func(motor uint16, status MotorStatus)

	// OnGoHome is called with each homing status the driver reports:
	// once when homing starts, again when it ends.
	OnGoHome func(motor uint16, status GoHomeStatus)

	// OnSetZero is called with the driver's answer to SetZero.
	OnSetZero func(motor uint16, ok bool)

	// OnEnable is called with the driver's answer to SetEnable.
	OnEnable func(motor uint16, ok bool)

	// OnEmergencyStop is called with the driver's answer to EmergencyStop.
	OnEmergencyStop func(motor uint16, ok bool)

	// OnShaftRelease is called with the driver's answer to
	// ReleaseShaftLock.
	OnShaftRelease func(motor uint16, ok bool)

	norm uint8
}

// Option configures a Controller.
type Option func(*Controller) error

// WithLogger sets the logger commands and dropped frames are reported to.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) error {
		if log == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.log = log
		return nil
	}
}

// NewController wires a controller to the drivers listed in cfg over bus.
func NewController(bus Bus, cfg Config, opts ...Option) (*Controller, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	if len(cfg.MotorIDs) == 0 {
		return nil, fmt.Errorf("at least one motor id is required")
	}
	ids := make(map[uint16]struct{}, len(cfg.MotorIDs))
	for _, id := range cfg.MotorIDs {
		if id == BroadcastID || id > MaxID {
			return nil, fmt.Errorf("motor id 0x%03X outside 0x001..0x%03X: %w",
				id, MaxID, armlink.ErrOutOfRange)
		}
		ids[id] = struct{}{}
	}
	norm := cfg.NormFactor
	if norm == 0 {
		norm = DefaultNormFactor
	}

	c := &Controller{
		bus:  bus,
		log:  zap.NewNop(),
		ids:  ids,
		norm: norm,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply controller option: %w", err)
		}
	}
	return c, nil
}

// SetSpeed spins motor continuously at rpm, ramping at accel. Positive rpm
// is counter-clockwise, zero stops the motor, and accel 0 jumps straight to
// the target speed. The driver answers through OnSetSpeed.
func (c *Controller) SetSpeed(ctx context.Context, motor uint16, rpm int16, accel uint8) error {
	speed, clockwise, err := c.wireSpeed(rpm)
	if err != nil {
		return fmt.Errorf("set speed for motor %d: %w", motor, err)
	}
	data, err := BuildSetSpeed(motor, speed, clockwise, accel)
	if err != nil {
		return fmt.Errorf("set speed for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdSetSpeed, motor, data)
}

// SendStep moves motor by steps steps at rpm, the sign of rpm giving the
// direction as in SetSpeed. The driver answers through OnSendStep, once on
// acceptance and again when motion ends.
func (c *Controller) SendStep(ctx context.Context, motor uint16, steps uint32, rpm int16, accel uint8) error {
	speed, clockwise, err := c.wireSpeed(rpm)
	if err != nil {
		return fmt.Errorf("send step for motor %d: %w", motor, err)
	}
	data, err := BuildSendStep(motor, speed, clockwise, accel, steps)
	if err != nil {
		return fmt.Errorf("send step for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdSendStep, motor, data)
}

// SeekPosition moves motor to an absolute position in steps from the axis
// zero. The sign of rpm is ignored: the driver travels whichever way reaches
// the target. The driver answers through OnSeekPosition.
func (c *Controller) SeekPosition(ctx context.Context, motor uint16, position int32, rpm int16, accel uint8) error {
	speed, _, err := c.wireSpeed(rpm)
	if err != nil {
		return fmt.Errorf("seek position for motor %d: %w", motor, err)
	}
	data, err := BuildSeekSteps(motor, speed, accel, position)
	if err != nil {
		return fmt.Errorf("seek position for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdSeekPosBySteps, motor, data)
}

// SendAngle moves motor by a relative angle in units of 1/0x4000 of a
// revolution, positive clockwise. The sign of rpm is ignored. The driver
// answers through OnSendAngle.
func (c *Controller) SendAngle(ctx context.Context, motor uint16, angle int32, rpm int16, accel uint8) error {
	speed, _, err := c.wireSpeed(rpm)
	if err != nil {
		return fmt.Errorf("send angle for motor %d: %w", motor, err)
	}
	data, err := BuildSendAngle(motor, speed, accel, angle)
	if err != nil {
		return fmt.Errorf("send angle for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdSendAngle, motor, data)
}

// SeekAngle moves motor to an absolute angle from the axis zero, in units of
// 1/0x4000 of a revolution. Unlike the other moves, a SeekAngle sent while
// one is already running replaces it instead of queueing behind it. The
// driver answers through OnSeekAngle.
func (c *Controller) SeekAngle(ctx context.Context, motor uint16, angle int32, rpm int16, accel uint8) error {
	speed, _, err := c.wireSpeed(rpm)
	if err != nil {
		return fmt.Errorf("seek angle for motor %d: %w", motor, err)
	}
	data, err := BuildSeekAngle(motor, speed, accel, angle)
	if err != nil {
		return fmt.Errorf("seek angle for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdSeekPosByAngle, motor, data)
}

// GetPosition asks motor for its accumulated step count, answered through
// OnPosition.
func (c *Controller) GetPosition(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdCurrentPos, motor)
}

// GetSpeed asks motor for its live speed, answered through OnSpeed.
func (c *Controller) GetSpeed(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdMotorSpeed, motor)
}

// GetEncoder asks motor for its cumulative encoder value, answered through
// OnEncoder.
func (c *Controller) GetEncoder(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdEncoderAdditive, motor)
}

// GetEncoderSplit asks motor for its encoder value as a turn count plus
// angle, answered through OnEncoderSplit.
func (c *Controller) GetEncoderSplit(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdEncoderSplit, motor)
}

// GetIOStatus asks motor for its IO port levels, answered through
// OnIOStatus.
func (c *Controller) GetIOStatus(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdIOStatus, motor)
}

// QueryStatus asks motor what it is doing, answered through OnMotorStatus.
func (c *Controller) QueryStatus(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdQueryStatus, motor)
}

// SetEnable energises or releases motor's windings, answered through
// OnEnable. A released motor holds no torque.
func (c *Controller) SetEnable(ctx context.Context, motor uint16, enable bool) error {
	data, err := BuildEnable(motor, enable)
	if err != nil {
		return fmt.Errorf("set enable for motor %d: %w", motor, err)
	}
	return c.send(ctx, CmdEnableMotor, motor, data)
}

// EmergencyStop halts motor immediately, abandoning any move in progress.
// The driver answers through OnEmergencyStop.
func (c *Controller) EmergencyStop(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdEmergencyStop, motor)
}

// GoHome runs motor's homing routine, answered through OnGoHome once when
// homing starts and again when it ends.
func (c *Controller) GoHome(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdGoHome, motor)
}

// SetZero makes motor's current position the axis zero, answered through
// OnSetZero.
func (c *Controller) SetZero(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdSetZero, motor)
}

// ReleaseShaftLock clears the protection state motor enters after a stall,
// answered through OnShaftRelease.
func (c *Controller) ReleaseShaftLock(ctx context.Context, motor uint16) error {
	return c.query(ctx, CmdReleaseShaftLock, motor)
}

// Poll receives one CAN frame and dispatches it to the matching callback.
// Frames from ids outside the configured motor set are ignored; frames that
// fail their checksum or carry an impossible layout are logged and dropped.
// Callers bound the wait with ctx, typically a deadline.
func (c *Controller) Poll(ctx context.Context) error {
	frm, err := c.bus.Receive(ctx)
	if err != nil {
		return fmt.Errorf("receive frame: %w", err)
	}
	if err := c.dispatch(frm); err != nil {
		c.log.Warn("dropping CAN frame",
			zap.Uint32("id", frm.ID),
			zap.Error(err))
	}
	return nil
}

// Run polls until ctx ends or the bus fails, returning the error that
// stopped it.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := c.Poll(ctx); err != nil {
			return err
		}
	}
}

// wireSpeed converts a signed RPM into the wire's speed magnitude and
// direction under the configured normalisation factor.
func (c *Controller) wireSpeed(rpm int16) (speed uint16, clockwise bool, err error) {
	mag := int32(rpm)
	if mag < 0 {
		clockwise = true
		mag = -mag
	}
	mag = mag * int32(c.norm) / DefaultNormFactor
	if mag > int32(MaxSpeed) {
		return 0, false, fmt.Errorf("speed %d RPM scales to %d, above %d: %w",
			rpm, mag, MaxSpeed, armlink.ErrOutOfRange)
	}
	return uint16(mag), clockwise, nil
}

// query sends a request with no fields.
func (c *Controller) query(ctx context.Context, cmd Command, motor uint16) error {
	data, err := BuildQuery(motor, cmd)
	if err != nil {
		return fmt.Errorf("%v for motor %d: %w", cmd, motor, err)
	}
	return c.send(ctx, cmd, motor, data)
}

func (c *Controller) send(ctx context.Context, cmd Command, motor uint16, data []byte) error {
	c.log.Debug("sending request",
		zap.Stringer("command", cmd),
		zap.Uint16("motor", motor))
	if err := c.bus.Send(ctx, Frame{ID: uint32(motor), Data: data}); err != nil {
		return fmt.Errorf("send %v to motor %d: %w", cmd, motor, err)
	}
	return nil
}

func (c *Controller) dispatch(frm Frame) error {
	if frm.Extended || frm.ID > uint32(MaxID) {
		c.log.Debug("ignoring non-driver frame", zap.Uint32("id", frm.ID))
		return nil
	}
	motor := uint16(frm.ID)
	if _, ours := c.ids[motor]; !ours {
		c.log.Debug("ignoring frame from unconfigured id", zap.Uint16("id", motor))
		return nil
	}

	cmd, fields, err := ParseResponse(motor, frm.Data)
	if err != nil {
		return err
	}

	switch cmd {
	case CmdEncoderSplit:
		if err := fieldLen(cmd, fields, 6); err != nil {
			return err
		}
		turns, _ := wire.Int32(fields, wire.BigEndian)
		angle, _ := wire.Uint16(fields[4:], wire.BigEndian)
		if c.OnEncoderSplit != nil {
			c.OnEncoderSplit(motor, turns, angle)
		}
	case CmdEncoderAdditive:
		if err := fieldLen(cmd, fields, 6); err != nil {
			return err
		}
		value, _ := wire.Int48(fields, wire.BigEndian)
		if c.OnEncoder != nil {
			c.OnEncoder(motor, value)
		}
	case CmdMotorSpeed:
		if err := fieldLen(cmd, fields, 2); err != nil {
			return err
		}
		rpm, _ := wire.Int16(fields, wire.BigEndian)
		if c.OnSpeed != nil {
			c.OnSpeed(motor, rpm)
		}
	case CmdCurrentPos:
		if err := fieldLen(cmd, fields, 4); err != nil {
			return err
		}
		steps, _ := wire.Int32(fields, wire.BigEndian)
		if c.OnPosition != nil {
			c.OnPosition(motor, steps)
		}
	case CmdIOStatus:
		if err := fieldLen(cmd, fields, 1); err != nil {
			return err
		}
		if c.OnIOStatus != nil {
			c.OnIOStatus(motor, IOStatus(fields[0]))
		}
	case CmdReleaseShaftLock:
		ok, err := okField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnShaftRelease != nil {
			c.OnShaftRelease(motor, ok)
		}
	case CmdGoHome:
		if err := fieldLen(cmd, fields, 1); err != nil {
			return err
		}
		status := GoHomeStatus(fields[0])
		if status > GoHomeCompleted {
			return fmt.Errorf("homing status %d: %w", fields[0], armlink.ErrMalformedFrame)
		}
		if c.OnGoHome != nil {
			c.OnGoHome(motor, status)
		}
	case CmdSetZero:
		ok, err := okField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSetZero != nil {
			c.OnSetZero(motor, ok)
		}
	case CmdQueryStatus:
		if err := fieldLen(cmd, fields, 1); err != nil {
			return err
		}
		status := MotorStatus(fields[0])
		if status > StatusCalibrating {
			return fmt.Errorf("motor status %d: %w", fields[0], armlink.ErrMalformedFrame)
		}
		if c.OnMotorStatus != nil {
			c.OnMotorStatus(motor, status)
		}
	case CmdEnableMotor:
		ok, err := okField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnEnable != nil {
			c.OnEnable(motor, ok)
		}
	case CmdSetSpeed:
		ok, err := okField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSetSpeed != nil {
			c.OnSetSpeed(motor, ok)
		}
	case CmdEmergencyStop:
		ok, err := okField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnEmergencyStop != nil {
			c.OnEmergencyStop(motor, ok)
		}
	case CmdSendStep:
		status, err := moveField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSendStep != nil {
			c.OnSendStep(motor, status)
		}
	case CmdSeekPosBySteps:
		status, err := moveField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSeekPosition != nil {
			c.OnSeekPosition(motor, status)
		}
	case CmdSendAngle:
		status, err := moveField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSendAngle != nil {
			c.OnSendAngle(motor, status)
		}
	case CmdSeekPosByAngle:
		status, err := moveField(cmd, fields)
		if err != nil {
			return err
		}
		if c.OnSeekAngle != nil {
			c.OnSeekAngle(motor, status)
		}
	default:
		c.log.Info("unknown response command",
			zap.Stringer("command", cmd),
			zap.Uint16("motor", motor))
	}
	return nil
}

// fieldLen checks a response carries at least the bytes its layout needs.
func fieldLen(cmd Command, fields []byte, n int) error {
	if len(fields) < n {
		return fmt.Errorf("%v response carries %d field bytes, need %d: %w",
			cmd, len(fields), n, armlink.ErrMalformedFrame)
	}
	return nil
}

// okField decodes the single success byte most acknowledgements carry.
func okField(cmd Command, fields []byte) (bool, error) {
	if err := fieldLen(cmd, fields, 1); err != nil {
		return false, err
	}
	return fields[0] != 0, nil
}

// moveField decodes and validates the status byte move replies carry.
func moveField(cmd Command, fields []byte) (MoveStatus, error) {
	if err := fieldLen(cmd, fields, 1); err != nil {
		return 0, err
	}
	status := MoveStatus(fields[0])
	if status > MoveLimitReached {
		return 0, fmt.Errorf("%v status %d: %w", cmd, fields[0], armlink.ErrMalformedFrame)
	}
	return status, nil
}
