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

// Package mks drives MKS SERVO42D/57D closed-loop stepper drivers over a CAN
// bus. Every exchange is a short payload of the form
//
//	[command] [fields...] [checksum]
//
// where the checksum is the low byte of the sum of the driver's CAN id and
// every preceding payload byte. Multi-byte fields travel big-endian.
package mks

import "fmt"

// Command identifies an MKS driver operation. The same value appears as the
// first payload byte of both the request and the driver's reply.
type Command byte

const (
	// CmdEncoderSplit reads the encoder as a full-turn count plus an angle
	// within the turn. The reply carries [turns int32][angle uint16], where
	// 0x4000 angle units make one revolution.
	CmdEncoderSplit Command = 0x30

	// CmdEncoderAdditive reads the encoder as a single cumulative value.
	// The reply carries [value int48]; 0x4000 units make one clockwise
	// revolution.
	CmdEncoderAdditive Command = 0x31

	// CmdMotorSpeed reads the live motor speed. The reply carries
	// [speed int16] in RPM, positive for counter-clockwise rotation.
	CmdMotorSpeed Command = 0x32

	// CmdCurrentPos reads the accumulated step count. The reply carries
	// [position int32] in steps.
	CmdCurrentPos Command = 0x33

	// CmdIOStatus reads the driver's IO port levels. The reply carries a
	// single flags byte; see IOStatus.
	CmdIOStatus Command = 0x34

	// CmdReleaseShaftLock releases the shaft protection state the driver
	// enters after a stall. The reply carries [ok uint8].
	CmdReleaseShaftLock Command = 0x3D

	// CmdGoHome runs the driver's homing routine. The reply carries a
	// GoHomeStatus byte; a second reply follows when homing ends.
	CmdGoHome Command = 0x91

	// CmdSetZero sets the current position as the axis zero. The reply
	// carries [ok uint8].
	CmdSetZero Command = 0x92

	// CmdQueryStatus asks what the motor is doing right now. The reply
	// carries a MotorStatus byte.
	CmdQueryStatus Command = 0xF1

	// CmdEnableMotor energises or releases the motor windings. The request
	// carries [enable uint8] and the reply [ok uint8].
	CmdEnableMotor Command = 0xF3

	// CmdSendAngle moves by a relative angle. The request carries
	// [speed uint16][accel uint8][angle int24] with 0x4000 angle units per
	// revolution and no direction bit: the sign of the angle decides the
	// direction of travel, positive clockwise. Replies carry a MoveStatus
	// byte, once on acceptance and again on completion.
	CmdSendAngle Command = 0xF4

	// CmdSeekPosByAngle moves to an absolute angle measured from the axis
	// zero. Same field layout and replies as CmdSendAngle.
	CmdSeekPosByAngle Command = 0xF5

	// CmdSetSpeed spins the motor continuously. The request carries
	// [speed+dir uint16][accel uint8] and the reply [ok uint8].
	CmdSetSpeed Command = 0xF6

	// CmdEmergencyStop halts the motor immediately, abandoning any move in
	// progress. The reply carries [ok uint8].
	CmdEmergencyStop Command = 0xF7

	// CmdSendStep moves by a relative number of steps. The request carries
	// [speed+dir uint16][accel uint8][steps uint24]; replies carry a
	// MoveStatus byte, once on acceptance and again on completion.
	CmdSendStep Command = 0xFD

	// CmdSeekPosBySteps moves to an absolute step position measured from
	// the axis zero. The request carries [speed uint16][accel uint8]
	// [position int24] with no direction bit: the sign of the position
	// decides the direction of travel. Replies are as for CmdSendStep.
	CmdSeekPosBySteps Command = 0xFE
)

// String returns the manual's name for the command.
func (c Command) String() string {
	switch c {
	case CmdEncoderSplit:
		return "ENCODER_SPLIT"
	case CmdEncoderAdditive:
		return "ENCODER_ADDITIVE"
	case CmdMotorSpeed:
		return "MOTOR_SPEED"
	case CmdCurrentPos:
		return "CURRENT_POS"
	case CmdIOStatus:
		return "IO_STATUS"
	case CmdReleaseShaftLock:
		return "RELEASE_SHAFT_LOCK"
	case CmdGoHome:
		return "GO_HOME"
	case CmdSetZero:
		return "SET_ZERO"
	case CmdQueryStatus:
		return "QUERY_STATUS"
	case CmdEnableMotor:
		return "ENABLE_MOTOR"
	case CmdSendAngle:
		return "SEND_ANGLE"
	case CmdSeekPosByAngle:
		return "SEEK_POS_BY_ANGLE"
	case CmdSetSpeed:
		return "SET_SPEED"
	case CmdEmergencyStop:
		return "EMERGENCY_STOP"
	case CmdSendStep:
		return "SEND_STEP"
	case CmdSeekPosBySteps:
		return "SEEK_POS_BY_STEPS"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(c))
	}
}

// Wire limits. CAN ids above BroadcastID collide with nothing on the arm; the
// field limits come straight out of the payload layouts.
const (
	// BroadcastID addresses every driver on the bus at once. Drivers reply
	// from their own id, never from 0.
	BroadcastID uint16 = 0x000

	// MaxID is the highest standard-frame CAN id a driver can hold.
	MaxID uint16 = 0x7FF

	// MaxSpeed is the widest value the 12-bit speed field can carry.
	// Individual work modes clamp lower; see WorkMode.MaxSpeed.
	MaxSpeed uint16 = 0x0FFF

	// MaxSteps is the widest relative move the 24-bit step field can carry.
	MaxSteps uint32 = 0xFFFFFF

	// MaxPosition and MinPosition bound the signed 24-bit absolute
	// position field.
	MaxPosition int32 = 0x7FFFFF
	MinPosition int32 = -0x800000

	// MaxAngle and MinAngle bound the signed 24-bit angle field used by
	// CmdSendAngle and CmdSeekPosByAngle. 0x4000 units per revolution.
	MaxAngle int32 = 0x7FFFFF
	MinAngle int32 = -0x800000

	// AnglePerTurn is the number of angle units in one revolution.
	AnglePerTurn = 0x4000
)

// MoveStatus is the driver's answer to a positioning command. The driver
// replies twice per move: first with the acceptance status, then again with
// MoveCompleted or MoveLimitReached when motion ends.
type MoveStatus byte

const (
	// MoveFailed means the driver rejected the move.
	MoveFailed MoveStatus = 0
	// MoveMoving means the driver accepted the move and is executing it.
	MoveMoving MoveStatus = 1
	// MoveCompleted means the move finished.
	MoveCompleted MoveStatus = 2
	// MoveLimitReached means an end stop cut the move short.
	MoveLimitReached MoveStatus = 3
)

// String returns a short human-readable name for the status.
func (s MoveStatus) String() string {
	switch s {
	case MoveFailed:
		return "failed"
	case MoveMoving:
		return "moving"
	case MoveCompleted:
		return "completed"
	case MoveLimitReached:
		return "limit reached"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// MotorStatus is the driver's answer to CmdQueryStatus.
type MotorStatus byte

const (
	// StatusQueryFailed means the driver could not answer.
	StatusQueryFailed MotorStatus = 0
	// StatusStopped means the motor is at rest.
	StatusStopped MotorStatus = 1
	// StatusSpeedUp means the motor is accelerating.
	StatusSpeedUp MotorStatus = 2
	// StatusSpeedDown means the motor is decelerating.
	StatusSpeedDown MotorStatus = 3
	// StatusFullSpeed means the motor is at its commanded speed.
	StatusFullSpeed MotorStatus = 4
	// StatusHoming means the homing routine is running.
	StatusHoming MotorStatus = 5
	// StatusCalibrating means the encoder calibration routine is running.
	StatusCalibrating MotorStatus = 6
)

// String returns a short human-readable name for the status.
func (s MotorStatus) String() string {
	switch s {
	case StatusQueryFailed:
		return "query failed"
	case StatusStopped:
		return "stopped"
	case StatusSpeedUp:
		return "speeding up"
	case StatusSpeedDown:
		return "slowing down"
	case StatusFullSpeed:
		return "at speed"
	case StatusHoming:
		return "homing"
	case StatusCalibrating:
		return "calibrating"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// GoHomeStatus is the driver's answer to CmdGoHome.
type GoHomeStatus byte

const (
	// GoHomeFailed means the homing routine could not start or gave up.
	GoHomeFailed GoHomeStatus = 0
	// GoHomeStarted means homing is underway; a second reply follows.
	GoHomeStarted GoHomeStatus = 1
	// GoHomeCompleted means the axis is homed.
	GoHomeCompleted GoHomeStatus = 2
)

// String returns a short human-readable name for the status.
func (s GoHomeStatus) String() string {
	switch s {
	case GoHomeFailed:
		return "failed"
	case GoHomeStarted:
		return "started"
	case GoHomeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// WorkMode is the driver's configured control scheme. It is set on the
// driver's own screen, not over the bus, but it decides how fast the driver
// will actually go: speeds beyond the mode's limit are clamped by the
// firmware, not rejected.
type WorkMode byte

const (
	// CROpen is pulse-interface open loop.
	CROpen WorkMode = 0x00
	// CRClose is pulse-interface closed loop.
	CRClose WorkMode = 0x01
	// CRvFOC is pulse-interface field-oriented control.
	CRvFOC WorkMode = 0x02
	// SROpen is serial-interface open loop.
	SROpen WorkMode = 0x03
	// SRClose is serial-interface closed loop.
	SRClose WorkMode = 0x04
	// SRvFOC is serial-interface field-oriented control.
	SRvFOC WorkMode = 0x05
)

// MaxSpeed returns the highest speed the firmware will honour in this mode.
// Requests above it are clamped by the driver, so callers that care should
// clamp or warn first.
func (m WorkMode) MaxSpeed() uint16 {
	switch m {
	case CROpen, SROpen:
		return 400
	case CRClose, SRClose:
		return 1500
	case CRvFOC, SRvFOC:
		return 3000
	default:
		return MaxSpeed
	}
}

// String returns the manual's name for the mode.
func (m WorkMode) String() string {
	switch m {
	case CROpen:
		return "CR_OPEN"
	case CRClose:
		return "CR_CLOSE"
	case CRvFOC:
		return "CR_vFOC"
	case SROpen:
		return "SR_OPEN"
	case SRClose:
		return "SR_CLOSE"
	case SRvFOC:
		return "SR_vFOC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(m))
	}
}

// IOStatus is the flags byte returned by CmdIOStatus. Bits 4 and up are
// reserved by the manufacturer. With limit port remapping enabled, In1 is
// the En port and In2 the Dir port.
type IOStatus byte

// Bit positions within the IO status byte.
const (
	ioIn2  = 1 << 0
	ioIn1  = 1 << 1
	ioOut1 = 1 << 2
	ioOut2 = 1 << 3
)

// In1 reports the level of input port 1.
func (s IOStatus) In1() bool { return s&ioIn1 != 0 }

// In2 reports the level of input port 2.
func (s IOStatus) In2() bool { return s&ioIn2 != 0 }

// Out1 reports the level of output port 1.
func (s IOStatus) Out1() bool { return s&ioOut1 != 0 }

// Out2 reports the level of output port 2.
func (s IOStatus) Out2() bool { return s&ioOut2 != 0 }
