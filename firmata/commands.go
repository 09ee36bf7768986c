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

// Command identifies a stepper controller sysex command. The controller only
// decodes commands 0x00-0x0F; responses reuse the command byte of the request
// they answer.
type Command byte

const (
	// CmdEcho responds with the payload exactly as received.
	CmdEcho Command = 0x00

	// CmdSetSpeed sets the continuous speed of a motor.
	// Request: motor uint8, speed int16. Response mirrors the request.
	CmdSetSpeed Command = 0x01

	// CmdGetSpeed queries the current speed of a motor.
	// Request: motor uint8. Response: motor uint8, speed int16.
	CmdGetSpeed Command = 0x02

	// CmdSendStep moves a motor a fixed number of steps, direction taken
	// from the sign of the speed.
	// Request: motor uint8, steps uint16, speed int16. Response mirrors.
	CmdSendStep Command = 0x03

	// CmdSeekPosition moves a motor until its position counter reaches the
	// target; the speed's sign is ignored.
	// Request: motor uint8, position int32, speed int16. Response mirrors.
	CmdSeekPosition Command = 0x04

	// CmdGetPosition queries a motor's step count from its zero point.
	// Request: motor uint8. Response: motor uint8, position int32.
	CmdGetPosition Command = 0x05

	// CmdSetGripper positions the gripper servo; 0-180 spans the servo's
	// whole range and larger values are ignored by the firmware.
	// Request: position uint8. Response mirrors.
	CmdSetGripper Command = 0x06
)

// String returns the command's name for logs.
func (c Command) String() string {
	switch c {
	case CmdEcho:
		return "ECHO"
	case CmdSetSpeed:
		return "SET_SPEED"
	case CmdGetSpeed:
		return "GET_SPEED"
	case CmdSendStep:
		return "SEND_STEP"
	case CmdSeekPosition:
		return "SEEK_POS"
	case CmdGetPosition:
		return "GET_POS"
	case CmdSetGripper:
		return "SET_GRIPPER"
	default:
		return "UNKNOWN"
	}
}

// Sysex framing bytes, shared with the serial link implementation.
const (
	// SysexStart opens a sysex frame.
	SysexStart byte = 0xF0
	// SysexEnd closes a sysex frame.
	SysexEnd byte = 0xF7
	// ReportVersion carries the two-byte protocol version the controller
	// announces at startup; receiving it is the readiness handshake.
	ReportVersion byte = 0xF9
)

// GripperMax is the largest accepted gripper position. The firmware silently
// drops anything larger, so the client rejects it up front instead.
const GripperMax = 180
