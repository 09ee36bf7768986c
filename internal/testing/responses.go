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

// Package testing provides an in-memory stand-in for a CAN bus of MKS
// stepper drivers, so the full controller stack can run in tests without
// hardware on the bench.
package testing

import (
	"github.com/umrt-robotics/go-armlink/mks"
	"github.com/umrt-robotics/go-armlink/wire"
)

// BuildResponse assembles one response payload for the driver on id: the
// command byte, its fields, then the id-seeded checksum. The sum is computed
// here rather than borrowed from the package under test.
func BuildResponse(id uint16, cmd mks.Command, fields ...byte) []byte {
	data := append([]byte{byte(cmd)}, fields...)
	sum := uint32(id)
	for _, b := range data {
		sum += uint32(b)
	}
	return append(data, byte(sum))
}

// BuildOKResponse builds the one-byte acknowledgement used by commands like
// SET_ZERO and ENABLE_MOTOR.
func BuildOKResponse(id uint16, cmd mks.Command, ok bool) []byte {
	status := byte(0)
	if ok {
		status = 1
	}
	return BuildResponse(id, cmd, status)
}

// BuildMoveResponse reports a motion command's progress.
func BuildMoveResponse(id uint16, cmd mks.Command, status mks.MoveStatus) []byte {
	return BuildResponse(id, cmd, byte(status))
}

// BuildPositionResponse reports the position counter, in pulses CW of zero.
func BuildPositionResponse(id uint16, position int32) []byte {
	return BuildResponse(id, mks.CmdCurrentPos,
		wire.AppendInt32(nil, position, wire.BigEndian)...)
}

// BuildSpeedResponse reports the shaft speed, positive CCW.
func BuildSpeedResponse(id uint16, rpm int16) []byte {
	return BuildResponse(id, mks.CmdMotorSpeed,
		wire.AppendInt16(nil, rpm, wire.BigEndian)...)
}

// BuildEncoderResponse reports the additive encoder value, in 1/0x4000ths
// of a turn CW of zero.
func BuildEncoderResponse(id uint16, value int64) []byte {
	return BuildResponse(id, mks.CmdEncoderAdditive,
		wire.AppendInt48(nil, value, wire.BigEndian)...)
}

// BuildEncoderSplitResponse reports the encoder value split into whole turns
// and the angle within the current turn.
func BuildEncoderSplitResponse(id uint16, turns int32, angle uint16) []byte {
	fields := wire.AppendInt32(nil, turns, wire.BigEndian)
	fields = wire.AppendUint16(fields, angle, wire.BigEndian)
	return BuildResponse(id, mks.CmdEncoderSplit, fields...)
}

// BuildIOStatusResponse reports the state of the driver's IO pins.
func BuildIOStatusResponse(id uint16, status mks.IOStatus) []byte {
	return BuildResponse(id, mks.CmdIOStatus, byte(status))
}

// BuildStatusResponse reports the motor's motion state.
func BuildStatusResponse(id uint16, status mks.MotorStatus) []byte {
	return BuildResponse(id, mks.CmdQueryStatus, byte(status))
}

// BuildGoHomeResponse reports a homing run's progress.
func BuildGoHomeResponse(id uint16, status mks.GoHomeStatus) []byte {
	return BuildResponse(id, mks.CmdGoHome, byte(status))
}
