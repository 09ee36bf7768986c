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
	"fmt"

	armlink "github.com/umrt-robotics/go-armlink"
	"github.com/umrt-robotics/go-armlink/wire"
)

// maxFields is the widest field block a classic CAN frame leaves after the
// command and checksum bytes.
const maxFields = 6

// Checksum computes the trailing byte of an MKS payload: the low byte of the
// CAN id plus every payload byte before the checksum itself.
func Checksum(id uint16, data []byte) byte {
	sum := uint32(id)
	for _, b := range data {
		sum += uint32(b)
	}
	return byte(sum)
}

// PackSpeed packs a speed magnitude and direction into the 16-bit field used
// by CmdSetSpeed and CmdSendStep:
//
//	byte 0: | dir | 0 | 0 | 0 | speed bits 11..8 |
//	byte 1: |            speed bits 7..0         |
//
// A set direction bit spins the motor clockwise. Speeds above MaxSpeed do not
// fit the field and are rejected.
func PackSpeed(speed uint16, clockwise bool) (hi, lo byte, err error) {
	if speed > MaxSpeed {
		return 0, 0, fmt.Errorf("speed %d exceeds %d: %w", speed, MaxSpeed, armlink.ErrOutOfRange)
	}
	hi = byte(speed >> 8)
	if clockwise {
		hi |= 0x80
	}
	return hi, byte(speed), nil
}

// BuildRequest assembles a complete CAN payload for the driver at id:
// the command byte, the given fields, and the checksum over both.
func BuildRequest(id uint16, cmd Command, fields ...byte) ([]byte, error) {
	if id > MaxID {
		return nil, fmt.Errorf("CAN id 0x%03X exceeds 0x%03X: %w", id, MaxID, armlink.ErrOutOfRange)
	}
	if len(fields) > maxFields {
		return nil, fmt.Errorf("%d field bytes exceed the %d a CAN frame holds: %w",
			len(fields), maxFields, armlink.ErrOutOfRange)
	}
	payload := make([]byte, 0, len(fields)+2)
	payload = append(payload, byte(cmd))
	payload = append(payload, fields...)
	return append(payload, Checksum(id, payload)), nil
}

// BuildSetSpeed assembles a CmdSetSpeed request: spin continuously at the
// given speed, ramping at accel. Speed 0 stops the motor.
func BuildSetSpeed(id, speed uint16, clockwise bool, accel uint8) ([]byte, error) {
	hi, lo, err := PackSpeed(speed, clockwise)
	if err != nil {
		return nil, err
	}
	return BuildRequest(id, CmdSetSpeed, hi, lo, accel)
}

// BuildSendStep assembles a CmdSendStep request: move steps steps in the
// given direction. Steps beyond MaxSteps do not fit the 24-bit field.
func BuildSendStep(id, speed uint16, clockwise bool, accel uint8, steps uint32) ([]byte, error) {
	hi, lo, err := PackSpeed(speed, clockwise)
	if err != nil {
		return nil, err
	}
	if err := wire.CheckUint(uint64(steps), 3); err != nil {
		return nil, fmt.Errorf("steps %d: %w", steps, err)
	}
	fields := wire.AppendUint24([]byte{hi, lo, accel}, steps, wire.BigEndian)
	return BuildRequest(id, CmdSendStep, fields...)
}

// BuildSeekSteps assembles a CmdSeekPosBySteps request: move to an absolute
// step position. There is no direction bit; the driver travels whichever way
// reaches the target.
func BuildSeekSteps(id, speed uint16, accel uint8, position int32) ([]byte, error) {
	if err := wire.CheckInt(int64(position), 3); err != nil {
		return nil, fmt.Errorf("position %d: %w", position, err)
	}
	return buildMoveTo(id, CmdSeekPosBySteps, speed, accel, position)
}

// BuildSendAngle assembles a CmdSendAngle request: move by a relative angle
// in units of 1/0x4000 of a revolution, positive clockwise.
func BuildSendAngle(id, speed uint16, accel uint8, angle int32) ([]byte, error) {
	if err := wire.CheckInt(int64(angle), 3); err != nil {
		return nil, fmt.Errorf("angle %d: %w", angle, err)
	}
	return buildMoveTo(id, CmdSendAngle, speed, accel, angle)
}

// BuildSeekAngle assembles a CmdSeekPosByAngle request: move to an absolute
// angle measured from the axis zero, in units of 1/0x4000 of a revolution.
func BuildSeekAngle(id, speed uint16, accel uint8, angle int32) ([]byte, error) {
	if err := wire.CheckInt(int64(angle), 3); err != nil {
		return nil, fmt.Errorf("angle %d: %w", angle, err)
	}
	return buildMoveTo(id, CmdSeekPosByAngle, speed, accel, angle)
}

// buildMoveTo shares the [speed uint16][accel uint8][target int24] layout of
// the three absolute and angular move commands. The caller has already
// range-checked target.
func buildMoveTo(id uint16, cmd Command, speed uint16, accel uint8, target int32) ([]byte, error) {
	if speed > MaxSpeed {
		return nil, fmt.Errorf("speed %d exceeds %d: %w", speed, MaxSpeed, armlink.ErrOutOfRange)
	}
	fields := wire.AppendUint16(nil, speed, wire.BigEndian)
	fields = append(fields, accel)
	fields = wire.AppendInt24(fields, target, wire.BigEndian)
	return BuildRequest(id, cmd, fields...)
}

// BuildEnable assembles a CmdEnableMotor request.
func BuildEnable(id uint16, enable bool) ([]byte, error) {
	var b byte
	if enable {
		b = 1
	}
	return BuildRequest(id, CmdEnableMotor, b)
}

// BuildQuery assembles a request with no fields, which is every read command
// plus the zeroing, homing, stop and shaft release commands.
func BuildQuery(id uint16, cmd Command) ([]byte, error) {
	return BuildRequest(id, cmd)
}

// ParseResponse checks a reply payload received from the driver at id and
// splits it into the echoed command and its field bytes. The returned fields
// alias data.
func ParseResponse(id uint16, data []byte) (Command, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("response of %d bytes cannot hold a command and checksum: %w",
			len(data), armlink.ErrMalformedFrame)
	}
	body, sum := data[:len(data)-1], data[len(data)-1]
	if want := Checksum(id, body); sum != want {
		return 0, nil, fmt.Errorf("response checksum 0x%02X, computed 0x%02X: %w",
			sum, want, armlink.ErrChecksumMismatch)
	}
	return Command(body[0]), body[1:], nil
}
