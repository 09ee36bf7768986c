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

// Package firmata talks to the arm's stepper controller board over the
// Firmata sysex extension mechanism. The board reserves sysex commands
// 0x00-0x06 for stepper and gripper control; every multi-byte field is
// little-endian and every payload byte is split into 7-bit pairs so it can
// travel inside a sysex frame.
package firmata

import (
	"fmt"

	armlink "github.com/umrt-robotics/go-armlink"
)

// Encode7Bit splits each byte of data into two wire bytes: the low seven
// bits, then the eighth bit. Firmata reserves values 0x80 and above for
// framing, so payload bytes must arrive on the wire with their top bit clear.
//
// 0xDE becomes {0x5E, 0x01}, and {0xEF, 0xBE, 0xAD, 0xDE} becomes
// {0x6F, 0x01, 0x3E, 0x01, 0x2D, 0x01, 0x5E, 0x01}.
func Encode7Bit(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, p := range data {
		out = append(out, p&0x7F, (p&0x80)>>7)
	}
	return out
}

// Decode7Bit reassembles bytes split by Encode7Bit. The input must have even
// length, every low byte must fit in seven bits, and every high byte must be
// 0 or 1; anything else reports ErrMalformedFrame.
func Decode7Bit(data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("7-bit payload has odd length %d: %w", len(data), armlink.ErrMalformedFrame)
	}
	out := make([]byte, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		lo, hi := data[i], data[i+1]
		if lo > 0x7F {
			return nil, fmt.Errorf("low byte %#02x at offset %d overflows 7 bits: %w", lo, i, armlink.ErrMalformedFrame)
		}
		if hi > 0x01 {
			return nil, fmt.Errorf("high byte %#02x at offset %d overflows 1 bit: %w", hi, i+1, armlink.ErrMalformedFrame)
		}
		out = append(out, lo|hi<<7)
	}
	return out, nil
}
