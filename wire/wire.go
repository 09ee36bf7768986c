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

/*
Package wire packs and unpacks the fixed-width integers both arm protocols are
built from: 1 to 8 bytes wide, either byte order, signed or unsigned.

Little-endian places the least significant byte first, so for 0xDEADBEEF at
width 4:

	input:        1101 1110 1010 1101 1011 1110 1110 1111
	bit grouping: 3333 3333 2222 2222 1111 1111 0000 0000
	output:       { 0xEF, 0xBE, 0xAD, 0xDE }

Big-endian emits the same bytes in reverse index order. Signed values travel
as two's complement within the field; decoding sign-extends from the field's
top bit.

Values wider than their field are truncated by masking rather than rejected,
which is the controller firmware's own packing behaviour. Protocol layers that
want a hard failure instead validate first with CheckUint or CheckInt.

The Firmata link carries everything little-endian; the MKS bus carries
everything big-endian. Neither package hardcodes that here: byte order is part
of each field's contract and is passed per call.
*/
package wire

import (
	"fmt"

	armlink "github.com/umrt-robotics/go-armlink"
)

// ByteOrder selects how a packed integer's bytes are sequenced.
type ByteOrder int

const (
	// LittleEndian places the least significant byte first.
	LittleEndian ByteOrder = iota
	// BigEndian places the most significant byte first.
	BigEndian
)

// String returns the conventional name of the byte order.
func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

const maxWidth = 8

// AppendUint appends the width-byte encoding of v to dst and returns the
// extended slice. Bits above the field are discarded. Width must be between
// 1 and 8 bytes.
func AppendUint(dst []byte, v uint64, width int, order ByteOrder) ([]byte, error) {
	if width < 1 || width > maxWidth {
		return dst, fmt.Errorf("append %d-byte field: %w", width, armlink.ErrOutOfRange)
	}
	if order == BigEndian {
		for i := width - 1; i >= 0; i-- {
			dst = append(dst, byte(v>>(8*i)))
		}
		return dst, nil
	}
	for i := 0; i < width; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst, nil
}

// AppendInt appends the width-byte two's-complement encoding of v to dst.
// Bits above the field are discarded, so a negative value narrower than its
// field still decodes correctly while an overflowing one wraps; use CheckInt
// first when wrapping must be an error.
func AppendInt(dst []byte, v int64, width int, order ByteOrder) ([]byte, error) {
	return AppendUint(dst, uint64(v), width, order)
}

// Uint decodes the first width bytes of buf as an unsigned integer.
func Uint(buf []byte, width int, order ByteOrder) (uint64, error) {
	if width < 1 || width > maxWidth {
		return 0, fmt.Errorf("decode %d-byte field: %w", width, armlink.ErrOutOfRange)
	}
	if len(buf) < width {
		return 0, fmt.Errorf("decode %d-byte field from %d bytes: %w", width, len(buf), armlink.ErrShortBuffer)
	}
	var v uint64
	if order == BigEndian {
		for i := 0; i < width; i++ {
			v = v<<8 | uint64(buf[i])
		}
		return v, nil
	}
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// Int decodes the first width bytes of buf as a signed integer, treating the
// field's most significant bit as the sign bit and extending it.
func Int(buf []byte, width int, order ByteOrder) (int64, error) {
	u, err := Uint(buf, width, order)
	if err != nil {
		return 0, err
	}
	if width < maxWidth && u&(1<<(8*width-1)) != 0 {
		u |= ^uint64(0) << (8 * width)
	}
	return int64(u), nil
}

// CheckUint reports ErrOutOfRange if v does not fit in width bytes.
func CheckUint(v uint64, width int) error {
	if width < 1 || width > maxWidth {
		return fmt.Errorf("check %d-byte field: %w", width, armlink.ErrOutOfRange)
	}
	if width < maxWidth && v > (1<<(8*width))-1 {
		return fmt.Errorf("%d does not fit in %d bytes: %w", v, width, armlink.ErrOutOfRange)
	}
	return nil
}

// CheckInt reports ErrOutOfRange if v is not representable as a width-byte
// two's-complement value.
func CheckInt(v int64, width int) error {
	if width < 1 || width > maxWidth {
		return fmt.Errorf("check %d-byte field: %w", width, armlink.ErrOutOfRange)
	}
	if width == maxWidth {
		return nil
	}
	limit := int64(1) << (8*width - 1)
	if v < -limit || v > limit-1 {
		return fmt.Errorf("%d does not fit in %d signed bytes: %w", v, width, armlink.ErrOutOfRange)
	}
	return nil
}

// Fixed-width helpers. These cover the field sizes the arm's protocols use
// (the 48-bit case is the MKS additive encoder value) and cannot fail on the
// append side.

// AppendUint16 appends v as two bytes.
func AppendUint16(dst []byte, v uint16, order ByteOrder) []byte {
	out, _ := AppendUint(dst, uint64(v), 2, order)
	return out
}

// AppendUint24 appends the low 24 bits of v as three bytes.
func AppendUint24(dst []byte, v uint32, order ByteOrder) []byte {
	out, _ := AppendUint(dst, uint64(v), 3, order)
	return out
}

// AppendUint32 appends v as four bytes.
func AppendUint32(dst []byte, v uint32, order ByteOrder) []byte {
	out, _ := AppendUint(dst, uint64(v), 4, order)
	return out
}

// AppendUint48 appends the low 48 bits of v as six bytes.
func AppendUint48(dst []byte, v uint64, order ByteOrder) []byte {
	out, _ := AppendUint(dst, v, 6, order)
	return out
}

// AppendInt16 appends v as two two's-complement bytes.
func AppendInt16(dst []byte, v int16, order ByteOrder) []byte {
	out, _ := AppendInt(dst, int64(v), 2, order)
	return out
}

// AppendInt24 appends the low 24 bits of v as three two's-complement bytes.
func AppendInt24(dst []byte, v int32, order ByteOrder) []byte {
	out, _ := AppendInt(dst, int64(v), 3, order)
	return out
}

// AppendInt32 appends v as four two's-complement bytes.
func AppendInt32(dst []byte, v int32, order ByteOrder) []byte {
	out, _ := AppendInt(dst, int64(v), 4, order)
	return out
}

// AppendInt48 appends the low 48 bits of v as six two's-complement bytes.
func AppendInt48(dst []byte, v int64, order ByteOrder) []byte {
	out, _ := AppendInt(dst, v, 6, order)
	return out
}

// Uint16 decodes the first two bytes of buf.
func Uint16(buf []byte, order ByteOrder) (uint16, error) {
	v, err := Uint(buf, 2, order)
	return uint16(v), err
}

// Uint24 decodes the first three bytes of buf.
func Uint24(buf []byte, order ByteOrder) (uint32, error) {
	v, err := Uint(buf, 3, order)
	return uint32(v), err
}

// Uint32 decodes the first four bytes of buf.
func Uint32(buf []byte, order ByteOrder) (uint32, error) {
	v, err := Uint(buf, 4, order)
	return uint32(v), err
}

// Uint48 decodes the first six bytes of buf.
func Uint48(buf []byte, order ByteOrder) (uint64, error) {
	return Uint(buf, 6, order)
}

// Int16 decodes the first two bytes of buf as a signed value.
func Int16(buf []byte, order ByteOrder) (int16, error) {
	v, err := Int(buf, 2, order)
	return int16(v), err
}

// Int24 decodes the first three bytes of buf as a signed value.
func Int24(buf []byte, order ByteOrder) (int32, error) {
	v, err := Int(buf, 3, order)
	return int32(v), err
}

// Int32 decodes the first four bytes of buf as a signed value.
func Int32(buf []byte, order ByteOrder) (int32, error) {
	v, err := Int(buf, 4, order)
	return int32(v), err
}

// Int48 decodes the first six bytes of buf as a signed value.
func Int48(buf []byte, order ByteOrder) (int64, error) {
	return Int(buf, 6, order)
}
