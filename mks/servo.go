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

	"go.uber.org/zap"
)

// Servo commands a CAN-PWM gateway sharing the stepper drivers' bus. The
// gateway takes an eight-byte payload on an extended-id frame with the
// commanded position in the first byte; it sends nothing back. One day this
// should grow into DroneCAN ArrayCommand messages for a Mateksys CAN-L4-PWM
// gateway driving several servos.
type Servo struct {
	bus Bus
	log *zap.Logger
	id  uint16
}

// ServoOption configures a Servo.
type ServoOption func(*Servo) error

// WithServoLogger sets the logger servo commands are reported to.
func WithServoLogger(log *zap.Logger) ServoOption {
	return func(s *Servo) error {
		if log == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.log = log
		return nil
	}
}

// NewServo wires a servo to the gateway listening on id over bus.
func NewServo(bus Bus, id uint16, opts ...ServoOption) (*Servo, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus cannot be nil")
	}
	s := &Servo{
		bus: bus,
		log: zap.NewNop(),
		id:  id,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply servo option: %w", err)
		}
	}
	return s, nil
}

// Send commands the servo to position, where 0 and 255 map to the ends of
// the gateway's configured travel.
func (s *Servo) Send(ctx context.Context, position uint8) error {
	s.log.Debug("commanding servo",
		zap.Uint16("servo", s.id),
		zap.Uint8("position", position))

	payload := make([]byte, 8)
	payload[0] = position
	frame := Frame{ID: uint32(s.id), Data: payload, Extended: true}
	if err := s.bus.Send(ctx, frame); err != nil {
		return fmt.Errorf("command servo %d: %w", s.id, err)
	}
	return nil
}
