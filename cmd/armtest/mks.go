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

package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/umrt-robotics/go-armlink/mks"
	"github.com/umrt-robotics/go-armlink/transport/canbus"
)

// routineAccel is the acceleration for every move in the routine; 0 tells
// the driver to jump straight to the target speed.
const routineAccel uint8 = 0

// runMKS exercises each configured stepper driver over SocketCAN with the
// standard routine: a slow run in each direction, two jogs, then a seek back
// to zero. Drivers answer asynchronously, so after the routine it keeps
// watching the bus until interrupted.
func runMKS(ctx context.Context, config *Config, logger *zap.Logger) error {
	bus, err := dialCAN(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	controller, err := mks.NewController(bus, mks.Config{
		MotorIDs:   config.MotorIDs,
		NormFactor: config.NormFactor,
	}, mks.WithLogger(logger.Named("mks")))
	if err != nil {
		return err
	}

	// Route responses to the console.
	controller.OnSetSpeed = func(motor uint16, ok bool) {
		logger.Info("speed set", zap.Uint16("motor", motor), zap.Bool("ok", ok))
	}
	controller.OnSendStep = func(motor uint16, status mks.MoveStatus) {
		logger.Info("step", zap.Uint16("motor", motor), zap.Stringer("status", status))
	}
	controller.OnSeekPosition = func(motor uint16, status mks.MoveStatus) {
		logger.Info("seek", zap.Uint16("motor", motor), zap.Stringer("status", status))
	}
	controller.OnPosition = func(motor uint16, steps int32) {
		logger.Info("position reported", zap.Uint16("motor", motor), zap.Int32("steps", steps))
	}

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- controller.Run(ctx) }()

	if err := mksRoutine(ctx, config, controller, logger); err != nil {
		return err
	}

	logger.Info("routine complete, watching the bus (ctrl-c to exit)")
	return <-pumpErr
}

func mksRoutine(ctx context.Context, config *Config, controller *mks.Controller, logger *zap.Logger) error {
	// Give the drivers a moment to settle before the first frame.
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	for _, motor := range config.MotorIDs {
		logger.Info("exercising motor", zap.Uint16("motor", motor))

		// Run forward, then at half speed in reverse, then stop.
		if err := controller.GetPosition(ctx, motor); err != nil {
			return err
		}
		if err := controller.SetSpeed(ctx, motor, config.RunSpeed, routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, 5*time.Second); err != nil {
			return err
		}
		if err := controller.SetSpeed(ctx, motor, -(config.RunSpeed / 2), routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, 5*time.Second); err != nil {
			return err
		}
		if err := controller.SetSpeed(ctx, motor, 0, routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}

		// Jog forward 20 steps, then back 10 at half speed.
		if err := controller.GetPosition(ctx, motor); err != nil {
			return err
		}
		if err := controller.SendStep(ctx, motor, 20, config.JogSpeed, routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
		if err := controller.GetPosition(ctx, motor); err != nil {
			return err
		}
		if err := controller.SendStep(ctx, motor, 10, -(config.JogSpeed / 2), routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
		if err := controller.GetPosition(ctx, motor); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}

		// Seek back to zero from wherever the jogs ended up.
		if err := controller.SeekPosition(ctx, motor, 0, config.SeekSpeed, routineAccel); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
		if err := controller.GetPosition(ctx, motor); err != nil {
			return err
		}
		if err := sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return nil
}

// runServo sweeps the gripper servo to each end of its travel and back to
// the middle, then exits.
func runServo(ctx context.Context, config *Config, logger *zap.Logger) error {
	if config.ServoID == 0 {
		return errors.New("servo mode needs a servo id (-servo-id or the config file)")
	}

	bus, err := dialCAN(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	servo, err := mks.NewServo(bus, config.ServoID, mks.WithServoLogger(logger.Named("servo")))
	if err != nil {
		return err
	}

	logger.Info("sweeping servo", zap.Uint16("servo", config.ServoID))
	for _, position := range []uint8{0, 255, 127} {
		if err := servo.Send(ctx, position); err != nil {
			return err
		}
		// The pause also lets the last frame drain before the bus closes.
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func dialCAN(ctx context.Context, config *Config, logger *zap.Logger) (*canbus.Bus, error) {
	logger.Info("opening CAN interface", zap.String("interface", config.CANInterface))
	dialCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	return canbus.DialContext(dialCtx, config.CANInterface,
		canbus.WithLogger(logger.Named("can")))
}
