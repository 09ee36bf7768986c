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
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/umrt-robotics/go-armlink/firmata"
	"github.com/umrt-robotics/go-armlink/transport/uart"
	"github.com/umrt-robotics/go-armlink/wire"
)

// runFirmata exercises the serial stepper controller: echo tests first, then
// the motor routine on each configured motor, then a gripper sweep. Responses
// arrive asynchronously, so after the routine it keeps pumping until
// interrupted, like the original update-forever test scripts.
func runFirmata(ctx context.Context, config *Config, logger *zap.Logger) error {
	for _, motor := range config.MotorIDs {
		if motor > math.MaxUint8 {
			return fmt.Errorf("motor id %d does not fit the serial protocol", motor)
		}
	}

	logger.Info("opening serial port",
		zap.String("port", config.SerialPort),
		zap.Int("baud", config.BaudRate))
	link, err := uart.Open(config.SerialPort,
		uart.WithBaudRate(config.BaudRate),
		uart.WithLogger(logger.Named("uart")))
	if err != nil {
		return err
	}
	defer func() { _ = link.Close() }()

	connectCtx, cancelConnect := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancelConnect()
	if err := link.Connect(connectCtx); err != nil {
		return err
	}
	major, minor, _ := link.Version()
	logger.Info("controller connected",
		zap.Uint8("major", major),
		zap.Uint8("minor", minor))

	client, err := firmata.NewClient(link, firmata.WithLogger(logger.Named("firmata")))
	if err != nil {
		return err
	}

	// Route responses to the console. Echo payloads are either text or a
	// packed 32-bit value depending on which test sent them.
	client.OnEcho = func(payload []byte) {
		if len(payload) == 4 {
			if value, err := wire.Uint32(payload, wire.LittleEndian); err == nil {
				logger.Info("echo returned", zap.Uint32("value", value))
				return
			}
		}
		logger.Info("echo returned", zap.String("text", string(payload)))
	}
	client.OnSetSpeed = func(motor uint8, speed int16) {
		logger.Info("speed set", zap.Uint8("motor", motor), zap.Int16("speed", speed))
	}
	client.OnGetSpeed = func(motor uint8, speed int16) {
		logger.Info("speed reported", zap.Uint8("motor", motor), zap.Int16("speed", speed))
	}
	client.OnSendStep = func(motor uint8, steps uint16, speed int16) {
		logger.Info("step started",
			zap.Uint8("motor", motor), zap.Uint16("steps", steps), zap.Int16("speed", speed))
	}
	client.OnSeekPosition = func(motor uint8, position int32, speed int16) {
		logger.Info("seek started",
			zap.Uint8("motor", motor), zap.Int32("position", position), zap.Int16("speed", speed))
	}
	client.OnGetPosition = func(motor uint8, position int32) {
		logger.Info("position reported", zap.Uint8("motor", motor), zap.Int32("position", position))
	}
	client.OnSetGripper = func(position uint8) {
		logger.Info("gripper moved", zap.Uint8("position", position))
	}

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- client.Run(ctx) }()

	if err := firmataRoutine(ctx, config, client, logger); err != nil {
		return err
	}

	logger.Info("routine complete, watching for responses (ctrl-c to exit)")
	return <-pumpErr
}

func firmataRoutine(ctx context.Context, config *Config, client *firmata.Client, logger *zap.Logger) error {
	// Give the controller a moment after its reset before talking to it.
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	logger.Info("echo test")
	if err := client.SendEcho([]byte("hello world")); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}
	for _, value := range []uint32{0xDEADBEEF, 1000, 32767} {
		if err := client.SendEcho(wire.AppendUint32(nil, value, wire.LittleEndian)); err != nil {
			return err
		}
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	for _, motor := range config.MotorIDs {
		if err := firmataMotorRoutine(ctx, config, client, uint8(motor), logger); err != nil {
			return err
		}
	}

	logger.Info("gripper test")
	for _, position := range []uint8{0, firmata.GripperMax, firmata.GripperMax / 2} {
		if err := client.SetGripper(position); err != nil {
			return err
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// firmataMotorRoutine runs one motor through the standard exercise: a slow
// run in each direction, two jogs, then a seek back to zero, querying the
// position between moves.
func firmataMotorRoutine(ctx context.Context, config *Config, client *firmata.Client, motor uint8, logger *zap.Logger) error {
	logger.Info("exercising motor", zap.Uint8("motor", motor))

	// Run forward, then at half speed in reverse, then stop.
	if err := client.GetPosition(motor); err != nil {
		return err
	}
	if err := client.SetSpeed(motor, config.RunSpeed); err != nil {
		return err
	}
	if err := client.GetSpeed(motor); err != nil {
		return err
	}
	if err := sleep(ctx, 5*time.Second); err != nil {
		return err
	}
	if err := client.SetSpeed(motor, -(config.RunSpeed / 2)); err != nil {
		return err
	}
	if err := client.GetSpeed(motor); err != nil {
		return err
	}
	if err := sleep(ctx, 5*time.Second); err != nil {
		return err
	}
	if err := client.SetSpeed(motor, 0); err != nil {
		return err
	}
	if err := client.GetSpeed(motor); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	// Jog forward 20 steps, then back 10 at half speed.
	if err := client.GetPosition(motor); err != nil {
		return err
	}
	if err := client.SendStep(motor, 20, config.JogSpeed); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := client.GetPosition(motor); err != nil {
		return err
	}
	if err := client.SendStep(motor, 10, -(config.JogSpeed / 2)); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := client.GetPosition(motor); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	// Seek back to zero from wherever the jogs ended up.
	if err := client.SeekPosition(motor, 0, config.SeekSpeed); err != nil {
		return err
	}
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}
	if err := client.GetPosition(motor); err != nil {
		return err
	}
	return sleep(ctx, time.Second)
}
