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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/umrt-robotics/go-armlink/mks"
	"github.com/umrt-robotics/go-armlink/transport/uart"
)

// Config holds application configuration. Every YAML key has a matching
// flag; flags win when both are given.
type Config struct {
	// SerialPort is the Firmata controller's serial device.
	SerialPort string `yaml:"serial-port"`
	// BaudRate is the serial line rate for firmata mode.
	BaudRate int `yaml:"baud-rate"`
	// CANInterface is the SocketCAN network interface for mks and servo
	// modes.
	CANInterface string `yaml:"can-interface"`
	// MotorIDs lists the motors to exercise: CAN ids in mks mode, the
	// controller's motor indexes in firmata mode.
	MotorIDs []uint16 `yaml:"motor-ids"`
	// NormFactor is the speed normalisation factor shared by every driver
	// on the bus.
	NormFactor uint8 `yaml:"norm-factor"`
	// ServoID is the CAN id of the gripper servo gateway. Zero means not
	// configured; servo mode refuses to run without one.
	ServoID uint16 `yaml:"servo-id"`

	// Speeds for the exercise routine, in RPM. The reverse legs run at
	// half these values.
	RunSpeed  int16 `yaml:"run-speed"`
	JogSpeed  int16 `yaml:"jog-speed"`
	SeekSpeed int16 `yaml:"seek-speed"`

	// ConnectTimeout comes from the command line only.
	ConnectTimeout time.Duration `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SerialPort:     "/dev/umrt-arm",
		BaudRate:       uart.DefaultBaudRate,
		CANInterface:   "can0",
		MotorIDs:       []uint16{1},
		NormFactor:     mks.DefaultNormFactor,
		ServoID:        0,
		RunSpeed:       2,
		JogSpeed:       10,
		SeekSpeed:      10,
		ConnectTimeout: 10 * time.Second,
	}
}

// LoadConfig reads a YAML file and overlays it on the defaults, so a config
// file only needs the keys it wants to change.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return config, nil
}
