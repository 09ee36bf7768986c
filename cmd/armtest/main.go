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

// armtest exercises the arm's motor controllers with a fixed test routine.
//
// The default mode drives the MKS stepper drivers over SocketCAN; -firmata
// drives the serial Firmata controller instead, and -servo sweeps the
// gripper servo gateway. Defaults come from a YAML config file overridden
// by flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	if run() != 0 {
		os.Exit(1)
	}
}

func run() int {
	// Parse command line flags
	firmataMode := flag.Bool("firmata", false, "Exercise the serial Firmata controller instead of the CAN drivers")
	servoMode := flag.Bool("servo", false, "Sweep the gripper servo over the CAN bus and exit")
	configPath := flag.String("config", "", "Path to a YAML config file")
	portFlag := flag.String("port", "", "Serial port for firmata mode (overrides the config file)")
	interfaceFlag := flag.String("interface", "", "SocketCAN network interface (overrides the config file)")
	motorsFlag := flag.String("motors", "", "Comma-separated ids of the motors to test (overrides the config file)")
	servoIDFlag := flag.Uint("servo-id", 0, "CAN id of the servo gateway (overrides the config file)")
	connectTimeoutFlag := flag.Duration("connect-timeout", 10*time.Second, "Controller connection timeout")
	verboseFlag := flag.Bool("verbose", false, "Enable debug output")

	flag.Parse()

	logger, err := newLogger(*verboseFlag)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// Load configuration and apply flag overrides
	config := DefaultConfig()
	if *configPath != "" {
		config, err = LoadConfig(*configPath)
		if err != nil {
			logger.Error("bad config file", zap.Error(err))
			return 1
		}
	}
	if *portFlag != "" {
		config.SerialPort = *portFlag
	}
	if *interfaceFlag != "" {
		config.CANInterface = *interfaceFlag
	}
	if *motorsFlag != "" {
		config.MotorIDs, err = parseMotorIDs(*motorsFlag)
		if err != nil {
			logger.Error("bad -motors flag", zap.Error(err))
			return 1
		}
	}
	if *servoIDFlag != 0 {
		if *servoIDFlag > math.MaxUint16 {
			logger.Error("bad -servo-id flag", zap.Uint("id", *servoIDFlag))
			return 1
		}
		config.ServoID = uint16(*servoIDFlag)
	}
	config.ConnectTimeout = *connectTimeoutFlag

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	// Run the appropriate mode
	switch {
	case *firmataMode:
		err = runFirmata(ctx, config, logger)
	case *servoMode:
		err = runServo(ctx, config, logger)
	default:
		err = runMKS(ctx, config, logger)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("test run failed", zap.Error(err))
		return 1
	}
	return 0
}

// newLogger builds a console logger, at debug level when verbose is set.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// parseMotorIDs splits a comma-separated id list; 0x-prefixed hex is
// accepted since CAN ids are usually written that way.
func parseMotorIDs(list string) ([]uint16, error) {
	var ids []uint16
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseUint(field, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid motor id %q: %w", field, err)
		}
		ids = append(ids, uint16(id))
	}
	if len(ids) == 0 {
		return nil, errors.New("no motor ids given")
	}
	return ids, nil
}

// sleep waits for d unless ctx ends first, so a ctrl-c interrupts the
// routine's pauses too.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
