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
Package armlink provides a pure Go library for driving the stepper motors of a
robotic arm over its two hardware links: a Firmata serial link to an Arduino
stepper controller, and a CAN bus populated by MKS SERVO57D/42D/35D/28D stepper
driver modules.

The hard part of both links is the wire encoding, and that is what this module
is organised around:

  - wire packs and unpacks fixed-width integers (8 to 48 bits, either byte
    order, signed or unsigned) exactly as the firmware expects them.
  - firmata implements the Firmata sysex convention, including the 7-bit
    payload framing a MIDI-derived link imposes, and a client for the stepper
    command set the controller firmware exposes.
  - mks builds and parses the checksummed command frames of the MKS stepper
    driver modules, including their packed speed+direction bitfield, and
    provides a controller that speaks them over a CAN bus.

Transports live in their own packages so the codecs stay free of hardware
concerns: transport/uart opens the Firmata serial link, transport/canbus
connects to a SocketCAN interface.

Basic usage, CAN side:

	import (
	    "github.com/umrt-robotics/go-armlink/mks"
	    "github.com/umrt-robotics/go-armlink/transport/canbus"
	)

	bus, err := canbus.DialContext(ctx, "can0")
	if err != nil {
	    log.Fatal(err)
	}
	defer bus.Close()

	ctrl, err := mks.NewController(bus, mks.Config{
	    MotorIDs:   []uint16{1, 2},
	    NormFactor: 16,
	})
	if err != nil {
	    log.Fatal(err)
	}
	ctrl.OnPosition = func(motor uint16, steps int32) {
	    fmt.Printf("motor %d at %d steps\n", motor, steps)
	}

	go ctrl.Run(ctx)
	_ = ctrl.SetSpeed(ctx, 1, 2, 0)
	_ = ctrl.GetPosition(ctx, 1)

Basic usage, Firmata side:

	import (
	    "github.com/umrt-robotics/go-armlink/firmata"
	    "github.com/umrt-robotics/go-armlink/transport/uart"
	)

	link, err := uart.Open("/dev/ttyACM0")
	if err != nil {
	    log.Fatal(err)
	}
	defer link.Close()
	if err := link.Connect(ctx); err != nil {
	    log.Fatal(err)
	}

	client, err := firmata.NewClient(link)
	if err != nil {
	    log.Fatal(err)
	}
	client.OnGetPosition = func(motor uint8, position int32) {
	    fmt.Printf("motor %d at %d steps\n", motor, position)
	}
	go client.Run(ctx)
	_ = client.SetSpeed(1, 20)

Error Handling:

Failures are reported synchronously and are always recoverable; nothing here
panics on bad wire data. Sentinel errors can be inspected with errors.Is:

	if errors.Is(err, armlink.ErrChecksumMismatch) {
	    // frame corrupted in transit, discard and optionally re-request
	}

Thread Safety:

All codec functions are pure and safe for concurrent use. Clients and
controllers are not thread-safe; drive each from a single goroutine or add
external synchronization.
*/
package armlink
