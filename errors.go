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

package armlink

import (
	"errors"
	"fmt"
)

// Codec errors. All of these are local, recoverable conditions reported
// synchronously to the caller; none is fatal to the process.
var (
	// ErrOutOfRange indicates a value that does not fit the declared field
	// width or signedness.
	ErrOutOfRange = errors.New("value out of range for field")

	// ErrShortBuffer indicates a decode that would read past the end of its
	// input.
	ErrShortBuffer = errors.New("buffer too short")

	// ErrMalformedFrame indicates a frame with the wrong length or structure.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrChecksumMismatch indicates a frame whose checksum does not match its
	// contents, which usually means corruption in transit. The correct caller
	// behaviour is to discard the frame and optionally request retransmission.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Transport errors.
var (
	// ErrTransportClosed indicates an operation on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTransportRead indicates a failed read from the underlying link.
	ErrTransportRead = errors.New("transport read failed")

	// ErrTransportWrite indicates a failed write to the underlying link.
	ErrTransportWrite = errors.New("transport write failed")

	// ErrTimeout indicates an operation that did not complete in time.
	ErrTimeout = errors.New("operation timeout")

	// ErrNoHandshake indicates the controller never reported its protocol
	// version after the link was opened.
	ErrNoHandshake = errors.New("no version report from controller")
)

// ErrorType classifies an error for retry decisions. Retry policy belongs to
// the transport layer or its caller; the codecs only report.
type ErrorType int

const (
	// ErrorTypePermanent marks failures that will fail the same way again,
	// such as a value that cannot fit its field.
	ErrorTypePermanent ErrorType = iota

	// ErrorTypeTransient marks failures worth retrying, such as timeouts or
	// frames corrupted in transit.
	ErrorTypeTransient
)

// TransportError records a failed transport operation with enough context to
// decide whether a retry is worthwhile.
type TransportError struct {
	Err  error
	Op   string
	Port string
	Type ErrorType
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a TransportError for the given operation and port.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{Op: op, Port: port, Err: err, Type: errType}
}

// NewTimeoutError creates a transient TransportError wrapping ErrTimeout.
func NewTimeoutError(op, port string) *TransportError {
	return &TransportError{Op: op, Port: port, Err: ErrTimeout, Type: ErrorTypeTransient}
}

// IsRetryable reports whether err is worth retrying at the transport layer.
// Corrupted inbound frames and timeouts are transient; range violations mean
// the request was built wrong and will fail identically on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeTransient
	}
	switch {
	case errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	}
	return false
}

// GetErrorType returns the retry classification for err.
func GetErrorType(err error) ErrorType {
	if IsRetryable(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
