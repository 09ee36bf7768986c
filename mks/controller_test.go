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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	armlink "github.com/umrt-robotics/go-armlink"
)

// mockBus records outbound frames and serves queued inbound ones.
type mockBus struct {
	inbox  chan Frame
	sent   []Frame
	mu     sync.Mutex
	closed bool
}

func newMockBus() *mockBus {
	return &mockBus{inbox: make(chan Frame, 16)}
}

func (m *mockBus) Send(_ context.Context, frame Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return armlink.ErrTransportClosed
	}
	frame.Data = append([]byte(nil), frame.Data...)
	m.sent = append(m.sent, frame)
	return nil
}

func (m *mockBus) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame := <-m.inbox:
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (m *mockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockBus) push(id uint32, data []byte) {
	m.inbox <- Frame{ID: id, Data: data}
}

func (m *mockBus) sentFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.sent...)
}

func testController(t *testing.T, bus Bus, cfg Config) *Controller {
	t.Helper()
	ctrl, err := NewController(bus, cfg)
	require.NoError(t, err)
	return ctrl
}

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewController(nil, Config{MotorIDs: []uint16{1}})
	require.Error(t, err)

	_, err = NewController(newMockBus(), Config{})
	require.Error(t, err)

	_, err = NewController(newMockBus(), Config{MotorIDs: []uint16{0}})
	require.ErrorIs(t, err, armlink.ErrOutOfRange)

	_, err = NewController(newMockBus(), Config{MotorIDs: []uint16{0x800}})
	require.ErrorIs(t, err, armlink.ErrOutOfRange)

	_, err = NewController(newMockBus(), Config{MotorIDs: []uint16{1, 2, 0x7FF}})
	require.NoError(t, err)
}

func TestControllerCommandEncoding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		send   func(c *Controller) error
		name   string
		want   []byte
		wantID uint32
	}{
		{
			name:   "set speed counter-clockwise",
			send:   func(c *Controller) error { return c.SetSpeed(context.Background(), 1, 320, 2) },
			wantID: 1,
			want:   []byte{0xF6, 0x01, 0x40, 0x02, 0x3A},
		},
		{
			name:   "set speed clockwise",
			send:   func(c *Controller) error { return c.SetSpeed(context.Background(), 1, -320, 2) },
			wantID: 1,
			want:   []byte{0xF6, 0x81, 0x40, 0x02, 0xBA},
		},
		{
			name:   "send step counter-clockwise",
			send:   func(c *Controller) error { return c.SendStep(context.Background(), 1, 64000, 320, 2) },
			wantID: 1,
			want:   []byte{0xFD, 0x01, 0x40, 0x02, 0x00, 0xFA, 0x00, 0x3B},
		},
		{
			name:   "send step clockwise",
			send:   func(c *Controller) error { return c.SendStep(context.Background(), 1, 64000, -320, 2) },
			wantID: 1,
			want:   []byte{0xFD, 0x81, 0x40, 0x02, 0x00, 0xFA, 0x00, 0xBB},
		},
		{
			name:   "seek position",
			send:   func(c *Controller) error { return c.SeekPosition(context.Background(), 1, 0x4000, 600, 2) },
			wantID: 1,
			want:   []byte{0xFE, 0x02, 0x58, 0x02, 0x00, 0x40, 0x00, 0x9B},
		},
		{
			name: "seek negative position ignores speed sign",
			send: func(c *Controller) error {
				return c.SeekPosition(context.Background(), 1, -0x4000, -600, 2)
			},
			wantID: 1,
			want:   []byte{0xFE, 0x02, 0x58, 0x02, 0xFF, 0xC0, 0x00, 0x1A},
		},
		{
			name:   "send angle",
			send:   func(c *Controller) error { return c.SendAngle(context.Background(), 1, 0x2000, 600, 2) },
			wantID: 1,
			want:   []byte{0xF4, 0x02, 0x58, 0x02, 0x00, 0x20, 0x00, 0x71},
		},
		{
			name:   "seek angle",
			send:   func(c *Controller) error { return c.SeekAngle(context.Background(), 1, -0x1000, 600, 2) },
			wantID: 1,
			want:   []byte{0xF5, 0x02, 0x58, 0x02, 0xFF, 0xF0, 0x00, 0x41},
		},
		{
			name:   "enable",
			send:   func(c *Controller) error { return c.SetEnable(context.Background(), 1, true) },
			wantID: 1,
			want:   []byte{0xF3, 0x01, 0xF5},
		},
		{
			name:   "disable",
			send:   func(c *Controller) error { return c.SetEnable(context.Background(), 2, false) },
			wantID: 2,
			want:   []byte{0xF3, 0x00, 0xF5},
		},
		{
			name:   "get position",
			send:   func(c *Controller) error { return c.GetPosition(context.Background(), 2) },
			wantID: 2,
			want:   []byte{0x33, 0x35},
		},
		{
			name:   "get speed",
			send:   func(c *Controller) error { return c.GetSpeed(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x32, 0x33},
		},
		{
			name:   "get encoder",
			send:   func(c *Controller) error { return c.GetEncoder(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x31, 0x32},
		},
		{
			name:   "get encoder split",
			send:   func(c *Controller) error { return c.GetEncoderSplit(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x30, 0x31},
		},
		{
			name:   "get io status",
			send:   func(c *Controller) error { return c.GetIOStatus(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x34, 0x35},
		},
		{
			name:   "query status",
			send:   func(c *Controller) error { return c.QueryStatus(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0xF1, 0xF2},
		},
		{
			name:   "emergency stop",
			send:   func(c *Controller) error { return c.EmergencyStop(context.Background(), 2) },
			wantID: 2,
			want:   []byte{0xF7, 0xF9},
		},
		{
			name:   "go home",
			send:   func(c *Controller) error { return c.GoHome(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x91, 0x92},
		},
		{
			name:   "set zero",
			send:   func(c *Controller) error { return c.SetZero(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x92, 0x93},
		},
		{
			name:   "release shaft lock",
			send:   func(c *Controller) error { return c.ReleaseShaftLock(context.Background(), 1) },
			wantID: 1,
			want:   []byte{0x3D, 0x3E},
		},
	}
	for _, tt := range tests {
		tt := tt // capture loop variable
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := newMockBus()
			ctrl := testController(t, bus, Config{MotorIDs: []uint16{1, 2}})

			require.NoError(t, tt.send(ctrl))

			frames := bus.sentFrames()
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantID, frames[0].ID)
			assert.False(t, frames[0].Extended)
			assert.Equal(t, tt.want, frames[0].Data)
		})
	}
}

func TestControllerNormalisation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		want []byte
		rpm  int16
		norm uint8
	}{
		{
			// 100 RPM at 32-microstepping doubles on the wire.
			name: "factor 32 scales up",
			norm: 32,
			rpm:  100,
			want: []byte{0xF6, 0x00, 0xC8, 0x00, 0xBF},
		},
		{
			// 100 RPM at 8-microstepping halves on the wire.
			name: "factor 8 scales down",
			norm: 8,
			rpm:  100,
			want: []byte{0xF6, 0x00, 0x32, 0x00, 0x29},
		},
		{
			// 3 * 8 / 16 truncates from 1.5 to 1.
			name: "scaling truncates",
			norm: 8,
			rpm:  3,
			want: []byte{0xF6, 0x00, 0x01, 0x00, 0xF8},
		},
		{
			name: "scaling keeps the direction",
			norm: 8,
			rpm:  -100,
			want: []byte{0xF6, 0x80, 0x32, 0x00, 0xA9},
		},
	}
	for _, tt := range tests {
		tt := tt // capture loop variable
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := newMockBus()
			ctrl := testController(t, bus, Config{MotorIDs: []uint16{1}, NormFactor: tt.norm})

			require.NoError(t, ctrl.SetSpeed(context.Background(), 1, tt.rpm, 0))

			frames := bus.sentFrames()
			require.Len(t, frames, 1)
			assert.Equal(t, tt.want, frames[0].Data)
		})
	}
}

func TestControllerSpeedOverflow(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	ctrl := testController(t, bus, Config{MotorIDs: []uint16{1}})

	err := ctrl.SetSpeed(context.Background(), 1, 4096, 0)
	require.ErrorIs(t, err, armlink.ErrOutOfRange)

	scaled := testController(t, newMockBus(), Config{MotorIDs: []uint16{1}, NormFactor: 255})
	err = scaled.SendStep(context.Background(), 1, 100, 32767, 0)
	require.ErrorIs(t, err, armlink.ErrOutOfRange)

	assert.Empty(t, bus.sentFrames())
}

func TestControllerCommandsAnyMotor(t *testing.T) {
	t.Parallel()
	// The configured set filters replies, not requests: a frame still goes
	// out to an id the controller does not listen for.
	bus := newMockBus()
	ctrl := testController(t, bus, Config{MotorIDs: []uint16{1}})

	require.NoError(t, ctrl.GetPosition(context.Background(), 5))
	frames := bus.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(5), frames[0].ID)
}

func TestControllerDispatchesResponses(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	ctrl := testController(t, bus, Config{MotorIDs: []uint16{1, 2}})

	type ackEvent struct {
		motor uint16
		ok    bool
	}
	type moveEvent struct {
		motor  uint16
		status MoveStatus
	}
	type positionEvent struct {
		steps int32
		motor uint16
	}
	type speedEvent struct {
		motor uint16
		rpm   int16
	}
	type splitEvent struct {
		turns int32
		motor uint16
		angle uint16
	}

	acks := make(chan ackEvent, 4)
	steps := make(chan moveEvent, 4)
	seeks := make(chan moveEvent, 4)
	angles := make(chan moveEvent, 4)
	seekAngles := make(chan moveEvent, 4)
	positions := make(chan positionEvent, 4)
	speeds := make(chan speedEvent, 4)
	encoders := make(chan int64, 4)
	splits := make(chan splitEvent, 4)
	ios := make(chan IOStatus, 4)
	motorStatuses := make(chan MotorStatus, 4)
	homings := make(chan GoHomeStatus, 4)

	ctrl.OnSetSpeed = func(motor uint16, ok bool) { acks <- ackEvent{motor, ok} }
	ctrl.OnSendStep = func(motor uint16, status MoveStatus) { steps <- moveEvent{motor, status} }
	ctrl.OnSeekPosition = func(motor uint16, status MoveStatus) { seeks <- moveEvent{motor, status} }
	ctrl.OnSendAngle = func(motor uint16, status MoveStatus) { angles <- moveEvent{motor, status} }
	ctrl.OnSeekAngle = func(motor uint16, status MoveStatus) { seekAngles <- moveEvent{motor, status} }
	ctrl.OnPosition = func(motor uint16, s int32) { positions <- positionEvent{s, motor} }
	ctrl.OnSpeed = func(motor uint16, rpm int16) { speeds <- speedEvent{motor, rpm} }
	ctrl.OnEncoder = func(_ uint16, value int64) { encoders <- value }
	ctrl.OnEncoderSplit = func(motor uint16, turns int32, angle uint16) {
		splits <- splitEvent{turns, motor, angle}
	}
	ctrl.OnIOStatus = func(_ uint16, status IOStatus) { ios <- status }
	ctrl.OnMotorStatus = func(_ uint16, status MotorStatus) { motorStatuses <- status }
	ctrl.OnGoHome = func(_ uint16, status GoHomeStatus) { homings <- status }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	bus.push(1, []byte{0xF6, 0x01, 0xF8})
	bus.push(1, []byte{0xFD, 0x01, 0xFF})
	bus.push(1, []byte{0xFD, 0x02, 0x00})
	bus.push(1, []byte{0xFE, 0x02, 0x01})
	bus.push(1, []byte{0xF4, 0x01, 0xF6})
	bus.push(1, []byte{0xF5, 0x03, 0xF9})
	bus.push(1, []byte{0x33, 0xFF, 0xFF, 0xB5, 0xC8, 0xAF})
	bus.push(2, []byte{0x32, 0xFF, 0xF6, 0x29})
	bus.push(1, []byte{0x31, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x72})
	bus.push(1, []byte{0x30, 0x00, 0x00, 0x00, 0x02, 0x12, 0x34, 0x79})
	bus.push(1, []byte{0x34, 0x0A, 0x3F})
	bus.push(1, []byte{0xF1, 0x04, 0xF6})
	bus.push(1, []byte{0x91, 0x01, 0x93})
	bus.push(1, []byte{0x91, 0x02, 0x94})

	select {
	case got := <-acks:
		assert.Equal(t, ackEvent{motor: 1, ok: true}, got)
	case <-time.After(time.Second):
		t.Fatal("set speed callback never fired")
	}
	for _, want := range []moveEvent{{motor: 1, status: MoveMoving}, {motor: 1, status: MoveCompleted}} {
		select {
		case got := <-steps:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("send step callback never fired")
		}
	}
	select {
	case got := <-seeks:
		assert.Equal(t, moveEvent{motor: 1, status: MoveCompleted}, got)
	case <-time.After(time.Second):
		t.Fatal("seek position callback never fired")
	}
	select {
	case got := <-angles:
		assert.Equal(t, moveEvent{motor: 1, status: MoveMoving}, got)
	case <-time.After(time.Second):
		t.Fatal("send angle callback never fired")
	}
	select {
	case got := <-seekAngles:
		assert.Equal(t, moveEvent{motor: 1, status: MoveLimitReached}, got)
	case <-time.After(time.Second):
		t.Fatal("seek angle callback never fired")
	}
	select {
	case got := <-positions:
		assert.Equal(t, positionEvent{motor: 1, steps: -19000}, got)
	case <-time.After(time.Second):
		t.Fatal("position callback never fired")
	}
	select {
	case got := <-speeds:
		assert.Equal(t, speedEvent{motor: 2, rpm: -10}, got)
	case <-time.After(time.Second):
		t.Fatal("speed callback never fired")
	}
	select {
	case got := <-encoders:
		assert.Equal(t, int64(0x4000), got)
	case <-time.After(time.Second):
		t.Fatal("encoder callback never fired")
	}
	select {
	case got := <-splits:
		assert.Equal(t, splitEvent{motor: 1, turns: 2, angle: 0x1234}, got)
	case <-time.After(time.Second):
		t.Fatal("encoder split callback never fired")
	}
	select {
	case got := <-ios:
		assert.True(t, got.In1())
		assert.False(t, got.In2())
		assert.False(t, got.Out1())
		assert.True(t, got.Out2())
	case <-time.After(time.Second):
		t.Fatal("io status callback never fired")
	}
	select {
	case got := <-motorStatuses:
		assert.Equal(t, StatusFullSpeed, got)
	case <-time.After(time.Second):
		t.Fatal("motor status callback never fired")
	}
	for _, want := range []GoHomeStatus{GoHomeStarted, GoHomeCompleted} {
		select {
		case got := <-homings:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("homing callback never fired")
		}
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after cancel")
	}
}

func TestControllerFiltersAndSurvivesBadFrames(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	ctrl := testController(t, bus, Config{MotorIDs: []uint16{1}})

	acks := make(chan uint16, 8)
	ctrl.OnSetSpeed = func(motor uint16, _ bool) { acks <- motor }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	// A reply from an unconfigured id, the same payload on an extended id,
	// a corrupt checksum, a truncated payload, and an impossible move
	// status, then a good frame.
	bus.push(5, []byte{0xF6, 0x01, 0xFC})
	bus.inbox <- Frame{ID: 1, Data: []byte{0xF6, 0x01, 0xF8}, Extended: true}
	bus.push(1, []byte{0xF6, 0x01, 0x00})
	bus.push(1, []byte{0xF6})
	bus.push(1, []byte{0xFD, 0x07, 0x05})
	bus.push(1, []byte{0xF6, 0x01, 0xF8})

	select {
	case motor := <-acks:
		assert.Equal(t, uint16(1), motor)
	case <-time.After(time.Second):
		t.Fatal("pump stalled before the good frame")
	}
	// Nothing before the good frame may have produced an event.
	assert.Empty(t, acks)
}

func TestControllerPollHonoursDeadline(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	ctrl := testController(t, bus, Config{MotorIDs: []uint16{1}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ctrl.Poll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServoSend(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	servo, err := NewServo(bus, 0x123)
	require.NoError(t, err)

	require.NoError(t, servo.Send(context.Background(), 127))

	frames := bus.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0x123), frames[0].ID)
	assert.True(t, frames[0].Extended)
	assert.Equal(t, []byte{0x7F, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, frames[0].Data)
}

func TestServoSendOnClosedBus(t *testing.T) {
	t.Parallel()
	bus := newMockBus()
	servo, err := NewServo(bus, 9)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	err = servo.Send(context.Background(), 0)
	require.ErrorIs(t, err, armlink.ErrTransportClosed)
}

func TestNewServoRequiresBus(t *testing.T) {
	t.Parallel()
	_, err := NewServo(nil, 1)
	require.Error(t, err)
}
