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

package firmata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	armlink "github.com/umrt-robotics/go-armlink"
)

type sentFrame struct {
	payload []byte
	cmd     Command
}

// mockLink records outbound frames and serves queued inbound messages.
type mockLink struct {
	inbox  chan Message
	sent   []sentFrame
	mu     sync.Mutex
	closed bool
}

func newMockLink() *mockLink {
	return &mockLink{inbox: make(chan Message, 16)}
}

func (m *mockLink) SendSysex(cmd Command, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return armlink.ErrTransportClosed
	}
	m.sent = append(m.sent, sentFrame{cmd: cmd, payload: append([]byte(nil), payload...)})
	return nil
}

func (m *mockLink) ReadMessage(ctx context.Context) (Message, error) {
	select {
	case msg := <-m.inbox:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (m *mockLink) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockLink) push(cmd Command, payload []byte) {
	m.inbox <- Message{Command: cmd, Payload: payload}
}

func (m *mockLink) sentFrames() []sentFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentFrame(nil), m.sent...)
}

func TestNewClientRequiresLink(t *testing.T) {
	t.Parallel()
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestClientCommandEncoding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		send    func(c *Client) error
		wantCmd Command
		want    []byte
	}{
		{
			name:    "set speed forward",
			send:    func(c *Client) error { return c.SetSpeed(2, 20) },
			wantCmd: CmdSetSpeed,
			want:    []byte{0x02, 0x00, 0x14, 0x00, 0x00, 0x00},
		},
		{
			name:    "set speed reverse",
			send:    func(c *Client) error { return c.SetSpeed(2, -10) },
			wantCmd: CmdSetSpeed,
			want:    []byte{0x02, 0x00, 0x76, 0x01, 0x7F, 0x01},
		},
		{
			name:    "get speed",
			send:    func(c *Client) error { return c.GetSpeed(2) },
			wantCmd: CmdGetSpeed,
			want:    []byte{0x02, 0x00},
		},
		{
			name:    "send step forward",
			send:    func(c *Client) error { return c.SendStep(2, 20, 100) },
			wantCmd: CmdSendStep,
			want:    []byte{0x02, 0x00, 0x14, 0x00, 0x00, 0x00, 0x64, 0x00, 0x00, 0x00},
		},
		{
			name:    "send step reverse",
			send:    func(c *Client) error { return c.SendStep(2, 10, -50) },
			wantCmd: CmdSendStep,
			want:    []byte{0x02, 0x00, 0x0A, 0x00, 0x00, 0x00, 0x4E, 0x01, 0x7F, 0x01},
		},
		{
			name:    "seek to zero",
			send:    func(c *Client) error { return c.SeekPosition(2, 0, 100) },
			wantCmd: CmdSeekPosition,
			want: []byte{
				0x02, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x64, 0x00, 0x00, 0x00,
			},
		},
		{
			name:    "get position",
			send:    func(c *Client) error { return c.GetPosition(7) },
			wantCmd: CmdGetPosition,
			want:    []byte{0x07, 0x00},
		},
		{
			name:    "set gripper",
			send:    func(c *Client) error { return c.SetGripper(90) },
			wantCmd: CmdSetGripper,
			want:    []byte{0x5A, 0x00},
		},
		{
			name:    "echo packed value",
			send:    func(c *Client) error { return c.SendEcho([]byte{0xEF, 0xBE, 0xAD, 0xDE}) },
			wantCmd: CmdEcho,
			want:    []byte{0x6F, 0x01, 0x3E, 0x01, 0x2D, 0x01, 0x5E, 0x01},
		},
	}

	for _, tt := range tests {
		tt := tt // capture loop variable
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			link := newMockLink()
			client, err := NewClient(link)
			require.NoError(t, err)

			require.NoError(t, tt.send(client))

			frames := link.sentFrames()
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantCmd, frames[0].cmd)
			assert.Equal(t, tt.want, frames[0].payload)
		})
	}
}

func TestClientGripperRange(t *testing.T) {
	t.Parallel()
	link := newMockLink()
	client, err := NewClient(link)
	require.NoError(t, err)

	err = client.SetGripper(181)
	require.ErrorIs(t, err, armlink.ErrOutOfRange)
	assert.Empty(t, link.sentFrames())

	require.NoError(t, client.SetGripper(180))
	assert.Len(t, link.sentFrames(), 1)
}

func TestClientDispatchesResponses(t *testing.T) {
	t.Parallel()
	link := newMockLink()
	client, err := NewClient(link)
	require.NoError(t, err)

	type speedEvent struct {
		motor uint8
		speed int16
	}
	type positionEvent struct {
		position int32
		motor    uint8
	}
	echoes := make(chan []byte, 1)
	speeds := make(chan speedEvent, 1)
	positions := make(chan positionEvent, 1)
	client.OnEcho = func(payload []byte) { echoes <- payload }
	client.OnGetSpeed = func(motor uint8, speed int16) { speeds <- speedEvent{motor, speed} }
	client.OnGetPosition = func(motor uint8, position int32) { positions <- positionEvent{position, motor} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	link.push(CmdEcho, Encode7Bit([]byte("hello world")))
	link.push(CmdGetSpeed, Encode7Bit([]byte{0x02, 0xF6, 0xFF}))
	link.push(CmdGetPosition, Encode7Bit([]byte{0x02, 0xC8, 0xB5, 0xFF, 0xFF}))

	select {
	case got := <-echoes:
		assert.Equal(t, []byte("hello world"), got)
	case <-time.After(time.Second):
		t.Fatal("echo callback never fired")
	}
	select {
	case got := <-speeds:
		assert.Equal(t, speedEvent{motor: 2, speed: -10}, got)
	case <-time.After(time.Second):
		t.Fatal("speed callback never fired")
	}
	select {
	case got := <-positions:
		assert.Equal(t, positionEvent{motor: 2, position: -19000}, got)
	case <-time.After(time.Second):
		t.Fatal("position callback never fired")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run never returned after cancel")
	}
}

func TestClientSurvivesMalformedMessage(t *testing.T) {
	t.Parallel()
	link := newMockLink()
	client, err := NewClient(link)
	require.NoError(t, err)

	speeds := make(chan int16, 1)
	client.OnGetSpeed = func(_ uint8, speed int16) { speeds <- speed }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	// Odd payload length, then a truncated layout, then a good frame.
	link.push(CmdGetSpeed, []byte{0x02, 0x00, 0x14})
	link.push(CmdGetSpeed, Encode7Bit([]byte{0x02}))
	link.push(CmdGetSpeed, Encode7Bit([]byte{0x02, 0x14, 0x00}))

	select {
	case got := <-speeds:
		assert.Equal(t, int16(20), got)
	case <-time.After(time.Second):
		t.Fatal("pump stalled on malformed message")
	}
}

func TestClientIgnoresUnknownCommand(t *testing.T) {
	t.Parallel()
	link := newMockLink()
	client, err := NewClient(link)
	require.NoError(t, err)

	positions := make(chan int32, 1)
	client.OnGetPosition = func(_ uint8, position int32) { positions <- position }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	link.push(Command(0x0F), Encode7Bit([]byte{0x01}))
	link.push(CmdGetPosition, Encode7Bit([]byte{0x03, 0x00, 0x00, 0x00, 0x00}))

	select {
	case got := <-positions:
		assert.Equal(t, int32(0), got)
	case <-time.After(time.Second):
		t.Fatal("pump stalled on unknown command")
	}
}

func TestClientCloseClosesLink(t *testing.T) {
	t.Parallel()
	link := newMockLink()
	client, err := NewClient(link)
	require.NoError(t, err)

	require.True(t, client.Connected())
	require.NoError(t, client.Close())
	assert.False(t, client.Connected())

	err = client.SetSpeed(1, 0)
	require.ErrorIs(t, err, armlink.ErrTransportClosed)
}
