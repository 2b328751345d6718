/*
	dspic-loader
	Copyright (c) 2024 dspic-loader contributors.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/stretchr/testify/require"
)

type scriptedChannel struct {
	clock   *clock.Fake
	input   []byte
	written []byte
	purged  int
	flushed int
	readErr error
}

func (c *scriptedChannel) ReceiveByte(timeout time.Duration) (byte, bool, error) {
	if c.readErr != nil {
		return 0, false, c.readErr
	}
	if len(c.input) == 0 {
		c.clock.Sleep(timeout)
		return 0, false, nil
	}
	b := c.input[0]
	c.input = c.input[1:]
	c.clock.Sleep(time.Millisecond)
	return b, true, nil
}

func (c *scriptedChannel) Write(p []byte) error {
	c.written = append(c.written, p...)
	return nil
}

func (c *scriptedChannel) Flush() error {
	c.flushed++
	return nil
}

func (c *scriptedChannel) Purge() error {
	c.purged++
	c.input = nil
	return nil
}

func TestTransceiverSend(t *testing.T) {
	ch := &scriptedChannel{clock: clock.NewFake()}
	tr := NewTransceiver(ch, ch.clock)
	require.NoError(t, tr.Send([]byte{0x00}))
	expected, err := Encode([]byte{0x00})
	require.NoError(t, err)
	require.Equal(t, expected, ch.written)
	require.Equal(t, 1, ch.flushed)

	require.ErrorIs(t, tr.Send(nil), ErrEmptyPayload)
}

func TestTransceiverPoll(t *testing.T) {
	fake := clock.NewFake()
	frame, err := Encode([]byte{0xFC})
	require.NoError(t, err)
	ch := &scriptedChannel{clock: fake, input: append([]byte{0x00, 0x13}, frame...)}
	tr := NewTransceiver(ch, fake)

	payload, err := tr.Poll()
	require.NoError(t, err)
	require.Equal(t, []byte{0xFC}, payload)

	// nothing pending
	payload, err = tr.Poll()
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestTransceiverPollWindow(t *testing.T) {
	fake := clock.NewFake()
	noise := make([]byte, 2000)
	ch := &scriptedChannel{clock: fake, input: noise}
	tr := NewTransceiver(ch, fake)

	start := fake.Now()
	payload, err := tr.Poll()
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, DefaultPollWindow, fake.Now().Sub(start))
}

func TestTransceiverPollError(t *testing.T) {
	ch := &scriptedChannel{clock: clock.NewFake(), readErr: errors.New("port closed")}
	tr := NewTransceiver(ch, ch.clock)
	_, err := tr.Poll()
	require.ErrorContains(t, err, "port closed")
}

func TestTransceiverPurge(t *testing.T) {
	ch := &scriptedChannel{clock: clock.NewFake(), input: []byte{0xAE, 0x03, 0x01}}
	tr := NewTransceiver(ch, ch.clock)
	_, err := tr.Poll()
	require.NoError(t, err)
	require.NoError(t, tr.Purge())
	require.Equal(t, 1, ch.purged)

	frame, err := Encode([]byte{0x01})
	require.NoError(t, err)
	ch.input = frame[2:]
	payload, err := tr.Poll()
	require.NoError(t, err)
	require.Nil(t, payload)
}
