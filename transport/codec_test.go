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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(r *Receiver, data []byte) [][]byte {
	var out [][]byte
	for _, b := range data {
		if p, ok := r.Feed(b); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestEncodeRoundTrip(t *testing.T) {
	for size := 1; size <= DeviceMaxPayload; size++ {
		payload := make([]byte, size)
		for i := range payload {
			// make sure the special bytes show up often
			payload[i] = byte(0xAA + (i*7+size)%8)
		}
		frame, err := Encode(payload)
		require.NoError(t, err)
		require.Equal(t, FrameStart, frame[0])
		require.NotContains(t, string(frame[1:]), string([]byte{FrameStart}))

		got := feedAll(NewReceiver(DeviceMaxPayload), frame)
		require.Len(t, got, 1)
		require.Equal(t, payload, got[0])
	}
}

func TestEncodeEscapes(t *testing.T) {
	frame, err := Encode([]byte{0xAE})
	require.NoError(t, err)
	crc := CRC16([]byte{0xAE})
	expected := []byte{0xAE, 0x01, 0xAD, 0x01}
	expected = appendEscaped(expected, byte(crc))
	expected = appendEscaped(expected, byte(crc>>8))
	require.Equal(t, expected, frame)

	frame, err = Encode([]byte{0xAD, 0x01})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(frame, []byte{0xAE, 0x02, 0xAD, 0x00, 0x01}))
}

func TestEncodeRejectsBadSizes(t *testing.T) {
	_, err := Encode(nil)
	require.ErrorIs(t, err, ErrEmptyPayload)

	_, err = Encode(make([]byte, MaxPayload+1))
	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, MaxPayload+1, tooLarge.Size)

	_, err = Encode(make([]byte, MaxPayload))
	require.NoError(t, err)
}

func TestReceiverRejectsZeroAndOversizedLength(t *testing.T) {
	r := NewReceiver(DeviceMaxPayload)
	require.Empty(t, feedAll(r, []byte{0xAE, 0x00, 0x01, 0x02, 0x03}))

	frame, err := Encode(make([]byte, DeviceMaxPayload+1))
	require.NoError(t, err)
	require.Empty(t, feedAll(r, frame))

	// the host side accepts the same frame
	require.Len(t, feedAll(NewReceiver(MaxPayload), frame), 1)
}

func TestReceiverDropsCorruptFrames(t *testing.T) {
	frame, err := Encode([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	corrupt := append([]byte(nil), frame...)
	corrupt[3] ^= 0x10

	r := NewReceiver(MaxPayload)
	require.Empty(t, feedAll(r, corrupt))
	got := feedAll(r, frame)
	require.Equal(t, [][]byte{{0x01, 0x02, 0x03}}, got)
}

func TestReceiverInvalidEscape(t *testing.T) {
	r := NewReceiver(MaxPayload)
	require.Empty(t, feedAll(r, []byte{0xAE, 0x02, 0xAD, 0x05, 0x11, 0x22, 0x33}))

	frame, err := Encode([]byte{0x42})
	require.NoError(t, err)
	require.Len(t, feedAll(r, frame), 1)
}

func TestReceiverResynchronizes(t *testing.T) {
	frame, err := Encode([]byte{0x10, 0x20, 0x30, 0x40})
	require.NoError(t, err)

	r := NewReceiver(MaxPayload)
	// a truncated frame followed by a full one
	stream := append(append([]byte{0x55, 0x66}, frame[:4]...), frame...)
	require.Equal(t, [][]byte{{0x10, 0x20, 0x30, 0x40}}, feedAll(r, stream))

	// garbage before the marker is ignored
	r.Reset()
	stream = append([]byte{0x01, 0xAD, 0x00, 0xFF}, frame...)
	require.Equal(t, [][]byte{{0x10, 0x20, 0x30, 0x40}}, feedAll(r, stream))
}

func TestReceiverMarkerRestartsPendingEscape(t *testing.T) {
	frame, err := Encode([]byte{0x10, 0x20})
	require.NoError(t, err)

	r := NewReceiver(MaxPayload)
	// a frame cut right after an escape byte
	stream := append([]byte{0xAE, 0x03, 0xAD}, frame...)
	require.Equal(t, [][]byte{{0x10, 0x20}}, feedAll(r, stream))

	// the marker also wins over an escape inside a payload
	r.Reset()
	stream = append([]byte{0xAE, 0x04, 0x01, 0xAD}, frame...)
	require.Equal(t, [][]byte{{0x10, 0x20}}, feedAll(r, stream))
}

func TestReceiverReturnsCopies(t *testing.T) {
	r := NewReceiver(MaxPayload)
	a, err := Encode([]byte{0x01})
	require.NoError(t, err)
	b, err := Encode([]byte{0x02})
	require.NoError(t, err)
	got := feedAll(r, append(a, b...))
	require.Equal(t, [][]byte{{0x01}, {0x02}}, got)
}
