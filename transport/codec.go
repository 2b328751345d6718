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

// Package transport implements the byte-stuffed, CRC protected packet framing
// spoken over the serial link by the bootloader and the loader.
//
// A frame on the wire is
//
//	0xAE esc(length) esc(payload...) esc(crcLo) esc(crcHi)
//
// where esc replaces 0xAD with 0xAD 0x00 and 0xAE with 0xAD 0x01, so an
// unescaped 0xAE only ever marks the start of a frame.
package transport

import (
	"errors"
	"fmt"
)

const (
	// FrameStart marks the beginning of a frame and is never escaped.
	FrameStart byte = 0xAE
	// Escape introduces a two byte escape sequence.
	Escape byte = 0xAD

	escapedEscape     byte = 0x00
	escapedFrameStart byte = 0x01
)

const (
	// MaxPayload is the largest payload the one byte length field can carry.
	MaxPayload = 255
	// DeviceMaxPayload is the receive buffer size of the bootloader.
	DeviceMaxPayload = 128
)

// ErrEmptyPayload is returned when encoding a zero length payload.
var ErrEmptyPayload = errors.New("empty packet payload")

// PayloadTooLargeError is returned when a payload does not fit a frame.
type PayloadTooLargeError struct {
	Size int
	Max  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("packet payload of %d bytes exceeds the maximum of %d", e.Size, e.Max)
}

// Encode frames payload for transmission.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return nil, &PayloadTooLargeError{Size: len(payload), Max: MaxPayload}
	}

	frame := make([]byte, 0, 2*len(payload)+8)
	frame = append(frame, FrameStart)
	frame = appendEscaped(frame, byte(len(payload)))
	for _, b := range payload {
		frame = appendEscaped(frame, b)
	}
	crc := CRC16(payload)
	frame = appendEscaped(frame, byte(crc))
	frame = appendEscaped(frame, byte(crc>>8))
	return frame, nil
}

func appendEscaped(frame []byte, b byte) []byte {
	switch b {
	case Escape:
		return append(frame, Escape, escapedEscape)
	case FrameStart:
		return append(frame, Escape, escapedFrameStart)
	default:
		return append(frame, b)
	}
}
