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

import "github.com/sirupsen/logrus"

type rxState int

const (
	stateHeader rxState = iota
	stateLength
	stateData
	stateCRCLow
	stateCRCHigh
)

func (s rxState) String() string {
	switch s {
	case stateHeader:
		return "HEADER"
	case stateLength:
		return "LENGTH"
	case stateData:
		return "DATA"
	case stateCRCLow:
		return "CRC_LSB"
	case stateCRCHigh:
		return "CRC_MSB"
	}
	return "UNKNOWN"
}

// Receiver reassembles packets from a byte stream. It never reports errors:
// malformed or corrupted frames are dropped and the receiver waits for the
// next frame marker.
//
// A Receiver is owned by a single reader.
type Receiver struct {
	maxPayload int

	state   rxState
	escaped bool
	size    int
	buf     []byte
	crc     uint16
}

// NewReceiver returns a Receiver accepting payloads of up to maxPayload bytes.
func NewReceiver(maxPayload int) *Receiver {
	if maxPayload <= 0 || maxPayload > MaxPayload {
		maxPayload = MaxPayload
	}
	return &Receiver{
		maxPayload: maxPayload,
		buf:        make([]byte, 0, maxPayload),
	}
}

// Reset drops any partially received frame.
func (r *Receiver) Reset() {
	r.state = stateHeader
	r.escaped = false
	r.buf = r.buf[:0]
}

// Feed consumes one byte from the link. When b completes a valid frame the
// decoded payload is returned together with true; the returned slice is owned
// by the caller.
func (r *Receiver) Feed(b byte) ([]byte, bool) {
	if b == FrameStart {
		r.state = stateLength
		r.escaped = false
		return nil, false
	}

	if r.state == stateHeader {
		return nil, false
	}

	if r.escaped {
		r.escaped = false
		switch b {
		case escapedEscape:
			b = Escape
		case escapedFrameStart:
			b = FrameStart
		default:
			logrus.Debugf("transport: invalid escape sequence 0x%02X in state %s", b, r.state)
			r.state = stateHeader
			return nil, false
		}
	} else if b == Escape {
		r.escaped = true
		return nil, false
	}

	switch r.state {
	case stateLength:
		r.size = int(b)
		r.buf = r.buf[:0]
		r.crc = 0xFFFF
		r.state = stateData
		if r.size == 0 || r.size > r.maxPayload {
			logrus.Debugf("transport: rejected frame length %d", r.size)
			r.state = stateHeader
		}
	case stateData:
		r.buf = append(r.buf, b)
		r.crc = crcAppendByte(r.crc, b)
		if len(r.buf) == r.size {
			r.state = stateCRCLow
		}
	case stateCRCLow:
		r.crc = crcAppendByte(r.crc, b)
		r.state = stateCRCHigh
	case stateCRCHigh:
		r.crc = crcAppendByte(r.crc, b)
		r.state = stateHeader
		if r.crc != 0 {
			logrus.Debugf("transport: dropped frame of %d bytes with bad crc", r.size)
			return nil, false
		}
		payload := make([]byte, len(r.buf))
		copy(payload, r.buf)
		return payload, true
	}
	return nil, false
}
