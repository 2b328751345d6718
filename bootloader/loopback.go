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

package bootloader

import (
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/dspicboot/dspic-loader/transport"
)

// Loopback connects a host session to a Device in the same process. Bytes
// written by the host are handed to the device right away, so every request
// is answered before Write returns. It is not safe for concurrent use.
type Loopback struct {
	clock    clock.Clock
	device   *Device
	toDevice []byte
	toHost   []byte

	dropFrames int
	dropping   bool
}

var _ transport.Channel = (*Loopback)(nil)

// NewLoopback returns an unattached link. Reads that find no byte sleep on
// clk for their whole timeout.
func NewLoopback(clk clock.Clock) *Loopback {
	return &Loopback{clock: clk}
}

// UART returns the device end of the link.
func (l *Loopback) UART() UART {
	return loopbackUART{l}
}

// Attach sets the device served by the link.
func (l *Loopback) Attach(d *Device) {
	l.device = d
}

// DropResponses discards the next n frames sent by the device.
func (l *Loopback) DropResponses(n int) {
	l.dropFrames = n
}

func (l *Loopback) ReceiveByte(timeout time.Duration) (byte, bool, error) {
	if len(l.toHost) == 0 {
		l.clock.Sleep(timeout)
		return 0, false, nil
	}
	b := l.toHost[0]
	l.toHost = l.toHost[1:]
	return b, true, nil
}

func (l *Loopback) Write(p []byte) error {
	l.toDevice = append(l.toDevice, p...)
	for l.device != nil && len(l.toDevice) > 0 && !l.device.Started() {
		l.device.Poll()
	}
	return nil
}

func (l *Loopback) Flush() error {
	return nil
}

func (l *Loopback) Purge() error {
	l.toHost = nil
	return nil
}

type loopbackUART struct {
	l *Loopback
}

func (u loopbackUART) Receive() (byte, bool) {
	if len(u.l.toDevice) == 0 {
		return 0, false
	}
	b := u.l.toDevice[0]
	u.l.toDevice = u.l.toDevice[1:]
	return b, true
}

func (u loopbackUART) Transmit(b byte) {
	if b == transport.FrameStart {
		u.l.dropping = u.l.dropFrames > 0
		if u.l.dropping {
			u.l.dropFrames--
		}
	}
	if !u.l.dropping {
		u.l.toHost = append(u.l.toHost, b)
	}
}

func (u loopbackUART) Flush() {}
