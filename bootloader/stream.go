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
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReceiveWait bounds how long Receive blocks when no byte is pending.
const DefaultReceiveWait = time.Millisecond

// StreamUART is a UART over a byte stream, typically a serial port. A
// goroutine reads the stream in the background until it fails.
type StreamUART struct {
	w    io.Writer
	rx   chan byte
	wait time.Duration

	mu  sync.Mutex
	err error
}

var _ UART = (*StreamUART)(nil)

// NewStreamUART starts reading rw. Receive waits up to wait for a byte.
func NewStreamUART(rw io.ReadWriter, wait time.Duration) *StreamUART {
	if wait <= 0 {
		wait = DefaultReceiveWait
	}
	u := &StreamUART{w: rw, rx: make(chan byte, 256), wait: wait}
	go u.readLoop(rw)
	return u
}

func (u *StreamUART) readLoop(r io.Reader) {
	defer close(u.rx)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			u.rx <- b
		}
		if err != nil {
			u.setErr(err)
			return
		}
	}
}

func (u *StreamUART) setErr(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err == nil {
		u.err = err
	}
}

// Err returns the error that stopped the stream, if any.
func (u *StreamUART) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Receive implements UART.
func (u *StreamUART) Receive() (byte, bool) {
	select {
	case b, ok := <-u.rx:
		return b, ok
	default:
	}
	timer := time.NewTimer(u.wait)
	defer timer.Stop()
	select {
	case b, ok := <-u.rx:
		return b, ok
	case <-timer.C:
		return 0, false
	}
}

// Transmit implements UART.
func (u *StreamUART) Transmit(b byte) {
	if _, err := u.w.Write([]byte{b}); err != nil {
		logrus.Debugf("bootloader: transmit: %s", err)
		u.setErr(err)
	}
}

// Flush implements UART. Streams that can drain, such as serial ports, are
// drained.
func (u *StreamUART) Flush() {
	d, ok := u.w.(interface{ Drain() error })
	if !ok {
		return
	}
	if err := d.Drain(); err != nil {
		u.setErr(err)
	}
}
