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
	"fmt"
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/sirupsen/logrus"
)

// Channel is the host side of the serial link.
type Channel interface {
	// ReceiveByte waits up to timeout for one byte; ok is false when none arrived.
	ReceiveByte(timeout time.Duration) (b byte, ok bool, err error)
	Write(p []byte) error
	// Flush blocks until written bytes have left the host.
	Flush() error
	// Purge discards any buffered input.
	Purge() error
}

const (
	// DefaultPollWindow bounds a single Poll call.
	DefaultPollWindow = 500 * time.Millisecond
	// DefaultByteTimeout is the per byte read timeout used while polling.
	DefaultByteTimeout = 10 * time.Millisecond
)

// Transceiver sends and receives whole packets over a Channel.
type Transceiver struct {
	channel     Channel
	clock       clock.Clock
	receiver    *Receiver
	pollWindow  time.Duration
	byteTimeout time.Duration
}

// NewTransceiver wraps channel. Timing is measured on clk.
func NewTransceiver(channel Channel, clk clock.Clock) *Transceiver {
	return &Transceiver{
		channel:     channel,
		clock:       clk,
		receiver:    NewReceiver(MaxPayload),
		pollWindow:  DefaultPollWindow,
		byteTimeout: DefaultByteTimeout,
	}
}

// SetByteTimeout changes the per byte read timeout used while polling.
func (t *Transceiver) SetByteTimeout(d time.Duration) {
	if d > 0 {
		t.byteTimeout = d
	}
}

// Send frames payload, writes it and waits for the write to drain.
func (t *Transceiver) Send(payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	logrus.Debugf("transport: sending packet % X", payload)
	if err := t.channel.Write(frame); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	if err := t.channel.Flush(); err != nil {
		return fmt.Errorf("flushing packet: %w", err)
	}
	return nil
}

// Poll reads from the channel until a packet is complete, no byte arrives
// within the per byte timeout, or the poll window elapses. A nil payload with
// a nil error means nothing was received.
func (t *Transceiver) Poll() ([]byte, error) {
	start := t.clock.Now()
	for clock.Since(t.clock, start) < t.pollWindow {
		b, ok, err := t.channel.ReceiveByte(t.byteTimeout)
		if err != nil {
			return nil, fmt.Errorf("reading packet: %w", err)
		}
		if !ok {
			return nil, nil
		}
		if payload, ok := t.receiver.Feed(b); ok {
			logrus.Debugf("transport: received packet % X", payload)
			return payload, nil
		}
	}
	return nil, nil
}

// Purge discards buffered input on the channel.
func (t *Transceiver) Purge() error {
	t.receiver.Reset()
	return t.channel.Purge()
}
