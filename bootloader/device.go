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

// Package bootloader implements the device side of the protocol: a polling
// loop that assembles packets one byte at a time, dispatches requests to the
// flash modify engine and starts the application when nobody connects.
package bootloader

import (
	"context"
	"fmt"

	"github.com/dspicboot/dspic-loader/flash"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/protocol"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/sirupsen/logrus"
)

// UART is the serial port of the device.
type UART interface {
	// Receive returns a received byte without waiting.
	Receive() (byte, bool)
	Transmit(b byte)
	// Flush waits until every transmitted byte has been sent.
	Flush()
}

// Hardware groups the peripherals the bootloader touches besides the UART
// and the flash controller.
type Hardware interface {
	ClearWatchdog()
	// TickElapsed reports once per elapsed 100 ms tick.
	TickElapsed() bool
	SetLED(on bool)
	// StartFirmware restores the peripherals and jumps to addr.
	StartFirmware(addr uint32)
}

// Default timings, in ticks.
const (
	DefaultWaitTicks     = 50
	DefaultLEDDelayTicks = 3
)

// Config describes the resident bootloader.
type Config struct {
	BaseAddress uint32
	Size        uint16
	// WaitTicks is how long the bootloader waits for a handshake before
	// starting a valid application.
	WaitTicks int
	// LEDDelayTicks is when the LED starts blinking.
	LEDDelayTicks int
}

func (c Config) withDefaults() Config {
	if c.WaitTicks <= 0 {
		c.WaitTicks = DefaultWaitTicks
	}
	if c.LEDDelayTicks <= 0 {
		c.LEDDelayTicks = DefaultLEDDelayTicks
	}
	return c
}

// Device is the state of a running bootloader.
type Device struct {
	cfg      Config
	uart     UART
	ctrl     flash.Controller
	hw       Hardware
	receiver *transport.Receiver

	connected bool
	started   bool
	ticks     int
	led       bool
}

// New boots a bootloader. When the first jump table word reads erased there
// is no application to start, so the device behaves as if a host had
// already connected and stays in the bootloader.
func New(cfg Config, uart UART, ctrl flash.Controller, hw Hardware) *Device {
	cfg = cfg.withDefaults()
	mask := memory.Program.WordMask()
	d := &Device{
		cfg:      cfg,
		uart:     uart,
		ctrl:     ctrl,
		hw:       hw,
		receiver: transport.NewReceiver(transport.DeviceMaxPayload),
		led:      true,
	}
	d.connected = ctrl.ReadWord(cfg.BaseAddress)&mask == mask
	hw.SetLED(d.led)
	return d
}

// Connected reports whether a host has completed a handshake, or no
// application is installed.
func (d *Device) Connected() bool {
	return d.connected
}

// Started reports whether control was handed over to the application.
func (d *Device) Started() bool {
	return d.started
}

// Step runs one iteration of the main loop.
func (d *Device) Step() {
	if d.started {
		return
	}
	d.hw.ClearWatchdog()

	if d.hw.TickElapsed() {
		d.ticks++
		if d.ticks >= d.cfg.LEDDelayTicks {
			d.led = !d.led
			d.hw.SetLED(d.led)
		}
		if !d.connected && d.ticks == d.cfg.WaitTicks {
			logrus.Infof("No handshake after %d ticks, starting the application", d.ticks)
			d.startFirmware()
			return
		}
	}

	d.Poll()
}

// Poll consumes at most one received byte and handles the packet it
// completes.
func (d *Device) Poll() {
	if d.started {
		return
	}
	b, ok := d.uart.Receive()
	if !ok {
		return
	}
	if payload, ok := d.receiver.Feed(b); ok {
		d.process(payload)
	}
}

// Run loops until the application is started or ctx is done. A UART that
// reports errors through an Err method, like StreamUART, also stops the loop
// once it fails.
func (d *Device) Run(ctx context.Context) error {
	failing, _ := d.uart.(interface{ Err() error })
	for !d.started {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		d.Step()
		if failing == nil {
			continue
		}
		if err := failing.Err(); err != nil {
			return fmt.Errorf("uart: %w", err)
		}
	}
	return nil
}

func (d *Device) process(payload []byte) {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		logrus.Debugf("bootloader: ignoring packet: %s", err)
		return
	}

	if _, ok := req.(protocol.StartCommunicationRequest); ok {
		d.send(protocol.NewStartCommunicationResponse(d.cfg.BaseAddress, d.cfg.Size))
		d.connected = true
		return
	}
	if !d.connected {
		return
	}

	switch r := req.(type) {
	case protocol.ReadRowRequest:
		var resp protocol.ReadRowResponse
		for i := range resp.Words {
			resp.Words[i] = d.ctrl.ReadWord(r.Address+uint32(2*i)) & memory.Program.WordMask()
		}
		d.send(resp)
	case protocol.StartFirmwareRequest:
		d.send(protocol.StartFirmwareResponse{})
		d.uart.Flush()
		d.startFirmware()
	case *protocol.ModifyRequest:
		status := flash.Modify(d.ctrl, r.Region(), r.Address, r.Words, r.Program(), r.Force())
		d.send(protocol.ModifyResponse{RequestCode: r.Code(), Status: status})
	}
}

func (d *Device) send(resp protocol.Response) {
	frame, err := transport.Encode(resp.Encode())
	if err != nil {
		logrus.Error(err)
		return
	}
	for _, b := range frame {
		d.uart.Transmit(b)
	}
}

func (d *Device) startFirmware() {
	d.started = true
	d.hw.StartFirmware(d.cfg.BaseAddress)
}
