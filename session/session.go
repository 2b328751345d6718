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

// Package session drives the bootloader protocol from the host: handshake,
// bounded retries and per session statistics.
package session

import (
	"fmt"
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/protocol"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/sirupsen/logrus"
)

// State of a Connection.
type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state %d", int(s))
}

// BootloaderParams describes the resident bootloader.
type BootloaderParams struct {
	BaseAddress uint32 `json:"base_address"`
	Size        uint32 `json:"size"`
}

// JumpTable returns the two rows holding the relocated vectors.
func (p BootloaderParams) JumpTable() memory.Range {
	return memory.Range{Address: p.BaseAddress, Size: 2 * memory.Program.RowSize()}
}

// Protected returns the rows of the bootloader code itself, which are never
// erased or programmed.
func (p BootloaderParams) Protected() memory.Range {
	jt := p.JumpTable()
	if p.Size <= jt.Size {
		return memory.Range{Address: jt.End()}
	}
	return memory.Range{Address: jt.End(), Size: p.Size - jt.Size}
}

func (p BootloaderParams) String() string {
	return fmt.Sprintf("address = 0x%06X, size = 0x%X", p.BaseAddress, p.Size)
}

// Statistic counts the row operations reported by the bootloader.
type Statistic struct {
	ProgramMemoryEraseCount   int `json:"program_memory_erase_count"`
	ProgramMemoryProgramCount int `json:"program_memory_program_count"`
	DataEEPROMEraseCount      int `json:"data_eeprom_erase_count"`
	DataEEPROMProgramCount    int `json:"data_eeprom_program_count"`
}

// Connection is a session with a bootloader over a serial channel. It is not
// safe for concurrent use.
type Connection struct {
	transceiver *transport.Transceiver
	clock       clock.Clock

	attempts       int
	responseWindow time.Duration
	byteTimeout    time.Duration
	retryPause     time.Duration
	onRetry        func(code byte)

	state     State
	params    BootloaderParams
	startTime time.Time
	statistic Statistic
}

// New returns a disconnected session over channel.
func New(channel transport.Channel, opts ...Option) *Connection {
	c := &Connection{
		clock:          clock.System,
		attempts:       DefaultAttempts,
		responseWindow: DefaultResponseWindow,
		retryPause:     DefaultRetryPause,
		onRetry:        func(byte) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transceiver = transport.NewTransceiver(channel, c.clock)
	c.transceiver.SetByteTimeout(c.byteTimeout)
	return c
}

// State returns the state of the session.
func (c *Connection) State() State {
	return c.state
}

// Params returns the bootloader parameters captured by the handshake.
func (c *Connection) Params() BootloaderParams {
	return c.params
}

// Statistic returns the row operations performed so far.
func (c *Connection) Statistic() Statistic {
	return c.statistic
}

// ConnectionTime returns the time elapsed since the handshake.
func (c *Connection) ConnectionTime() time.Duration {
	return clock.Since(c.clock, c.startTime)
}

// Handshake purges the input and sends start communication requests until a
// bootloader answers or timeout elapses. A zero timeout waits forever.
func (c *Connection) Handshake(timeout time.Duration) error {
	c.state = Handshaking
	if err := c.transceiver.Purge(); err != nil {
		c.state = Disconnected
		return err
	}

	request := protocol.StartCommunicationRequest{}.Encode()
	start := c.clock.Now()
	for timeout == 0 || clock.Since(c.clock, start) < timeout {
		if err := c.transceiver.Send(request); err != nil {
			c.state = Disconnected
			return err
		}
		payload, err := c.transceiver.Poll()
		if err != nil {
			c.state = Disconnected
			return err
		}
		if payload == nil {
			continue
		}
		resp, err := protocol.DecodeStartCommunicationResponse(payload)
		if err != nil {
			logrus.Debugf("session: ignoring handshake answer: %s", err)
			continue
		}
		if resp.Version != protocol.Version {
			c.state = Disconnected
			return &UnsupportedVersionError{Version: resp.Version}
		}
		if string(resp.Signature[:]) != protocol.Signature {
			c.state = Disconnected
			return ErrUnsupportedSignature
		}

		c.params = BootloaderParams{
			BaseAddress: resp.BootloaderBase,
			Size:        uint32(resp.BootloaderSize),
		}
		c.startTime = c.clock.Now()
		c.state = Connected
		logrus.Infof("Connected to bootloader at %s", c.params)
		return nil
	}

	c.state = Disconnected
	return ErrConnectionTimeout
}

func (c *Connection) request(req protocol.Request, responseSize int) ([]byte, error) {
	if c.state != Connected {
		return nil, ErrNotConnected
	}
	payload := req.Encode()
	want := protocol.ExpectedResponseID(req.Code())

	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := c.transceiver.Send(payload); err != nil {
			return nil, err
		}

		start := c.clock.Now()
		for clock.Since(c.clock, start) < c.responseWindow {
			resp, err := c.transceiver.Poll()
			if err != nil {
				return nil, err
			}
			if resp == nil {
				continue
			}
			if resp[0] != want {
				logrus.Debugf("session: ignoring response 0x%02X to request 0x%02X", resp[0], req.Code())
				continue
			}
			if len(resp) != responseSize {
				return nil, &ResponseSizeError{Code: resp[0], Size: len(resp), Want: responseSize}
			}
			return resp, nil
		}

		logrus.Warnf("No answer from request code 0x%02X, attempt %d of %d", req.Code(), attempt+1, c.attempts)
		c.onRetry(req.Code())
		c.clock.Sleep(c.retryPause)
		if err := c.transceiver.Purge(); err != nil {
			return nil, err
		}
	}

	return nil, &NoAnswerError{Code: req.Code()}
}

// ReadRow reads the 32 words starting at addr, which must be aligned to a
// program memory row.
func (c *Connection) ReadRow(addr uint32) ([]uint32, error) {
	if addr&(memory.Program.RowSize()-1|0xFF000000) != 0 {
		return nil, fmt.Errorf("cannot read a row at address 0x%06X", addr)
	}
	resp, err := c.request(protocol.ReadRowRequest{Address: addr}, protocol.ReadRowResponseSize)
	if err != nil {
		return nil, err
	}
	decoded, err := protocol.DecodeReadRowResponse(resp)
	if err != nil {
		return nil, err
	}
	return decoded.Words[:], nil
}

// WriteProgramMemory erases the program memory row at addr and, when program
// is set, writes row into it.
func (c *Connection) WriteProgramMemory(addr uint32, row []uint32, program, force bool) error {
	return c.modify(memory.Program, addr, row, program, force)
}

// WriteDataEEPROM erases the data EEPROM row at addr and, when program is
// set, writes row into it.
func (c *Connection) WriteDataEEPROM(addr uint32, row []uint32, program, force bool) error {
	return c.modify(memory.DataEEPROM, addr, row, program, force)
}

func (c *Connection) modify(kind memory.Kind, addr uint32, row []uint32, program, force bool) error {
	req, err := protocol.NewModifyRequest(kind, addr, row, program, force)
	if err != nil {
		return err
	}
	resp, err := c.request(req, protocol.ModifyResponseSize)
	if err != nil {
		return err
	}
	decoded, err := protocol.DecodeModifyResponse(req.Code(), resp)
	if err != nil {
		return err
	}

	status := decoded.Status
	switch kind {
	case memory.Program:
		if status.Erased() {
			c.statistic.ProgramMemoryEraseCount++
		}
		if status.Programmed() {
			c.statistic.ProgramMemoryProgramCount++
		}
	case memory.DataEEPROM:
		if status.Erased() {
			c.statistic.DataEEPROMEraseCount++
		}
		if status.Programmed() {
			c.statistic.DataEEPROMProgramCount++
		}
	}
	logrus.Debugf("session: %s row 0x%06X: %s", kind, addr, status)

	if status.Failed() {
		return &ModifyError{Kind: kind, Address: addr, Status: status}
	}
	return nil
}

// StartFirmware asks the bootloader to run the application.
func (c *Connection) StartFirmware() error {
	_, err := c.request(protocol.StartFirmwareRequest{}, protocol.StartFirmwareResponseSize)
	return err
}
