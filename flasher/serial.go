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

package flasher

import (
	"fmt"
	"time"

	"github.com/dspicboot/dspic-loader/transport"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultBaudRate is the speed of the bootloader UART.
const DefaultBaudRate = 115200

// SerialChannel is a transport.Channel over a serial port.
type SerialChannel struct {
	port        serial.Port
	readTimeout time.Duration
}

var _ transport.Channel = (*SerialChannel)(nil)

// OpenSerial opens portAddress at baudRate, 8N1.
func OpenSerial(portAddress string, baudRate int) (*SerialChannel, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portAddress, mode)
	if err != nil {
		err = fmt.Errorf("opening serial port %s: %w", portAddress, err)
		logrus.Error(err)
		return nil, err
	}
	logrus.Infof("Opened port %s at %d", portAddress, baudRate)
	return &SerialChannel{port: port}, nil
}

// ReceiveByte implements transport.Channel.
func (c *SerialChannel) ReceiveByte(timeout time.Duration) (byte, bool, error) {
	if timeout != c.readTimeout {
		if err := c.port.SetReadTimeout(timeout); err != nil {
			err = fmt.Errorf("could not set timeout on serial port: %s", err)
			logrus.Error(err)
			return 0, false, err
		}
		c.readTimeout = timeout
	}
	var buf [1]byte
	n, err := c.port.Read(buf[:])
	if err != nil {
		return 0, false, err
	}
	return buf[0], n == 1, nil
}

// Write implements transport.Channel.
func (c *SerialChannel) Write(data []byte) error {
	for len(data) > 0 {
		sent, err := c.port.Write(data)
		if err != nil {
			err = fmt.Errorf("writing data: %s", err)
			logrus.Error(err)
			return err
		}
		if sent < len(data) {
			logrus.Debugf("Sent %d bytes out of %d", sent, len(data))
		}
		data = data[sent:]
	}
	return nil
}

// Flush implements transport.Channel.
func (c *SerialChannel) Flush() error {
	return c.port.Drain()
}

// Purge implements transport.Channel.
func (c *SerialChannel) Purge() error {
	return c.port.ResetInputBuffer()
}

// Close closes the port.
func (c *SerialChannel) Close() error {
	return c.port.Close()
}
