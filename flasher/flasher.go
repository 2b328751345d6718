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
	"strings"
)

// FlasherError is an error reported by an operation on the device.
type FlasherError struct {
	err string
}

func (e FlasherError) Error() string {
	return e.err
}

// ErrNoValidFirmware is returned when reading back a device whose jump table
// is erased.
var ErrNoValidFirmware = FlasherError{err: "the target has no valid firmware"}

// UnknownDeviceError is returned when the DEVID word is not in the index.
type UnknownDeviceError struct {
	ID uint32
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device ID (0x%04X)", e.ID)
}

// UnsupportedDeviceError is returned for a known model the bootloader does
// not handle.
type UnsupportedDeviceError struct {
	Name string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("device %s is not supported", e.Name)
}

// WrongModelError is returned when the device is not the model the user
// asked for.
type WrongModelError struct {
	Expected string
	Found    string
}

func (e *WrongModelError) Error() string {
	return fmt.Sprintf("wrong device model: expected %s, found %s", e.Expected, e.Found)
}

// VerifyError is returned when a row of the device differs from the image.
type VerifyError struct {
	Address uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("the row at address 0x%06X has different values", e.Address)
}

// BootloaderOverlapError is returned when an image defines words inside the
// bootloader area.
type BootloaderOverlapError struct {
	Start, End uint32
}

func (e *BootloaderOverlapError) Error() string {
	return fmt.Sprintf("the target firmware overwrites the bootloader area 0x%06X-0x%06X", e.Start, e.End)
}

// ConfigMismatchError is returned when an image carries configuration fuses
// different from the device's. The bootloader cannot write them.
type ConfigMismatchError struct {
	Address  uint32
	Device   uint32
	Firmware uint32
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("the config word at address 0x%06X is different in the device (0x%04X) and in the target firmware (0x%04X)",
		e.Address, e.Device, e.Firmware)
}

// ErrMissingResetVector is returned when the image does not start with a
// GOTO instruction.
var ErrMissingResetVector = FlasherError{err: "the instruction at address 0x000000 in the target firmware must be GOTO"}

func modelMatches(expected, found string) bool {
	return expected == "" || strings.EqualFold(expected, found)
}
