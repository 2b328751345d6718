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

// Package protocol defines the request and response records exchanged between
// the loader and the bootloader inside transport packets.
package protocol

import (
	"fmt"
	"strings"
)

// Request codes and the fixed response identifiers.
const (
	CodeStartCommunication         byte = 0x00
	CodeStartCommunicationResponse byte = 0xFF
	CodeReadRow                    byte = 0x01
	CodeReadRowResponse            byte = 0xFE
	CodeStartFirmware              byte = 0x03
	CodeStartFirmwareResponse      byte = 0xFC
)

// Modify request flags.
const (
	FlagForce         byte = 0x01
	FlagProgram       byte = 0x02
	FlagProgramMemory byte = 0x08
	FlagDataEEPROM    byte = 0x10
)

const (
	// Version is the only protocol version understood by the loader.
	Version byte = 1
	// Signature identifies the device family in the handshake.
	Signature = "dsPIC30F"
)

// Response sizes including the response identifier.
const (
	StartCommunicationResponseSize = 16
	ReadRowResponseSize            = 1 + 3*ReadRowWords
	StartFirmwareResponseSize      = 1
	ModifyResponseSize             = 2
)

// ReadRowWords is the number of words returned by a read row request.
const ReadRowWords = 32

// ExpectedResponseID returns the identifier of the response to a request:
// the one's complement of the request code.
func ExpectedResponseID(code byte) byte {
	return ^code
}

// SplitAddress splits a device address into the table page and the offset
// inside the page.
func SplitAddress(addr uint32) (tblpag byte, offset uint16) {
	return byte(addr >> 16), uint16(addr)
}

// JoinAddress is the inverse of SplitAddress.
func JoinAddress(tblpag byte, offset uint16) uint32 {
	return uint32(tblpag)<<16 | uint32(offset)
}

// Status is the result bitmask of a modify request.
type Status byte

const (
	StatusEraseDone    Status = 0x01
	StatusErrorErase   Status = 0x02
	StatusProgramDone  Status = 0x04
	StatusErrorProgram Status = 0x08
)

// Erased reports whether the row was erased.
func (s Status) Erased() bool { return s&StatusEraseDone != 0 }

// Programmed reports whether the row was programmed.
func (s Status) Programmed() bool { return s&StatusProgramDone != 0 }

// Failed reports whether the erase or the program verification failed.
func (s Status) Failed() bool { return s&(StatusErrorErase|StatusErrorProgram) != 0 }

// Err describes the failure carried by the status, if any.
func (s Status) Err() string {
	switch {
	case s&StatusErrorErase != 0:
		return "erase error"
	case s&StatusErrorProgram != 0:
		return "program error"
	}
	return ""
}

func (s Status) String() string {
	if s == 0 {
		return "unchanged"
	}
	var parts []string
	names := []struct {
		bit  Status
		name string
	}{
		{StatusEraseDone, "erased"},
		{StatusErrorErase, "erase error"},
		{StatusProgramDone, "programmed"},
		{StatusErrorProgram, "program error"},
	}
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
			s &^= n.bit
		}
	}
	if s != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", byte(s)))
	}
	return strings.Join(parts, ", ")
}
