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

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dspicboot/dspic-loader/memory"
)

// Request is a packet sent by the loader.
type Request interface {
	Code() byte
	Encode() []byte
}

// StartCommunicationRequest opens a session. It is accepted at any time.
type StartCommunicationRequest struct{}

func (StartCommunicationRequest) Code() byte { return CodeStartCommunication }

func (r StartCommunicationRequest) Encode() []byte { return []byte{r.Code()} }

// ReadRowRequest reads the 32 words starting at Address.
type ReadRowRequest struct {
	Address uint32
}

func (ReadRowRequest) Code() byte { return CodeReadRow }

func (r ReadRowRequest) Encode() []byte {
	tblpag, offset := SplitAddress(r.Address)
	b := []byte{r.Code(), tblpag, 0, 0}
	binary.LittleEndian.PutUint16(b[2:], offset)
	return b
}

// StartFirmwareRequest asks the bootloader to jump to the application.
type StartFirmwareRequest struct{}

func (StartFirmwareRequest) Code() byte { return CodeStartFirmware }

func (r StartFirmwareRequest) Encode() []byte { return []byte{r.Code()} }

// ModifyRequest erases and optionally programs one row. Flags is kept as
// received so the response echoes the exact request code.
type ModifyRequest struct {
	Flags   byte
	Address uint32
	// Words holds one row of data, only when the program flag is set.
	Words []uint32
}

// NewModifyRequest builds a modify request for a program memory or data
// EEPROM row.
func NewModifyRequest(kind memory.Kind, addr uint32, words []uint32, program, force bool) (*ModifyRequest, error) {
	var flags byte
	switch kind {
	case memory.Program:
		flags = FlagProgramMemory
	case memory.DataEEPROM:
		flags = FlagDataEEPROM
	default:
		return nil, fmt.Errorf("%s cannot be modified", kind)
	}
	if addr%kind.RowSize() != 0 {
		return nil, fmt.Errorf("address 0x%06X is not aligned to a %s row", addr, kind)
	}
	req := &ModifyRequest{Flags: flags, Address: addr}
	if force {
		req.Flags |= FlagForce
	}
	if program {
		if len(words) != kind.RowWords() {
			return nil, fmt.Errorf("%s row needs %d words, got %d", kind, kind.RowWords(), len(words))
		}
		req.Flags |= FlagProgram
		req.Words = append([]uint32(nil), words...)
	}
	return req, nil
}

func (r *ModifyRequest) Code() byte { return r.Flags }

// Region returns the targeted region. Program memory takes precedence when
// both region flags are set.
func (r *ModifyRequest) Region() memory.Kind {
	if r.Flags&FlagProgramMemory != 0 {
		return memory.Program
	}
	return memory.DataEEPROM
}

// Program reports whether the row is written after the erase.
func (r *ModifyRequest) Program() bool { return r.Flags&FlagProgram != 0 }

// Force reports whether the unchanged row optimisation is bypassed.
func (r *ModifyRequest) Force() bool { return r.Flags&FlagForce != 0 }

func (r *ModifyRequest) Encode() []byte {
	tblpag, offset := SplitAddress(r.Address)
	b := make([]byte, 4, 4+3*len(r.Words))
	b[0] = r.Flags
	b[1] = tblpag
	binary.LittleEndian.PutUint16(b[2:], offset)
	if !r.Program() {
		return b
	}
	for _, w := range r.Words {
		if r.Region() == memory.Program {
			b = append(b, byte(w), byte(w>>8), byte(w>>16))
		} else {
			b = append(b, byte(w), byte(w>>8))
		}
	}
	return b
}

func wordSize(k memory.Kind) int {
	if k == memory.Program {
		return 3
	}
	return 2
}

// ErrEmptyRequest is returned when decoding an empty packet.
var ErrEmptyRequest = errors.New("empty request")

// UnknownRequestError is returned for a request code the bootloader does not
// handle.
type UnknownRequestError struct {
	Code byte
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown request code 0x%02X", e.Code)
}

// ShortRequestError is returned when a request packet is truncated.
type ShortRequestError struct {
	Code byte
	Size int
	Want int
}

func (e *ShortRequestError) Error() string {
	return fmt.Sprintf("request code 0x%02X has %d bytes, expected %d", e.Code, e.Size, e.Want)
}

// DecodeRequest parses a packet received by the bootloader.
func DecodeRequest(p []byte) (Request, error) {
	if len(p) == 0 {
		return nil, ErrEmptyRequest
	}
	code := p[0]
	switch code {
	case CodeStartCommunication:
		return StartCommunicationRequest{}, nil
	case CodeStartFirmware:
		return StartFirmwareRequest{}, nil
	case CodeReadRow:
		if len(p) < 4 {
			return nil, &ShortRequestError{Code: code, Size: len(p), Want: 4}
		}
		return ReadRowRequest{Address: JoinAddress(p[1], binary.LittleEndian.Uint16(p[2:]))}, nil
	}
	if code&(FlagProgramMemory|FlagDataEEPROM) == 0 {
		return nil, &UnknownRequestError{Code: code}
	}
	if len(p) < 4 {
		return nil, &ShortRequestError{Code: code, Size: len(p), Want: 4}
	}
	req := &ModifyRequest{
		Flags:   code,
		Address: JoinAddress(p[1], binary.LittleEndian.Uint16(p[2:])),
	}
	if !req.Program() {
		return req, nil
	}
	kind := req.Region()
	size := wordSize(kind)
	want := 4 + size*kind.RowWords()
	if len(p) < want {
		return nil, &ShortRequestError{Code: code, Size: len(p), Want: want}
	}
	req.Words = make([]uint32, kind.RowWords())
	data := p[4:]
	for i := range req.Words {
		w := uint32(data[i*size]) | uint32(data[i*size+1])<<8
		if size == 3 {
			w |= uint32(data[i*size+2]) << 16
		}
		req.Words[i] = w
	}
	return req, nil
}
