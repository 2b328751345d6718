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
	"fmt"
)

// Response is a packet sent by the bootloader.
type Response interface {
	Encode() []byte
}

// StartCommunicationResponse answers the handshake.
type StartCommunicationResponse struct {
	Version        byte
	Signature      [8]byte
	BootloaderSize uint16
	BootloaderBase uint32
}

// NewStartCommunicationResponse builds the handshake answer of a bootloader
// resident at base.
func NewStartCommunicationResponse(base uint32, size uint16) StartCommunicationResponse {
	r := StartCommunicationResponse{
		Version:        Version,
		BootloaderSize: size,
		BootloaderBase: base,
	}
	copy(r.Signature[:], Signature)
	return r
}

func (r StartCommunicationResponse) Encode() []byte {
	b := make([]byte, StartCommunicationResponseSize)
	b[0] = CodeStartCommunicationResponse
	b[1] = r.Version
	copy(b[2:10], r.Signature[:])
	binary.LittleEndian.PutUint16(b[10:], r.BootloaderSize)
	binary.LittleEndian.PutUint32(b[12:], r.BootloaderBase)
	return b
}

// ReadRowResponse carries 32 words of 24 bits.
type ReadRowResponse struct {
	Words [ReadRowWords]uint32
}

func (r ReadRowResponse) Encode() []byte {
	b := make([]byte, 1, ReadRowResponseSize)
	b[0] = CodeReadRowResponse
	for _, w := range r.Words {
		b = append(b, byte(w), byte(w>>8), byte(w>>16))
	}
	return b
}

// StartFirmwareResponse acknowledges a start firmware request.
type StartFirmwareResponse struct{}

func (StartFirmwareResponse) Encode() []byte {
	return []byte{CodeStartFirmwareResponse}
}

// ModifyResponse reports the outcome of a modify request.
type ModifyResponse struct {
	RequestCode byte
	Status      Status
}

func (r ModifyResponse) Encode() []byte {
	return []byte{ExpectedResponseID(r.RequestCode), byte(r.Status)}
}

// ResponseError is returned when a response packet does not have the
// expected shape.
type ResponseError struct {
	ID   byte
	Size int
	Want int
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("wrong size for response code 0x%02X: %d bytes, expected %d", e.ID, e.Size, e.Want)
}

func checkResponse(p []byte, id byte, want int, exact bool) error {
	if len(p) == 0 {
		return &ResponseError{Want: want}
	}
	if p[0] != id {
		return fmt.Errorf("unexpected response code 0x%02X, expected 0x%02X", p[0], id)
	}
	if len(p) < want || (exact && len(p) != want) {
		return &ResponseError{ID: p[0], Size: len(p), Want: want}
	}
	return nil
}

// DecodeStartCommunicationResponse parses a handshake answer. Trailing bytes
// are ignored.
func DecodeStartCommunicationResponse(p []byte) (StartCommunicationResponse, error) {
	var r StartCommunicationResponse
	if err := checkResponse(p, CodeStartCommunicationResponse, StartCommunicationResponseSize, false); err != nil {
		return r, err
	}
	r.Version = p[1]
	copy(r.Signature[:], p[2:10])
	r.BootloaderSize = binary.LittleEndian.Uint16(p[10:])
	r.BootloaderBase = binary.LittleEndian.Uint32(p[12:])
	return r, nil
}

// DecodeReadRowResponse parses the answer to a read row request.
func DecodeReadRowResponse(p []byte) (ReadRowResponse, error) {
	var r ReadRowResponse
	if err := checkResponse(p, CodeReadRowResponse, ReadRowResponseSize, true); err != nil {
		return r, err
	}
	data := p[1:]
	for i := range r.Words {
		r.Words[i] = uint32(data[3*i]) | uint32(data[3*i+1])<<8 | uint32(data[3*i+2])<<16
	}
	return r, nil
}

// DecodeModifyResponse parses the answer to the modify request with the
// given code.
func DecodeModifyResponse(code byte, p []byte) (ModifyResponse, error) {
	if err := checkResponse(p, ExpectedResponseID(code), ModifyResponseSize, true); err != nil {
		return ModifyResponse{}, err
	}
	return ModifyResponse{RequestCode: code, Status: Status(p[1])}, nil
}
