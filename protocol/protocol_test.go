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
	"testing"

	"github.com/dspicboot/dspic-loader/memory"
	"github.com/stretchr/testify/require"
)

func TestExpectedResponseID(t *testing.T) {
	require.Equal(t, CodeStartCommunicationResponse, ExpectedResponseID(CodeStartCommunication))
	require.Equal(t, CodeReadRowResponse, ExpectedResponseID(CodeReadRow))
	require.Equal(t, CodeStartFirmwareResponse, ExpectedResponseID(CodeStartFirmware))
	require.Equal(t, byte(0xF5), ExpectedResponseID(FlagProgramMemory|FlagProgram))
}

func TestAddressSplit(t *testing.T) {
	tblpag, offset := SplitAddress(0xFF0000)
	require.Equal(t, byte(0xFF), tblpag)
	require.Equal(t, uint16(0), offset)
	tblpag, offset = SplitAddress(0x017FC0)
	require.Equal(t, byte(0x01), tblpag)
	require.Equal(t, uint16(0x7FC0), offset)
	require.Equal(t, uint32(0x017FC0), JoinAddress(tblpag, offset))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "unchanged", Status(0).String())
	require.Equal(t, "erased, programmed", (StatusEraseDone | StatusProgramDone).String())
	require.Equal(t, "erased, erase error", (StatusEraseDone | StatusErrorErase).String())
	require.Equal(t, "programmed, 0x80", Status(0x84).String())

	s := StatusEraseDone | StatusProgramDone | StatusErrorProgram
	require.True(t, s.Erased())
	require.True(t, s.Programmed())
	require.True(t, s.Failed())
	require.Equal(t, "program error", s.Err())
	require.False(t, (StatusEraseDone | StatusProgramDone).Failed())
	require.Equal(t, "erase error", (StatusEraseDone | StatusErrorErase).Err())
}

func TestReadRowRequest(t *testing.T) {
	req := ReadRowRequest{Address: 0xFF0000}
	require.Equal(t, []byte{0x01, 0xFF, 0x00, 0x00}, req.Encode())

	decoded, err := DecodeRequest([]byte{0x01, 0x00, 0x40, 0x01})
	require.NoError(t, err)
	require.Equal(t, ReadRowRequest{Address: 0x000140}, decoded)

	_, err = DecodeRequest([]byte{0x01, 0x00})
	var short *ShortRequestError
	require.ErrorAs(t, err, &short)
}

func TestSimpleRequests(t *testing.T) {
	req, err := DecodeRequest([]byte{0x00})
	require.NoError(t, err)
	require.Equal(t, StartCommunicationRequest{}, req)
	require.Equal(t, []byte{0x00}, req.Encode())

	req, err = DecodeRequest([]byte{0x03})
	require.NoError(t, err)
	require.Equal(t, StartFirmwareRequest{}, req)
	require.Equal(t, []byte{0x03}, req.Encode())

	_, err = DecodeRequest(nil)
	require.ErrorIs(t, err, ErrEmptyRequest)

	_, err = DecodeRequest([]byte{0x02, 0x00, 0x00, 0x00})
	var unknown *UnknownRequestError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, byte(0x02), unknown.Code)
}

func TestModifyProgramMemoryRequest(t *testing.T) {
	words := make([]uint32, 32)
	for i := range words {
		words[i] = uint32(0x0A0B0C + i)
	}
	req, err := NewModifyRequest(memory.Program, 0x012340, words, true, false)
	require.NoError(t, err)
	require.Equal(t, FlagProgramMemory|FlagProgram, req.Code())

	b := req.Encode()
	require.Len(t, b, 4+96)
	require.Equal(t, []byte{0x0A, 0x01, 0x40, 0x23, 0x0C, 0x0B, 0x0A}, b[:7])

	decoded, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestModifyDataEEPROMRequest(t *testing.T) {
	words := make([]uint32, 16)
	for i := range words {
		words[i] = uint32(0xBEEF - i)
	}
	req, err := NewModifyRequest(memory.DataEEPROM, 0x7FFC20, words, true, true)
	require.NoError(t, err)
	require.Equal(t, FlagDataEEPROM|FlagProgram|FlagForce, req.Code())
	require.True(t, req.Force())

	b := req.Encode()
	require.Len(t, b, 4+32)
	require.Equal(t, []byte{0xEF, 0xBE}, b[4:6])

	decoded, err := DecodeRequest(b)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestModifyEraseOnlyRequest(t *testing.T) {
	req, err := NewModifyRequest(memory.Program, 0x7C00, nil, false, true)
	require.NoError(t, err)
	require.Equal(t, []byte{0x09, 0x00, 0x00, 0x7C}, req.Encode())
	require.False(t, req.Program())

	decoded, err := DecodeRequest(req.Encode())
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestModifyRequestValidation(t *testing.T) {
	_, err := NewModifyRequest(memory.Configuration, 0xF80000, nil, false, false)
	require.Error(t, err)
	_, err = NewModifyRequest(memory.Program, 0x20, nil, false, false)
	require.Error(t, err)
	_, err = NewModifyRequest(memory.DataEEPROM, 0x7FFC00, make([]uint32, 32), true, false)
	require.Error(t, err)

	// program flag without the row data
	_, err = DecodeRequest([]byte{FlagProgramMemory | FlagProgram, 0x00, 0x00, 0x01})
	var short *ShortRequestError
	require.ErrorAs(t, err, &short)
	require.Equal(t, 100, short.Want)
}

func TestModifyRegionPrecedence(t *testing.T) {
	code := FlagProgramMemory | FlagDataEEPROM
	req, err := DecodeRequest([]byte{code, 0x00, 0x40, 0x00})
	require.NoError(t, err)
	modify := req.(*ModifyRequest)
	require.Equal(t, memory.Program, modify.Region())
	require.Equal(t, code, modify.Code())
	require.Equal(t, []byte{^code, 0x00}, ModifyResponse{RequestCode: code}.Encode())
}
