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

package session

import (
	"errors"
	"fmt"

	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/protocol"
)

var (
	// ErrConnectionTimeout is returned when no bootloader answered the
	// handshake in time.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrUnsupportedSignature is returned when the bootloader belongs to
	// another device family.
	ErrUnsupportedSignature = errors.New("unsupported device signature")
	// ErrNotConnected is returned when a request is issued before the
	// handshake.
	ErrNotConnected = errors.New("not connected")
)

// UnsupportedVersionError is returned when the bootloader speaks another
// protocol version.
type UnsupportedVersionError struct {
	Version byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version (%d)", e.Version)
}

// ResponseSizeError is returned when a response has the expected code but
// not the expected size. It means both ends disagree on the protocol and is
// never retried.
type ResponseSizeError struct {
	Code byte
	Size int
	Want int
}

func (e *ResponseSizeError) Error() string {
	return fmt.Sprintf("wrong size for response code 0x%02X (%d bytes, expected %d)", e.Code, e.Size, e.Want)
}

// NoAnswerError is returned when every attempt of a request timed out.
type NoAnswerError struct {
	Code byte
}

func (e *NoAnswerError) Error() string {
	return fmt.Sprintf("no answer from request code 0x%02X", e.Code)
}

// ModifyError is returned when the bootloader reports a failed erase or
// program verification.
type ModifyError struct {
	Kind    memory.Kind
	Address uint32
	Status  protocol.Status
}

func (e *ModifyError) Error() string {
	return fmt.Sprintf("error executing the %s operation at 0x%06X: %s", e.Kind, e.Address, e.Status.Err())
}
