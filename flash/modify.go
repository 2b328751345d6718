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

// Package flash implements the row modify algorithm run by the bootloader
// and an in-memory flash controller used by the emulator and the tests.
package flash

import (
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/protocol"
	"github.com/sirupsen/logrus"
)

// Controller is the flash controller of the device. ReadWord returns the
// implemented bits of a word; erase and write results are only trusted after
// reading the row back.
type Controller interface {
	ReadWord(addr uint32) uint32
	EraseRow(kind memory.Kind, addr uint32) error
	WriteRow(kind memory.Kind, addr uint32, words []uint32) error
}

// ReadRow reads count consecutive words starting at addr.
func ReadRow(ctrl Controller, addr uint32, count int) []uint32 {
	row := make([]uint32, count)
	for i := range row {
		row[i] = ctrl.ReadWord(addr + uint32(2*i))
	}
	return row
}

func rowErased(ctrl Controller, kind memory.Kind, addr uint32) bool {
	mask := kind.WordMask()
	for i := 0; i < kind.RowWords(); i++ {
		if ctrl.ReadWord(addr+uint32(2*i))&mask != mask {
			return false
		}
	}
	return true
}

func rowMatches(ctrl Controller, kind memory.Kind, addr uint32, data []uint32) bool {
	mask := kind.WordMask()
	for i := 0; i < kind.RowWords(); i++ {
		if (ctrl.ReadWord(addr+uint32(2*i))^data[i])&mask != 0 {
			return false
		}
	}
	return true
}

// Modify brings the row at addr to the requested state with as few erase and
// program cycles as possible. data must hold a full row when program is set.
func Modify(ctrl Controller, kind memory.Kind, addr uint32, data []uint32, program, force bool) protocol.Status {
	var status protocol.Status

	if program && !force && rowMatches(ctrl, kind, addr, data) {
		return status
	}

	if force || !rowErased(ctrl, kind, addr) {
		if err := ctrl.EraseRow(kind, addr); err != nil {
			logrus.Debugf("flash: erase %s row 0x%06X: %s", kind, addr, err)
		}
		status |= protocol.StatusEraseDone
		if !rowErased(ctrl, kind, addr) {
			return status | protocol.StatusErrorErase
		}
	}

	if program && (force || !rowMatches(ctrl, kind, addr, data)) {
		if err := ctrl.WriteRow(kind, addr, data); err != nil {
			logrus.Debugf("flash: write %s row 0x%06X: %s", kind, addr, err)
		}
		status |= protocol.StatusProgramDone
		if !rowMatches(ctrl, kind, addr, data) {
			return status | protocol.StatusErrorProgram
		}
	}

	return status
}
