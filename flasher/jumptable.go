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
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/session"
)

// The hardware fetches the reset and interrupt vectors from the first
// program memory row, which belongs to the bootloader. The application
// vectors are moved to a jump table at the bootloader base address: the
// reset GOTO first, then one GOTO per interrupt vector.
const (
	resetVectorSize = 4
	// two reserved words follow the reset GOTO
	jumpTableHeader = 8
	vectorTableEnd  = 64
	gotoOpcode      = 0x040000
)

// Patch moves the vectors of img into the jump table.
func Patch(params session.BootloaderParams, img *memory.FirmwareImage) error {
	addr := params.BaseAddress
	for i := uint32(0); i < resetVectorSize; i += 2 {
		if err := img.Set(addr+i, img.Get(i)); err != nil {
			return err
		}
		img.Clear(i)
	}

	addr += jumpTableHeader
	for i := uint32(resetVectorSize); i < vectorTableEnd; i += 2 {
		v := img.Get(i)
		img.Clear(i)
		if err := img.Set(addr, gotoOpcode|v&0x00FFFE); err != nil {
			return err
		}
		if err := img.Set(addr+2, (v>>16)&0x7F); err != nil {
			return err
		}
		addr += 4
	}
	return nil
}

// Unpatch moves the vectors of the jump table back to their hardware slots.
func Unpatch(params session.BootloaderParams, img *memory.FirmwareImage) error {
	addr := params.BaseAddress
	for i := uint32(0); i < resetVectorSize; i += 2 {
		if err := img.Set(i, img.Get(addr+i)); err != nil {
			return err
		}
		img.Clear(addr + i)
	}

	addr += jumpTableHeader
	for i := uint32(resetVectorSize); i < vectorTableEnd; i += 2 {
		v := img.Get(addr) & 0x00FFFE
		img.Clear(addr)
		v |= (img.Get(addr+2) & 0x7F) << 16
		img.Clear(addr + 2)
		if err := img.Set(i, v); err != nil {
			return err
		}
		addr += 4
	}
	return nil
}

// CheckImage verifies that img can be programmed under the bootloader: it
// leaves the bootloader area alone and starts with a GOTO.
func CheckImage(params session.BootloaderParams, img *memory.FirmwareImage) error {
	end := params.BaseAddress + params.Size
	for addr := params.BaseAddress; addr < end; addr += 2 {
		if img.Defined(addr) {
			return &BootloaderOverlapError{Start: params.BaseAddress, End: end}
		}
	}

	w0 := img.Get(0)
	w2 := img.Get(2)
	if w0&0xFFFF0001 != gotoOpcode || w2&0xFFFFFF80 != 0 {
		return ErrMissingResetVector
	}
	return nil
}

// protectedRow reports whether the program memory row at addr must be left
// out of erase and program passes: row 0 holds the hardware vectors and the
// rows after the jump table hold the bootloader code.
func protectedRow(params session.BootloaderParams, addr uint32) bool {
	return addr == 0 || params.Protected().Contains(addr)
}
