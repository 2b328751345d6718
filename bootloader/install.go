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

package bootloader

import (
	"fmt"

	"github.com/dspicboot/dspic-loader/flash"
	"github.com/dspicboot/dspic-loader/memory"
)

// vectorSlots is the number of interrupt vectors relocated to the jump table.
const vectorSlots = 30

// Install writes the resident part of a bootloader into a simulated flash:
// the reset vector jumping to the bootloader code, interrupt vectors pointing
// at the jump table trampolines and the code rows themselves. The jump table
// is left erased.
func Install(sim *flash.Simulator, cfg Config) error {
	layout := sim.Layout()
	rowSize := memory.Program.RowSize()
	base := cfg.BaseAddress
	size := uint32(cfg.Size)
	if base%rowSize != 0 || size%rowSize != 0 || size <= 2*rowSize {
		return fmt.Errorf("invalid bootloader area 0x%06X size 0x%X", base, size)
	}
	if base+size > layout.Range(memory.Program).End() {
		return fmt.Errorf("bootloader area 0x%06X-0x%06X is outside the program memory", base, base+size)
	}

	entry := base + 2*rowSize
	words := map[uint32]uint32{
		0: 0x040000 | entry&0x00FFFE,
		2: (entry >> 16) & 0x7F,
	}
	for k := uint32(0); k < vectorSlots; k++ {
		words[4+2*k] = base + 8 + 4*k
	}
	// the bootloader code, NOPs will do
	for addr := entry; addr < base+size; addr += 2 {
		words[addr] = 0x000000
	}
	for addr, w := range words {
		if err := sim.SetWord(addr, w); err != nil {
			return err
		}
	}
	return nil
}
