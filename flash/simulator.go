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

package flash

import (
	"fmt"
	"sync"

	"github.com/dspicboot/dspic-loader/memory"
)

// Simulator is an in-memory flash controller for one device layout.
// Programming can only clear bits, like real flash cells, so a write without
// a preceding erase corrupts the row and fails verification.
//
// Addresses outside the layout read as zero, except DeviceIDAddress.
type Simulator struct {
	mu       sync.Mutex
	layout   *memory.Layout
	deviceID uint32
	words    map[uint32]uint32

	eraseCount   map[memory.Kind]int
	programCount map[memory.Kind]int

	failErase   map[uint32]bool
	failProgram map[uint32]bool
	stuckBits   map[uint32]uint32
}

// NewSimulator returns a fully erased flash. Configuration words start with
// every implemented fuse bit set.
func NewSimulator(layout *memory.Layout, deviceID uint32) *Simulator {
	s := &Simulator{
		layout:       layout,
		deviceID:     deviceID,
		words:        map[uint32]uint32{},
		eraseCount:   map[memory.Kind]int{},
		programCount: map[memory.Kind]int{},
		failErase:    map[uint32]bool{},
		failProgram:  map[uint32]bool{},
		stuckBits:    map[uint32]uint32{},
	}
	cfg := layout.Range(memory.Configuration)
	for addr := cfg.Address; addr < cfg.End(); addr += 2 {
		s.words[addr] = layout.ConfigMask(addr)
	}
	return s
}

// Layout returns the memory map of the simulated device.
func (s *Simulator) Layout() *memory.Layout {
	return s.layout
}

func (s *Simulator) read(addr uint32) uint32 {
	if addr == memory.DeviceIDAddress {
		return s.deviceID & 0xFFFF
	}
	kind, ok := s.layout.KindOf(addr &^ 1)
	if !ok {
		return 0
	}
	w, ok := s.words[addr&^1]
	if !ok {
		w = kind.WordMask()
	}
	return w & s.layout.WordMask(addr&^1)
}

// ReadWord implements Controller.
func (s *Simulator) ReadWord(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(addr)
}

func (s *Simulator) checkRow(kind memory.Kind, addr uint32) error {
	if kind == memory.Configuration {
		return fmt.Errorf("%s rows cannot be erased", kind)
	}
	if addr%kind.RowSize() != 0 {
		return fmt.Errorf("address 0x%06X is not aligned to a %s row", addr, kind)
	}
	if k, ok := s.layout.KindOf(addr); !ok || k != kind {
		return fmt.Errorf("address 0x%06X is outside the %s", addr, kind)
	}
	return nil
}

// EraseRow implements Controller.
func (s *Simulator) EraseRow(kind memory.Kind, addr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRow(kind, addr); err != nil {
		return err
	}
	s.eraseCount[kind]++
	if s.failErase[addr] {
		return nil
	}
	for i := 0; i < kind.RowWords(); i++ {
		a := addr + uint32(2*i)
		s.words[a] = kind.WordMask() &^ s.stuckBits[a]
	}
	return nil
}

// WriteRow implements Controller.
func (s *Simulator) WriteRow(kind memory.Kind, addr uint32, words []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRow(kind, addr); err != nil {
		return err
	}
	if len(words) != kind.RowWords() {
		return fmt.Errorf("%s row needs %d words, got %d", kind, kind.RowWords(), len(words))
	}
	s.programCount[kind]++
	if s.failProgram[addr] {
		return nil
	}
	for i, w := range words {
		a := addr + uint32(2*i)
		s.words[a] = s.read(a) & w & kind.WordMask()
	}
	return nil
}

// SetWord stores a word directly, bypassing the erase/program rules.
func (s *Simulator) SetWord(addr, w uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layout.KindOf(addr); !ok || addr&1 != 0 {
		return &memory.AddressError{Address: addr}
	}
	s.words[addr] = w & s.layout.WordMask(addr)
	return nil
}

// LoadImage stores every defined word of img.
func (s *Simulator) LoadImage(img *memory.FirmwareImage) error {
	for _, kind := range memory.Kinds {
		r := img.Layout().Range(kind)
		for addr := r.Address; addr < r.End(); addr += 2 {
			if w := img.Get(addr); w != memory.Undefined {
				if err := s.SetWord(addr, w); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Image returns the content of the flash as a firmware image.
func (s *Simulator) Image() *memory.FirmwareImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := memory.NewFirmwareImage(s.layout)
	for _, kind := range memory.Kinds {
		r := s.layout.Range(kind)
		for addr := r.Address; addr < r.End(); addr += 2 {
			_ = img.Set(addr, s.read(addr))
		}
	}
	return img
}

// EraseCount returns the number of row erases performed in a region.
func (s *Simulator) EraseCount(kind memory.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eraseCount[kind]
}

// ProgramCount returns the number of row writes performed in a region.
func (s *Simulator) ProgramCount(kind memory.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programCount[kind]
}

// FailErase makes erases of the row at addr leave the row untouched.
func (s *Simulator) FailErase(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErase[addr] = true
}

// FailProgram makes writes of the row at addr leave the row untouched.
func (s *Simulator) FailProgram(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProgram[addr] = true
}

// StickBits makes the given bits of the word at addr read as zero after
// every erase.
func (s *Simulator) StickBits(addr, bits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuckBits[addr] = bits
}
