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

package memory

import "fmt"

// AddressError reports an access outside the layout of an image.
type AddressError struct {
	Address uint32
}

func (e *AddressError) Error() string {
	if e.Address&1 != 0 {
		return fmt.Sprintf("odd address 0x%06X", e.Address)
	}
	return fmt.Sprintf("unknown memory type at address 0x%06X", e.Address)
}

// FirmwareImage maps every address of a layout to a word. Words that were
// never set read as Undefined.
type FirmwareImage struct {
	layout *Layout
	words  [3][]uint32
}

// NewFirmwareImage returns an empty image over layout.
func NewFirmwareImage(layout *Layout) *FirmwareImage {
	img := &FirmwareImage{layout: layout}
	for _, k := range Kinds {
		words := make([]uint32, layout.Range(k).Size/2)
		for i := range words {
			words[i] = Undefined
		}
		img.words[k] = words
	}
	return img
}

// Layout returns the memory map of the image.
func (img *FirmwareImage) Layout() *Layout {
	return img.layout
}

func (img *FirmwareImage) slot(addr uint32) (*uint32, bool) {
	if addr&1 != 0 {
		return nil, false
	}
	k, ok := img.layout.KindOf(addr)
	if !ok {
		return nil, false
	}
	return &img.words[k][(addr-img.layout.Range(k).Address)/2], true
}

// Get returns the word at addr, or Undefined outside the layout.
func (img *FirmwareImage) Get(addr uint32) uint32 {
	if p, ok := img.slot(addr); ok {
		return *p
	}
	return Undefined
}

// Defined reports whether the word at addr has been set.
func (img *FirmwareImage) Defined(addr uint32) bool {
	return img.Get(addr) != Undefined
}

// Set stores w at addr.
func (img *FirmwareImage) Set(addr, w uint32) error {
	p, ok := img.slot(addr)
	if !ok {
		return &AddressError{Address: addr}
	}
	*p = w
	return nil
}

// Clear marks the word at addr as undefined.
func (img *FirmwareImage) Clear(addr uint32) {
	if p, ok := img.slot(addr); ok {
		*p = Undefined
	}
}

// Row returns a copy of count words starting at addr.
func (img *FirmwareImage) Row(addr uint32, count int) []uint32 {
	row := make([]uint32, count)
	for i := range row {
		row[i] = img.Get(addr + uint32(2*i))
	}
	return row
}

// SetRow stores consecutive words starting at addr.
func (img *FirmwareImage) SetRow(addr uint32, words []uint32) error {
	for i, w := range words {
		if err := img.Set(addr+uint32(2*i), w); err != nil {
			return err
		}
	}
	return nil
}

// ClearRow marks count words starting at addr as undefined.
func (img *FirmwareImage) ClearRow(addr uint32, count int) {
	for i := 0; i < count; i++ {
		img.Clear(addr + uint32(2*i))
	}
}

// Words returns a copy of all the words of a region.
func (img *FirmwareImage) Words(k Kind) []uint32 {
	return append([]uint32(nil), img.words[k]...)
}

// Clone returns a deep copy of the image.
func (img *FirmwareImage) Clone() *FirmwareImage {
	c := &FirmwareImage{layout: img.layout}
	for _, k := range Kinds {
		c.words[k] = img.Words(k)
	}
	return c
}

// Empty reports whether no word of the image is defined.
func (img *FirmwareImage) Empty() bool {
	for _, k := range Kinds {
		if !RowUndefined(img.words[k]) {
			return false
		}
	}
	return true
}

// RowUndefined reports whether no word of row is defined.
func RowUndefined(row []uint32) bool {
	for _, w := range row {
		if w != Undefined {
			return false
		}
	}
	return true
}

// RowErased reports whether every word of row has all the bits of mask set.
// Undefined words count as erased.
func RowErased(row []uint32, mask uint32) bool {
	for _, w := range row {
		if w&mask != mask {
			return false
		}
	}
	return true
}

// RowEqual compares the masked words of want and got. Undefined words of want
// are not compared.
func RowEqual(want, got []uint32, mask uint32) bool {
	if len(want) != len(got) {
		return false
	}
	for i, w := range want {
		if w == Undefined {
			continue
		}
		if (w^got[i])&mask != 0 {
			return false
		}
	}
	return true
}
