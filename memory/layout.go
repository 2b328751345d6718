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

// Package memory describes the address space of a dsPIC30F device and holds
// firmware images as address to word maps.
//
// Addresses are program counter units: every word occupies two address units.
package memory

import (
	"fmt"
)

// Kind identifies one of the memory regions of the device.
type Kind int

const (
	Program Kind = iota
	DataEEPROM
	Configuration
)

// Kinds lists every region in the order images are written out.
var Kinds = []Kind{Program, DataEEPROM, Configuration}

func (k Kind) String() string {
	switch k {
	case Program:
		return "program memory"
	case DataEEPROM:
		return "data EEPROM"
	case Configuration:
		return "config memory"
	}
	return fmt.Sprintf("memory kind %d", int(k))
}

// RowSize is the erase/program granularity of the region in address units.
func (k Kind) RowSize() uint32 {
	switch k {
	case Program:
		return 64
	case DataEEPROM:
		return 32
	default:
		return 2
	}
}

// RowWords is the number of words in a row.
func (k Kind) RowWords() int {
	return int(k.RowSize() / 2)
}

// WordMask selects the implemented bits of a word.
func (k Kind) WordMask() uint32 {
	if k == Program {
		return 0x00FFFFFF
	}
	return 0x0000FFFF
}

// Undefined marks a word not present in an image. It never collides with a
// value read from the device since every word mask clears the top byte.
const Undefined uint32 = 0xFFFFFFFF

const (
	// DataEEPROMEnd is the first address past the data EEPROM.
	DataEEPROMEnd uint32 = 0x800000
	// ConfigurationBase is the address of the first configuration fuse.
	ConfigurationBase uint32 = 0xF80000
	// DeviceIDAddress holds the DEVID word.
	DeviceIDAddress uint32 = 0xFF0000
)

// Range is a span of addresses.
type Range struct {
	Address uint32
	Size    uint32
}

// End returns the first address past the range.
func (r Range) End() uint32 {
	return r.Address + r.Size
}

// Contains reports whether addr falls inside the range.
func (r Range) Contains(addr uint32) bool {
	return addr >= r.Address && addr < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("0x%06X-0x%06X", r.Address, r.End())
}

// Layout is the memory map of a device model.
type Layout struct {
	ranges      [3]Range
	configMasks []uint32
}

// NewLayout builds the memory map of a device with the given program memory
// and data EEPROM sizes. The configuration region holds one word per fuse
// mask.
func NewLayout(programSize, eepromSize uint32, configMasks []uint32) (*Layout, error) {
	if programSize == 0 || programSize%Program.RowSize() != 0 {
		return nil, fmt.Errorf("invalid program memory size 0x%X", programSize)
	}
	if eepromSize%DataEEPROM.RowSize() != 0 || eepromSize > DataEEPROMEnd-programSize {
		return nil, fmt.Errorf("invalid data EEPROM size 0x%X", eepromSize)
	}
	l := &Layout{configMasks: append([]uint32(nil), configMasks...)}
	l.ranges[Program] = Range{Address: 0, Size: programSize}
	l.ranges[DataEEPROM] = Range{Address: DataEEPROMEnd - eepromSize, Size: eepromSize}
	l.ranges[Configuration] = Range{Address: ConfigurationBase, Size: uint32(2 * len(configMasks))}
	return l, nil
}

// Range returns the address span of a region.
func (l *Layout) Range(k Kind) Range {
	return l.ranges[k]
}

// KindOf returns the region containing addr.
func (l *Layout) KindOf(addr uint32) (Kind, bool) {
	for _, k := range Kinds {
		if l.ranges[k].Contains(addr) {
			return k, true
		}
	}
	return 0, false
}

// ConfigMasks returns the implemented bits of every configuration word.
func (l *Layout) ConfigMasks() []uint32 {
	return append([]uint32(nil), l.configMasks...)
}

// ConfigMask returns the implemented bits of the configuration word at addr.
func (l *Layout) ConfigMask(addr uint32) uint32 {
	r := l.ranges[Configuration]
	if !r.Contains(addr) {
		return 0
	}
	return l.configMasks[(addr-r.Address)/2]
}

// WordMask returns the implemented bits of the word at addr: the fuse mask for
// configuration words, the region word mask otherwise.
func (l *Layout) WordMask(addr uint32) uint32 {
	k, ok := l.KindOf(addr)
	if !ok {
		return 0
	}
	if k == Configuration {
		return l.ConfigMask(addr)
	}
	return k.WordMask()
}
