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

// Package hexfile loads and stores firmware images as Intel-HEX files in the
// layout produced by the Microchip toolchain: every word takes four bytes,
// little endian, at byte address 2*address.
package hexfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
)

const bytesPerWord = 4

// Read parses an Intel-HEX stream into an image over layout.
func Read(r io.Reader, layout *memory.Layout) (*memory.FirmwareImage, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}

	img := memory.NewFirmwareImage(layout)
	for _, segment := range mem.GetDataSegments() {
		if segment.Address%bytesPerWord != 0 {
			return nil, fmt.Errorf("segment at 0x%08X is not word aligned", segment.Address)
		}
		if len(segment.Data)%bytesPerWord != 0 {
			return nil, fmt.Errorf("segment at 0x%08X has a partial word (%d bytes)", segment.Address, len(segment.Data))
		}
		addr := segment.Address / 2
		for p := segment.Data; len(p) > 0; p = p[bytesPerWord:] {
			w := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
			if err := img.Set(addr, w); err != nil {
				return nil, err
			}
			addr += 2
		}
		logrus.Debugf("hexfile: loaded %d words at 0x%06X", len(segment.Data)/bytesPerWord, segment.Address/2)
	}
	return img, nil
}

// Load reads an Intel-HEX file into an image over layout.
func Load(file *paths.Path, layout *memory.Layout) (*memory.FirmwareImage, error) {
	data, err := file.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("file open error: %w", err)
	}
	img, err := Read(bytes.NewReader(data), layout)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", file, err)
	}
	return img, nil
}

// Write stores every defined word of img as Intel-HEX, regions in address
// order, 16 data bytes per record.
func Write(w io.Writer, img *memory.FirmwareImage) error {
	mem := gohex.NewMemory()
	for _, kind := range memory.Kinds {
		r := img.Layout().Range(kind)
		var run []byte
		var runStart uint32
		flush := func() error {
			if len(run) == 0 {
				return nil
			}
			err := mem.AddBinary(runStart*2, run)
			run = nil
			return err
		}
		for addr := r.Address; addr < r.End(); addr += 2 {
			word := img.Get(addr)
			if word == memory.Undefined {
				if err := flush(); err != nil {
					return err
				}
				continue
			}
			if len(run) == 0 {
				runStart = addr
			}
			run = append(run, byte(word), byte(word>>8), byte(word>>16), byte(word>>24))
		}
		if err := flush(); err != nil {
			return err
		}
	}
	return mem.DumpIntelHex(w, 16)
}

// Save writes img to file.
func Save(file *paths.Path, img *memory.FirmwareImage) error {
	var buf bytes.Buffer
	if err := Write(&buf, img); err != nil {
		return err
	}
	if err := file.WriteFile(buf.Bytes()); err != nil {
		return fmt.Errorf("file write error: %w", err)
	}
	return nil
}
