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

// Package devices holds the table of dsPIC30F models the loader knows about,
// keyed by the DEVID word read from the device.
package devices

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed devices.yaml
var builtinIndex []byte

// Descriptor represents a single device model of the index.
type Descriptor struct {
	ID                uint32   `yaml:"id"`
	Name              string   `yaml:"name"`
	Unsupported       bool     `yaml:"unsupported"`
	ProgramMemorySize uint32   `yaml:"program_memory_size"`
	DataEEPROMSize    uint32   `yaml:"data_eeprom_size"`
	ConfigMasks       []uint32 `yaml:"config_masks"`
}

// Supported reports whether the bootloader can program the model.
func (d *Descriptor) Supported() bool {
	return !d.Unsupported
}

// Layout returns the memory map of the model.
func (d *Descriptor) Layout() (*memory.Layout, error) {
	return memory.NewLayout(d.ProgramMemorySize, d.DataEEPROMSize, d.ConfigMasks)
}

func (d *Descriptor) String() string {
	return d.Name
}

// Index is a list of device descriptors.
type Index struct {
	Devices []*Descriptor
}

// Lookup returns the descriptor with the given DEVID, or nil.
func (i *Index) Lookup(id uint32) *Descriptor {
	for _, d := range i.Devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Find returns the descriptor with the given name, ignoring case, or nil.
func (i *Index) Find(name string) *Descriptor {
	for _, d := range i.Devices {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}

// Names lists the model names of the index.
func (i *Index) Names() []string {
	names := make([]string, 0, len(i.Devices))
	for _, d := range i.Devices {
		names = append(names, d.Name)
	}
	return names
}

func parseIndex(data []byte) (*Index, error) {
	var index Index
	if err := yaml.Unmarshal(data, &index.Devices); err != nil {
		return nil, err
	}
	seen := map[uint32]string{}
	for _, d := range index.Devices {
		if d.Name == "" {
			return nil, fmt.Errorf("device 0x%04X has no name", d.ID)
		}
		if other, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("devices %s and %s share the id 0x%04X", other, d.Name, d.ID)
		}
		seen[d.ID] = d.Name
		if _, err := d.Layout(); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
	}
	return &index, nil
}

// LoadIndex reads a device index from a YAML file.
func LoadIndex(indexFile *paths.Path) (*Index, error) {
	buff, err := indexFile.ReadFile()
	if err != nil {
		return nil, err
	}
	index, err := parseIndex(buff)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", indexFile, err)
	}
	logrus.WithField("index", indexFile).Infof("Loaded %d devices", len(index.Devices))
	return index, nil
}

// DefaultIndex returns the built-in device index.
func DefaultIndex() *Index {
	index, err := parseIndex(builtinIndex)
	if err != nil {
		panic(fmt.Sprintf("invalid builtin device index: %s", err))
	}
	return index
}
