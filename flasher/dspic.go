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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dspicboot/dspic-loader/devices"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/session"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/sirupsen/logrus"
)

// progressStep is the address distance between two progress dots.
const progressStep = 1024

// Options configures Connect.
type Options struct {
	// Timeout bounds the handshake, zero waits forever.
	Timeout time.Duration
	// Model, when set, is the device model the user expects.
	Model string
	// Session options, e.g. the retry policy.
	Session []session.Option
	// Out receives the progress messages.
	Out io.Writer
}

// ProgramOptions configures Program.
type ProgramOptions struct {
	// Erase also erases the rows the image leaves undefined.
	Erase bool
	// Force rewrites rows that already hold the image content.
	Force bool
	// NoRun leaves the device in the bootloader.
	NoRun bool
}

// LoadOptions configures Load.
type LoadOptions struct {
	// All reads the bootloader too and keeps the jump table as is.
	All bool
	// NoSmart keeps erased rows in the image.
	NoSmart bool
}

// DsPICFlasher runs the loader operations on a connected device.
type DsPICFlasher struct {
	channel transport.Channel
	conn    *session.Connection
	device  *devices.Descriptor
	layout  *memory.Layout
	out     io.Writer
}

// Connect performs the handshake on channel and identifies the device.
func Connect(channel transport.Channel, index *devices.Index, opts Options) (*DsPICFlasher, error) {
	f := &DsPICFlasher{channel: channel, out: opts.Out}
	if f.out == nil {
		f.out = io.Discard
	}

	f.printf("Connecting to device...\n")
	// a star marks every unanswered request
	sessionOpts := append([]session.Option{session.WithRetryCallback(func(byte) { f.printf("*") })}, opts.Session...)
	f.conn = session.New(channel, sessionOpts...)
	if err := f.conn.Handshake(opts.Timeout); err != nil {
		logrus.Error(err)
		return nil, err
	}
	params := f.conn.Params()
	f.printf("Bootloader: %s\n", params)

	row, err := f.conn.ReadRow(memory.DeviceIDAddress)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	deviceID := row[0] & 0xFFFF
	device := index.Lookup(deviceID)
	if device == nil {
		err := &UnknownDeviceError{ID: deviceID}
		logrus.Error(err)
		return nil, err
	}
	f.printf("Device: %s\n", device.Name)
	if !device.Supported() {
		err := &UnsupportedDeviceError{Name: device.Name}
		logrus.Error(err)
		return nil, err
	}
	if !modelMatches(opts.Model, device.Name) {
		err := &WrongModelError{Expected: opts.Model, Found: device.Name}
		logrus.Error(err)
		return nil, err
	}

	layout, err := device.Layout()
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.device = device
	f.layout = layout
	logrus.Infof("Connected to %s (0x%04X)", device.Name, device.ID)
	return f, nil
}

// Device returns the descriptor of the connected device.
func (f *DsPICFlasher) Device() *devices.Descriptor {
	return f.device
}

// Layout returns the memory map of the connected device.
func (f *DsPICFlasher) Layout() *memory.Layout {
	return f.layout
}

// Params returns the parameters of the resident bootloader.
func (f *DsPICFlasher) Params() session.BootloaderParams {
	return f.conn.Params()
}

// Connection returns the underlying session.
func (f *DsPICFlasher) Connection() *session.Connection {
	return f.conn
}

// Close closes the channel when it can be closed.
func (f *DsPICFlasher) Close() error {
	if c, ok := f.channel.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (f *DsPICFlasher) printf(format string, args ...interface{}) {
	fmt.Fprintf(f.out, format, args...)
}

func (f *DsPICFlasher) progress(addr uint32) {
	if addr%progressStep == 0 {
		f.printf(".")
	}
}

// Info returns the identification of the device.
func (f *DsPICFlasher) Info() *Result {
	return f.result("info", "")
}

// Program writes img to the device. The first jump table row is erased
// first and written last, so an interrupted update leaves the device in the
// bootloader.
func (f *DsPICFlasher) Program(ctx context.Context, img *memory.FirmwareImage, opts ProgramOptions) (*Result, error) {
	img = img.Clone()
	if err := f.checkImage(ctx, img); err != nil {
		logrus.Error(err)
		return nil, err
	}
	params := f.conn.Params()
	if err := Patch(params, img); err != nil {
		logrus.Error(err)
		return nil, err
	}

	f.printf("Erasing the jump table")
	if err := f.writeProgramRow(params.BaseAddress, nil, false, opts.Force); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.printf("\n")

	f.printf("Programming program memory")
	rowSize := memory.Program.RowSize()
	mask := memory.Program.WordMask()
	r := f.layout.Range(memory.Program)
	for addr := r.Address; addr < r.End(); addr += rowSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := img.Row(addr, memory.Program.RowWords())
		if addr != params.BaseAddress && !protectedRow(params, addr) && (opts.Erase || !memory.RowUndefined(row)) {
			if err := f.writeProgramRow(addr, row, !memory.RowErased(row, mask), opts.Force); err != nil {
				logrus.Error(err)
				return nil, err
			}
		}
		f.progress(addr)
	}
	f.printf("\n")

	f.printf("Programming data EEPROM")
	rowSize = memory.DataEEPROM.RowSize()
	mask = memory.DataEEPROM.WordMask()
	r = f.layout.Range(memory.DataEEPROM)
	for addr := r.Address; addr < r.End(); addr += rowSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := img.Row(addr, memory.DataEEPROM.RowWords())
		if opts.Erase || !memory.RowUndefined(row) {
			if err := f.conn.WriteDataEEPROM(addr, row, !memory.RowErased(row, mask), opts.Force); err != nil {
				logrus.Error(err)
				return nil, err
			}
		}
		f.progress(addr)
	}
	f.printf("\n")

	f.printf("Programming the jump table")
	jumpTable := img.Row(params.BaseAddress, memory.Program.RowWords())
	if err := f.writeProgramRow(params.BaseAddress, jumpTable, true, false); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.printf("\n")

	if !opts.NoRun {
		f.printf("Starting the target firmware\n")
		if err := f.conn.StartFirmware(); err != nil {
			logrus.Error(err)
			return nil, err
		}
	}

	return f.result("program", "Operation has been complete"), nil
}

// Verify compares the device content with img.
func (f *DsPICFlasher) Verify(ctx context.Context, img *memory.FirmwareImage) (*Result, error) {
	img = img.Clone()
	if err := f.checkImage(ctx, img); err != nil {
		logrus.Error(err)
		return nil, err
	}
	if err := Patch(f.conn.Params(), img); err != nil {
		logrus.Error(err)
		return nil, err
	}

	f.printf("Verifying program memory")
	if err := f.verifyRange(ctx, img, memory.Program); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.printf("\n")

	f.printf("Verifying data EEPROM")
	if err := f.verifyRange(ctx, img, memory.DataEEPROM); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.printf("\n")

	return f.result("verify", "Verification passed"), nil
}

// verifyRange compares a region one read row at a time.
func (f *DsPICFlasher) verifyRange(ctx context.Context, img *memory.FirmwareImage, kind memory.Kind) error {
	rowSize := memory.Program.RowSize()
	r := f.layout.Range(kind)
	for addr := r.Address; addr < r.End(); addr += rowSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := img.Row(addr, memory.Program.RowWords())
		if !memory.RowUndefined(want) {
			got, err := f.conn.ReadRow(addr)
			if err != nil {
				return err
			}
			if !memory.RowEqual(want, got, kind.WordMask()) {
				return &VerifyError{Address: addr}
			}
		}
		f.progress(addr)
	}
	return nil
}

// Load reads the firmware back from the device.
func (f *DsPICFlasher) Load(ctx context.Context, opts LoadOptions) (*memory.FirmwareImage, *Result, error) {
	img := memory.NewFirmwareImage(f.layout)
	params := f.conn.Params()
	rowSize := memory.Program.RowSize()

	f.printf("Loading jump table\n")
	jumpTable, err := f.readRange(ctx, memory.Range{Address: params.BaseAddress, Size: rowSize})
	if err != nil {
		logrus.Error(err)
		return nil, nil, err
	}
	if jumpTable[0] == memory.Program.WordMask() {
		logrus.Error(ErrNoValidFirmware)
		return nil, nil, ErrNoValidFirmware
	}
	if err := img.SetRow(params.BaseAddress, jumpTable); err != nil {
		logrus.Error(err)
		return nil, nil, err
	}

	f.printf("Loading program memory")
	r := f.layout.Range(memory.Program)
	for addr := r.Address; addr < r.End(); addr += rowSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if addr != params.BaseAddress && (opts.All || !protectedRow(params, addr)) {
			row, err := f.conn.ReadRow(addr)
			if err != nil {
				logrus.Error(err)
				return nil, nil, err
			}
			if err := img.SetRow(addr, row); err != nil {
				logrus.Error(err)
				return nil, nil, err
			}
		}
		f.progress(addr)
	}
	f.printf("\n")

	f.printf("Loading data EEPROM")
	eeprom, err := f.readRange(ctx, f.layout.Range(memory.DataEEPROM))
	if err != nil {
		logrus.Error(err)
		return nil, nil, err
	}
	for i := range eeprom {
		eeprom[i] &= memory.DataEEPROM.WordMask()
	}
	if err := img.SetRow(f.layout.Range(memory.DataEEPROM).Address, eeprom); err != nil {
		logrus.Error(err)
		return nil, nil, err
	}
	f.printf("\n")

	f.printf("Reading config memory")
	cfgRange := f.layout.Range(memory.Configuration)
	config, err := f.readRange(ctx, cfgRange)
	if err != nil {
		logrus.Error(err)
		return nil, nil, err
	}
	for i, mask := range f.layout.ConfigMasks() {
		config[i] = (config[i] | ^mask) & memory.Configuration.WordMask()
	}
	if err := img.SetRow(cfgRange.Address, config); err != nil {
		logrus.Error(err)
		return nil, nil, err
	}
	f.printf("\n")

	if !opts.All {
		if err := Unpatch(params, img); err != nil {
			logrus.Error(err)
			return nil, nil, err
		}
	}

	if !opts.NoSmart {
		dropErasedRows(img, memory.Program)
		dropErasedRows(img, memory.DataEEPROM)
	}

	return img, f.result("load", "Firmware image loaded"), nil
}

func dropErasedRows(img *memory.FirmwareImage, kind memory.Kind) {
	r := img.Layout().Range(kind)
	for addr := r.Address; addr < r.End(); addr += kind.RowSize() {
		if memory.RowErased(img.Row(addr, kind.RowWords()), kind.WordMask()) {
			img.ClearRow(addr, kind.RowWords())
		}
	}
}

// Erase erases the whole application area and the data EEPROM.
func (f *DsPICFlasher) Erase(ctx context.Context, force bool) (*Result, error) {
	params := f.conn.Params()

	f.printf("Erasing the jump table")
	if err := f.writeProgramRow(params.BaseAddress, nil, false, force); err != nil {
		logrus.Error(err)
		return nil, err
	}
	f.printf("\n")

	f.printf("Erasing program memory")
	r := f.layout.Range(memory.Program)
	for addr := r.Address; addr < r.End(); addr += memory.Program.RowSize() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if addr != params.BaseAddress && !protectedRow(params, addr) {
			if err := f.writeProgramRow(addr, nil, false, force); err != nil {
				logrus.Error(err)
				return nil, err
			}
		}
		f.progress(addr)
	}
	f.printf("\n")

	f.printf("Erasing data EEPROM")
	r = f.layout.Range(memory.DataEEPROM)
	for addr := r.Address; addr < r.End(); addr += memory.DataEEPROM.RowSize() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := f.conn.WriteDataEEPROM(addr, nil, false, force); err != nil {
			logrus.Error(err)
			return nil, err
		}
		f.progress(addr)
	}
	f.printf("\n")

	return f.result("erase", "Operation has been complete"), nil
}

// writeProgramRow refuses to touch the bootloader code whatever the caller
// asks for.
func (f *DsPICFlasher) writeProgramRow(addr uint32, row []uint32, program, force bool) error {
	if protectedRow(f.conn.Params(), addr) {
		return FlasherError{err: fmt.Sprintf("refusing to modify the protected row at 0x%06X", addr)}
	}
	return f.conn.WriteProgramMemory(addr, row, program, force)
}

// readRange reads the words of r, 32 at a time.
func (f *DsPICFlasher) readRange(ctx context.Context, r memory.Range) ([]uint32, error) {
	words := make([]uint32, 0, r.Size/2)
	for addr := r.Address; addr < r.End(); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := f.conn.ReadRow(addr)
		if err != nil {
			return nil, err
		}
		for _, w := range row {
			words = append(words, w)
			addr += 2
			if addr == r.End() {
				break
			}
		}
		f.progress(addr)
	}
	return words, nil
}

// checkImage runs CheckImage and compares the configuration fuses of the
// image with the device's, since the bootloader cannot program them.
func (f *DsPICFlasher) checkImage(ctx context.Context, img *memory.FirmwareImage) error {
	if err := CheckImage(f.conn.Params(), img); err != nil {
		return err
	}

	cfgRange := f.layout.Range(memory.Configuration)
	f.printf("Reading config memory")
	config, err := f.readRange(ctx, cfgRange)
	if err != nil {
		return err
	}
	f.printf("\n")

	for i, mask := range f.layout.ConfigMasks() {
		addr := cfgRange.Address + uint32(2*i)
		firmware := img.Get(addr)
		if firmware == memory.Undefined {
			continue
		}
		if (firmware^config[i])&mask != 0 {
			return &ConfigMismatchError{Address: addr, Device: config[i] & mask, Firmware: firmware & mask}
		}
	}
	return nil
}
