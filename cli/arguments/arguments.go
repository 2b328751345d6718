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

package arguments

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// Operation is the action selected by the command line.
type Operation int

const (
	// Help prints the usage.
	Help Operation = iota
	// Info identifies the device.
	Info
	// Program writes a hex file to the device.
	Program
	// Verify compares the device with a hex file.
	Verify
	// Load reads the device into a hex file.
	Load
	// Erase erases the application.
	Erase
)

func (o Operation) String() string {
	switch o {
	case Help:
		return "help"
	case Info:
		return "info"
	case Program:
		return "program"
	case Verify:
		return "verify"
	case Load:
		return "load"
	case Erase:
		return "erase"
	}
	return "unknown"
}

var (
	// ErrIncompatibleOptions is returned when options of different operations
	// are mixed.
	ErrIncompatibleOptions = errors.New("Incompatible options (use -h to show all available options)")
	// ErrTooManyArguments is returned when more than a port and a file are given.
	ErrTooManyArguments = errors.New("Too many arguments (use -h to show all available options)")
)

// options accepted by each operation
var allowed = map[Operation][]string{
	Help:    {},
	Info:    {"info", "timeout", "model"},
	Program: {"program", "timeout", "erase", "no-run", "force", "model"},
	Verify:  {"verify", "timeout", "model"},
	Load:    {"load", "timeout", "all", "no-smart", "model"},
	Erase:   {"erase", "timeout", "force", "model"},
}

var optionNames = []string{"info", "program", "verify", "load", "erase", "timeout", "no-run", "force", "model", "all", "no-smart"}

// Flags contains the operation flags of the loader.
type Flags struct {
	Info    bool
	Program bool
	Verify  bool
	Load    bool
	Erase   bool
	Timeout uint
	NoRun   bool
	Force   bool
	Model   string
	All     bool
	NoSmart bool

	cmd *cobra.Command
}

// AddToCommand adds the operation flags to the specified Command
func (f *Flags) AddToCommand(cmd *cobra.Command) {
	f.cmd = cmd
	cmd.Flags().BoolVarP(&f.Info, "info", "i", false, "Show the device information (default with a port only)")
	cmd.Flags().BoolVarP(&f.Program, "program", "p", false, "Program the hex file into the device")
	cmd.Flags().BoolVarP(&f.Verify, "verify", "v", false, "Verify the device against the hex file")
	cmd.Flags().BoolVarP(&f.Load, "load", "l", false, "Load the device content into the hex file")
	cmd.Flags().BoolVarP(&f.Erase, "erase", "e", false, "Erase the device, or erase unused rows when programming")
	cmd.Flags().UintVarP(&f.Timeout, "timeout", "t", 0, "Seconds to wait for the bootloader, 0 waits forever")
	cmd.Flags().BoolVarP(&f.NoRun, "no-run", "r", false, "Do not start the firmware after programming")
	cmd.Flags().BoolVarP(&f.Force, "force", "f", false, "Erase and program rows even when they already match")
	cmd.Flags().StringVarP(&f.Model, "model", "m", "", "Expected device model, e.g.: dsPIC30F4011")
	cmd.Flags().BoolVarP(&f.All, "all", "a", false, "Load the bootloader area and the jump table too")
	cmd.Flags().BoolVarP(&f.NoSmart, "no-smart", "s", false, "Keep erased rows in the loaded hex file")
}

// HandshakeTimeout returns the timeout as a duration.
func (f *Flags) HandshakeTimeout() time.Duration {
	return time.Duration(f.Timeout) * time.Second
}

func (f *Flags) changed() map[string]bool {
	set := map[string]bool{}
	for _, name := range optionNames {
		if f.cmd.Flags().Changed(name) {
			set[name] = true
		}
	}
	return set
}

// Operation selects the operation from the positional arguments and the
// options, and checks that every option given is allowed for it.
func (f *Flags) Operation(args []string) (Operation, error) {
	op, err := f.selectOperation(len(args))
	if err != nil {
		return op, err
	}
	allow := map[string]bool{}
	for _, name := range allowed[op] {
		allow[name] = true
	}
	for name := range f.changed() {
		if !allow[name] {
			return op, ErrIncompatibleOptions
		}
	}
	return op, nil
}

func (f *Flags) selectOperation(argc int) (Operation, error) {
	switch argc {
	case 0:
		return Help, nil
	case 1:
		if !f.Program && !f.Load && !f.Erase {
			return Info, nil
		}
		if f.Erase {
			return Erase, nil
		}
		return Help, ErrIncompatibleOptions
	case 2:
		switch {
		case f.Program:
			return Program, nil
		case f.Verify:
			return Verify, nil
		case f.Load:
			return Load, nil
		}
		return Help, ErrIncompatibleOptions
	}
	return Help, ErrTooManyArguments
}
