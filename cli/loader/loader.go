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

// Package loader runs the command line operations against a device.
package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/cli/arguments"
	"github.com/dspicboot/dspic-loader/cli/feedback"
	"github.com/dspicboot/dspic-loader/devices"
	"github.com/dspicboot/dspic-loader/flasher"
	"github.com/dspicboot/dspic-loader/hexfile"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/session"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/sirupsen/logrus"
)

// Loader connects to the port named on the command line and runs an
// operation.
type Loader struct {
	Open    func(port string) (transport.Channel, error)
	Index   *devices.Index
	Session []session.Option
	Out     io.Writer
}

// Run performs op. args holds the port and, for the operations that need
// one, the hex file.
func (l *Loader) Run(ctx context.Context, op arguments.Operation, flags *arguments.Flags, args []string) (feedback.Result, error) {
	if op == arguments.Help || len(args) == 0 {
		return nil, fmt.Errorf("nothing to run for %s", op)
	}
	if l.Out == nil {
		l.Out = io.Discard
	}
	channel, err := l.Open(args[0])
	if err != nil {
		return nil, err
	}
	f, err := flasher.Connect(channel, l.Index, flasher.Options{
		Timeout: flags.HandshakeTimeout(),
		Model:   flags.Model,
		Session: l.Session,
		Out:     l.Out,
	})
	if err != nil {
		if c, ok := channel.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	defer f.Close()

	switch op {
	case arguments.Info:
		return f.Info(), nil
	case arguments.Program:
		img, err := l.loadHex(args[1], f.Layout())
		if err != nil {
			return nil, err
		}
		return result(f.Program(ctx, img, flasher.ProgramOptions{Erase: flags.Erase, Force: flags.Force, NoRun: flags.NoRun}))
	case arguments.Verify:
		img, err := l.loadHex(args[1], f.Layout())
		if err != nil {
			return nil, err
		}
		return result(f.Verify(ctx, img))
	case arguments.Load:
		img, res, err := f.Load(ctx, flasher.LoadOptions{All: flags.All, NoSmart: flags.NoSmart})
		if err != nil {
			return nil, err
		}
		if err := hexfile.Save(paths.New(args[1]), img); err != nil {
			logrus.Error(err)
			return nil, err
		}
		return res, nil
	case arguments.Erase:
		return result(f.Erase(ctx, flags.Force))
	}
	return nil, fmt.Errorf("unknown operation %s", op)
}

func result(res *flasher.Result, err error) (feedback.Result, error) {
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Loader) loadHex(file string, layout *memory.Layout) (*memory.FirmwareImage, error) {
	fmt.Fprintf(l.Out, "Loading hex file...\n")
	img, err := hexfile.Load(paths.New(file), layout)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	return img, nil
}
