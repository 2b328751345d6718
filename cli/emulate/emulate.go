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

package emulate

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/bootloader"
	"github.com/dspicboot/dspic-loader/cli/feedback"
	"github.com/dspicboot/dspic-loader/cli/globals"
	"github.com/dspicboot/dspic-loader/clock"
	"github.com/dspicboot/dspic-loader/flash"
	"github.com/dspicboot/dspic-loader/flasher"
	"github.com/dspicboot/dspic-loader/hexfile"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	model     string
	base      uint32
	size      uint16
	image     string
	dump      string
	waitTicks int
)

// NewCommand created a new `emulate` command
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "emulate <port>",
		Short: "Runs a simulated device on a serial port.",
		Long: "Runs the bootloader on a simulated dsPIC30F flash and serves it on a serial port, " +
			"e.g. one end of a virtual serial pair, until the application is started or the command is interrupted.",
		Example: "  " + os.Args[0] + " emulate /dev/pts/3 --model dsPIC30F4011 --image firmware.hex",
		Args:    cobra.ExactArgs(1),
		Run:     run,
	}
	command.Flags().StringVarP(&model, "model", "m", "dsPIC30F4011", "Device model to simulate")
	command.Flags().Uint32Var(&base, "base", 0, "Bootloader base address (default: end of program memory minus the size)")
	command.Flags().Uint16Var(&size, "size", 0x400, "Bootloader size")
	command.Flags().StringVar(&image, "image", "", "Hex file preloaded as the application")
	command.Flags().StringVar(&dump, "dump", "", "Hex file where the flash content is written on exit")
	command.Flags().IntVar(&waitTicks, "wait", bootloader.DefaultWaitTicks, "Ticks of 100 ms waited for a handshake before starting the application")
	return command
}

// Result summarizes an emulation run.
type Result struct {
	Device     string                   `json:"device"`
	Bootloader session.BootloaderParams `json:"bootloader"`
	Started    bool                     `json:"started"`
	Entry      uint32                   `json:"entry,omitempty"`
	Erases     int                      `json:"erases"`
	Writes     int                      `json:"writes"`
}

func (r *Result) String() string {
	s := fmt.Sprintf("Device: %s\nBootloader: %s\nRow erases: %d, row writes: %d", r.Device, r.Bootloader, r.Erases, r.Writes)
	if r.Started {
		s += fmt.Sprintf("\nApplication started at 0x%06X", r.Entry)
	}
	return s
}

// Data implements feedback.Result interface
func (r *Result) Data() interface{} {
	return r
}

func run(cmd *cobra.Command, args []string) {
	desc := globals.Index.Find(model)
	if desc == nil {
		feedback.Fatal(fmt.Sprintf("Unknown device model: %s", model), feedback.ErrBadArgument)
		return
	}
	layout, err := desc.Layout()
	if err != nil {
		feedback.FatalError(err, feedback.ErrGeneric)
		return
	}
	if !cmd.Flags().Changed("base") {
		base = layout.Range(memory.Program).End() - uint32(size)
	}
	cfg := bootloader.Config{BaseAddress: base, Size: size, WaitTicks: waitTicks}

	sim, err := newFlash(desc.ID, layout, cfg)
	if err != nil {
		feedback.FatalError(err, feedback.ErrGeneric)
		return
	}

	port, err := serial.Open(args[0], &serial.Mode{BaudRate: globals.Config.Serial.BaudRate})
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error opening serial port %s: %s", args[0], err), feedback.ErrGeneric)
		return
	}
	defer port.Close()

	uart := bootloader.NewStreamUART(port, bootloader.DefaultReceiveWait)
	hw := bootloader.NewSoftHardware(clock.System, func(addr uint32) {
		logrus.Infof("Starting the application at 0x%06X", addr)
	})
	device := bootloader.New(cfg, uart, sim, hw)
	logrus.Infof("Emulating %s on %s, bootloader at 0x%06X", desc.Name, args[0], base)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := device.Run(ctx); err != nil {
		logrus.Info(err)
	}

	if dump != "" {
		if err := hexfile.Save(paths.New(dump), sim.Image()); err != nil {
			feedback.FatalError(err, feedback.ErrGeneric)
			return
		}
	}

	started, entry := hw.Started()
	res := &Result{
		Device:     desc.Name,
		Bootloader: session.BootloaderParams{BaseAddress: base, Size: uint32(size)},
		Started:    started,
		Entry:      entry,
	}
	for _, kind := range memory.Kinds {
		res.Erases += sim.EraseCount(kind)
		res.Writes += sim.ProgramCount(kind)
	}
	feedback.PrintResult(res)
}

// newFlash returns a simulated flash holding the bootloader and, when an
// image was given, the application relocated under it.
func newFlash(deviceID uint32, layout *memory.Layout, cfg bootloader.Config) (*flash.Simulator, error) {
	sim := flash.NewSimulator(layout, deviceID)
	if err := bootloader.Install(sim, cfg); err != nil {
		return nil, err
	}
	if image == "" {
		return sim, nil
	}

	img, err := hexfile.Load(paths.New(image), layout)
	if err != nil {
		return nil, err
	}
	params := session.BootloaderParams{BaseAddress: cfg.BaseAddress, Size: uint32(cfg.Size)}
	if err := flasher.CheckImage(params, img); err != nil {
		return nil, err
	}
	if err := flasher.Patch(params, img); err != nil {
		return nil, err
	}
	// the bootloader owns the vectors row
	img.ClearRow(0, memory.Program.RowWords())
	if err := sim.LoadImage(img); err != nil {
		return nil, err
	}
	return sim, nil
}
