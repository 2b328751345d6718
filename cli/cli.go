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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/cli/arguments"
	"github.com/dspicboot/dspic-loader/cli/common"
	"github.com/dspicboot/dspic-loader/cli/emulate"
	"github.com/dspicboot/dspic-loader/cli/feedback"
	"github.com/dspicboot/dspic-loader/cli/globals"
	"github.com/dspicboot/dspic-loader/cli/loader"
	"github.com/dspicboot/dspic-loader/cli/version"
	"github.com/dspicboot/dspic-loader/config"
	"github.com/dspicboot/dspic-loader/devices"
	v "github.com/dspicboot/dspic-loader/version"
	"github.com/mattn/go-colorable"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flags         = &arguments.Flags{}
	outputFormat  string
	verbose       bool
	logFile       string
	logFormat     string
	logLevel      string
	configFile    string
	forceProgress bool
)

// NewCommand created a new `dspic-loader` root command
func NewCommand() *cobra.Command {
	loaderCli := &cobra.Command{
		Use:   "dspic-loader [flags] <port> [hex file]",
		Short: "Serial loader for the dsPIC30F bootloader.",
		Long: "dspic-loader programs, verifies, reads back and erases a dsPIC30F running the serial bootloader.\n" +
			"With a port only it shows the device information, or erases it with --erase.\n" +
			"With a port and a hex file it needs one of --program, --verify or --load.",
		Example: "  " + os.Args[0] + " COM1\n" +
			"  " + os.Args[0] + " --program --timeout=10 /dev/ttyUSB0 firmware.hex\n" +
			"  " + os.Args[0] + " --load --all /dev/ttyUSB0 dump.hex",
		Args:             cobra.ArbitraryArgs,
		Run:              run,
		PersistentPreRun: preRun,
	}

	loaderCli.AddCommand(version.NewCommand())
	loaderCli.AddCommand(emulate.NewCommand())

	flags.AddToCommand(loaderCli)
	loaderCli.Flags().BoolVar(&forceProgress, "progress", false, "Print the progress marks even when the output is not a terminal.")
	loaderCli.PersistentFlags().StringVar(&outputFormat, "format", "text", "The output format, can be {text|json}.")
	loaderCli.PersistentFlags().StringVar(&configFile, "config", "", "Path to the configuration file (default: ~/"+config.FileName+").")
	loaderCli.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to the file where logs will be written")
	loaderCli.PersistentFlags().StringVar(&logFormat, "log-format", "", "The output format for the logs, can be {text|json}.")
	loaderCli.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Messages with this level and above will be logged. Valid levels are: trace, debug, info, warn, error, fatal, panic")
	loaderCli.PersistentFlags().BoolVar(&verbose, "verbose", false, "Print the logs on the standard output.")

	return loaderCli
}

func run(cmd *cobra.Command, args []string) {
	op, err := flags.Operation(args)
	if err != nil {
		feedback.FatalError(err, feedback.ErrBadArgument)
	}
	if op == arguments.Help {
		cmd.Help()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l := &loader.Loader{
		Open:    common.OpenSerial,
		Index:   globals.Index,
		Session: globals.Config.SessionOptions(),
		Out:     common.Output(forceProgress),
	}
	res, err := l.Run(ctx, op, flags, args)
	if err != nil {
		feedback.FatalError(err, feedback.ErrGeneric)
	}
	feedback.PrintResult(res)
}

// Convert the string passed to the `--log-level` option to the corresponding
// logrus formal level.
func toLogLevel(s string) (t logrus.Level, found bool) {
	t, found = map[string]logrus.Level{
		"trace": logrus.TraceLevel,
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}[s]

	return
}

func preRun(cmd *cobra.Command, args []string) {
	// Prepare logging
	if verbose {
		// if we print on stdout, do it in full colors
		logrus.SetOutput(colorable.NewColorableStdout())
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors: term.IsTerminal(int(os.Stdout.Fd())),
		})
	} else {
		logrus.SetOutput(io.Discard)
	}

	// Normalize the format strings
	logFormat = strings.ToLower(logFormat)
	if logFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Printf("Unable to open file for logging: %s", logFile)
			os.Exit(int(feedback.ErrBadArgument))
		}

		// Use a hook so we don't get color codes in the log file
		if logFormat == "json" {
			logrus.AddHook(lfshook.NewHook(file, &logrus.JSONFormatter{}))
		} else {
			logrus.AddHook(lfshook.NewHook(file, &logrus.TextFormatter{}))
		}
	}

	// Configure logging filter
	if lvl, found := toLogLevel(logLevel); !found {
		feedback.Fatal(fmt.Sprintf("Invalid option for --log-level: %s", logLevel), feedback.ErrBadArgument)
	} else {
		logrus.SetLevel(lvl)
	}

	//
	// Prepare the Feedback system
	//

	// normalize the format strings
	outputFormat = strings.ToLower(outputFormat)
	// check the right output format was passed
	format, found := feedback.ParseOutputFormat(outputFormat)
	if !found {
		feedback.Fatal(fmt.Sprintf("Invalid output format: %s", outputFormat), feedback.ErrBadArgument)
	}
	// use the output format to configure the Feedback
	feedback.SetFormat(format)

	logrus.Info(v.VersionInfo)

	loadConfig()

	if outputFormat != "text" {
		cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
			logrus.Warn("Calling help on JSON format")
			feedback.Fatal("Invalid Call : should show Help, but it is available only in TEXT mode.", feedback.ErrBadArgument)
		})
	}
}

// loadConfig reads the configuration file and the device table it points
// to. A missing default file is not an error.
func loadConfig() {
	path := paths.New(configFile)
	if path == nil {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			logrus.Warnf("Cannot locate the home directory: %s", err)
			return
		}
		if !defaultPath.Exist() {
			return
		}
		path = defaultPath
	} else if !path.Exist() {
		feedback.Fatal(fmt.Sprintf("Config file not found: %s", path), feedback.ErrNoConfigFile)
	}

	cfg, err := config.Load(path)
	if err != nil {
		feedback.FatalError(err, feedback.ErrBadArgument)
	}
	logrus.Infof("Using config file %s", path)
	globals.Config = cfg

	if cfg.Devices != nil {
		index, err := devices.LoadIndex(cfg.Devices)
		if err != nil {
			feedback.FatalError(fmt.Errorf("loading device table: %w", err), feedback.ErrBadArgument)
		}
		globals.Index = index
	}
}
