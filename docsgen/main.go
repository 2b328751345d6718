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

// Package main writes the documentation of the dspic-loader command line,
// as Markdown pages or, with -man, as man pages.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dspicboot/dspic-loader/cli"
	"github.com/spf13/cobra/doc"
)

func main() {
	man := flag.Bool("man", false, "generate man pages instead of Markdown")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: docsgen [-man] <output folder>")
		os.Exit(1)
	}
	out := flag.Arg(0)
	if err := os.MkdirAll(out, 0755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	loaderCli := cli.NewCommand()
	loaderCli.DisableAutoGenTag = true
	var err error
	if *man {
		err = doc.GenManTree(loaderCli, &doc.GenManHeader{Title: "DSPIC-LOADER", Section: "1"}, out)
	} else {
		err = doc.GenMarkdownTree(loaderCli, out)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
