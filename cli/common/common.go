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

package common

import (
	"io"
	"os"

	"github.com/dspicboot/dspic-loader/cli/feedback"
	"github.com/dspicboot/dspic-loader/cli/globals"
	"github.com/dspicboot/dspic-loader/flasher"
	"github.com/dspicboot/dspic-loader/transport"
	"golang.org/x/term"
)

// OpenSerial opens a serial port with the configured baud rate.
func OpenSerial(port string) (transport.Channel, error) {
	return flasher.OpenSerial(port, globals.Config.Serial.BaudRate)
}

// Output returns where the progress messages of the loader are written. In
// JSON mode they are dropped, in text mode the progress marks are only kept
// on terminals unless forceProgress is set.
func Output(forceProgress bool) io.Writer {
	if feedback.GetFormat() != feedback.Text {
		return io.Discard
	}
	if forceProgress || term.IsTerminal(int(os.Stdout.Fd())) {
		return os.Stdout
	}
	return &markFilter{w: os.Stdout}
}

// markFilter drops the single character progress and retry marks.
type markFilter struct {
	w io.Writer
}

func (m *markFilter) Write(p []byte) (int, error) {
	if len(p) == 1 && (p[0] == '.' || p[0] == '*') {
		return 1, nil
	}
	return m.w.Write(p)
}
