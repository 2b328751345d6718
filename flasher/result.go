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
	"fmt"
	"strings"
	"time"

	"github.com/dspicboot/dspic-loader/session"
)

// Result is the outcome of an operation, printable as text or JSON.
type Result struct {
	Operation  string                   `json:"operation"`
	Device     string                   `json:"device"`
	DeviceID   uint32                   `json:"device_id"`
	Bootloader session.BootloaderParams `json:"bootloader"`
	Duration   time.Duration            `json:"-"`
	DurationMs int64                    `json:"duration_ms"`
	Statistic  session.Statistic        `json:"statistic"`
	Message    string                   `json:"message,omitempty"`
}

func (f *DsPICFlasher) result(operation, message string) *Result {
	d := f.conn.ConnectionTime()
	return &Result{
		Operation:  operation,
		Device:     f.device.Name,
		DeviceID:   f.device.ID,
		Bootloader: f.conn.Params(),
		Duration:   d,
		DurationMs: d.Milliseconds(),
		Statistic:  f.conn.Statistic(),
		Message:    message,
	}
}

func (r *Result) String() string {
	if r.Operation == "info" {
		return ""
	}
	var sb strings.Builder
	ms := r.Duration.Milliseconds()
	fmt.Fprintf(&sb, "Total time: %d.%01d sec\n", ms/1000, (ms%1000)/100)
	if r.Operation == "program" || r.Operation == "erase" {
		fmt.Fprintf(&sb, "Program memory: erase = %d, program = %d\n",
			r.Statistic.ProgramMemoryEraseCount, r.Statistic.ProgramMemoryProgramCount)
		fmt.Fprintf(&sb, "Data EEPROM: erase = %d, program = %d\n",
			r.Statistic.DataEEPROMEraseCount, r.Statistic.DataEEPROMProgramCount)
	}
	sb.WriteString(r.Message)
	return sb.String()
}

// Data implements feedback.Result interface
func (r *Result) Data() interface{} {
	return r
}
