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

package bootloader

import (
	"sync"
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/sirupsen/logrus"
)

// TickPeriod is the period of the bootloader timer.
const TickPeriod = 100 * time.Millisecond

// SoftHardware emulates the bootloader peripherals on top of a clock.
type SoftHardware struct {
	mu       sync.Mutex
	clock    clock.Clock
	next     time.Time
	led      bool
	watchdog int
	started  bool
	entry    uint32
	onStart  func(addr uint32)
}

// NewSoftHardware returns peripherals ticking on clk. onStart, if not nil, is
// called when the bootloader jumps to the application.
func NewSoftHardware(clk clock.Clock, onStart func(addr uint32)) *SoftHardware {
	return &SoftHardware{
		clock:   clk,
		next:    clk.Now().Add(TickPeriod),
		onStart: onStart,
	}
}

func (h *SoftHardware) ClearWatchdog() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchdog++
}

func (h *SoftHardware) TickElapsed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clock.Now().Before(h.next) {
		return false
	}
	h.next = h.next.Add(TickPeriod)
	return true
}

func (h *SoftHardware) SetLED(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.led = on
}

func (h *SoftHardware) StartFirmware(addr uint32) {
	h.mu.Lock()
	h.started = true
	h.entry = addr
	onStart := h.onStart
	h.mu.Unlock()

	logrus.Infof("Jumping to the application at 0x%06X", addr)
	if onStart != nil {
		onStart(addr)
	}
}

// LED returns the state of the LED.
func (h *SoftHardware) LED() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.led
}

// WatchdogClears returns how many times the watchdog was cleared.
func (h *SoftHardware) WatchdogClears() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchdog
}

// Started returns whether and where the application was started.
func (h *SoftHardware) Started() (bool, uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.entry
}
