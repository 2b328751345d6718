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
	"context"
	"testing"
	"time"

	"github.com/dspicboot/dspic-loader/clock"
	"github.com/dspicboot/dspic-loader/flash"
	"github.com/dspicboot/dspic-loader/memory"
	"github.com/dspicboot/dspic-loader/protocol"
	"github.com/dspicboot/dspic-loader/session"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{BaseAddress: 0x7C00, Size: 0x400}

type bench struct {
	clock    *clock.Fake
	sim      *flash.Simulator
	hw       *SoftHardware
	link     *Loopback
	device   *Device
	received *transport.Receiver
}

func newBench(t *testing.T, withApplication bool) *bench {
	layout, err := memory.NewLayout(0x8000, 0x400, []uint32{0xC71F, 0x803F, 0x87B3, 0x0000, 0x0000, 0x0007, 0xC003})
	require.NoError(t, err)
	b := &bench{clock: clock.NewFake(), received: transport.NewReceiver(transport.MaxPayload)}
	b.sim = flash.NewSimulator(layout, 0x0101)
	require.NoError(t, Install(b.sim, testConfig))
	if withApplication {
		require.NoError(t, b.sim.SetWord(testConfig.BaseAddress, 0x040200))
		require.NoError(t, b.sim.SetWord(testConfig.BaseAddress+2, 0x000000))
	}
	b.hw = NewSoftHardware(b.clock, nil)
	b.link = NewLoopback(b.clock)
	b.device = New(testConfig, b.link.UART(), b.sim, b.hw)
	b.link.Attach(b.device)
	return b
}

// exchange sends one request packet and returns the answers.
func (b *bench) exchange(t *testing.T, payload []byte) [][]byte {
	frame, err := transport.Encode(payload)
	require.NoError(t, err)
	require.NoError(t, b.link.Write(frame))
	var out [][]byte
	for {
		c, ok, err := b.link.ReceiveByte(0)
		require.NoError(t, err)
		if !ok {
			return out
		}
		if p, ok := b.received.Feed(c); ok {
			out = append(out, p)
		}
	}
}

func (b *bench) connection() *session.Connection {
	return session.New(b.link, session.WithClock(b.clock))
}

func TestDeviceIgnoresRequestsBeforeHandshake(t *testing.T) {
	b := newBench(t, true)
	require.False(t, b.device.Connected())

	require.Empty(t, b.exchange(t, protocol.ReadRowRequest{Address: 0}.Encode()))
	require.Empty(t, b.exchange(t, protocol.StartFirmwareRequest{}.Encode()))
	require.False(t, b.device.Started())

	answers := b.exchange(t, protocol.StartCommunicationRequest{}.Encode())
	require.Len(t, answers, 1)
	resp, err := protocol.DecodeStartCommunicationResponse(answers[0])
	require.NoError(t, err)
	require.Equal(t, uint32(0x7C00), resp.BootloaderBase)
	require.Equal(t, uint16(0x400), resp.BootloaderSize)
	require.True(t, b.device.Connected())

	answers = b.exchange(t, protocol.ReadRowRequest{Address: 0}.Encode())
	require.Len(t, answers, 1)
	row, err := protocol.DecodeReadRowResponse(answers[0])
	require.NoError(t, err)
	require.Equal(t, uint32(0x040000|0x7C80), row.Words[0])
}

func TestDeviceIgnoresMalformedPackets(t *testing.T) {
	b := newBench(t, false)
	require.True(t, b.device.Connected())
	require.Empty(t, b.exchange(t, []byte{0x02, 0x00, 0x00, 0x00}))
	require.Empty(t, b.exchange(t, []byte{protocol.FlagProgramMemory | protocol.FlagProgram, 0x00, 0x40, 0x00}))
	require.Empty(t, b.exchange(t, []byte{protocol.CodeReadRow}))

	frame, err := transport.Encode(make([]byte, transport.DeviceMaxPayload+1))
	require.NoError(t, err)
	require.NoError(t, b.link.Write(frame))
	_, ok, err := b.link.ReceiveByte(0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeviceStartsApplicationAfterTimeout(t *testing.T) {
	b := newBench(t, true)
	for i := 0; i < DefaultWaitTicks-1; i++ {
		b.clock.Advance(TickPeriod)
		b.device.Step()
	}
	require.False(t, b.device.Started())
	b.clock.Advance(TickPeriod)
	b.device.Step()
	require.True(t, b.device.Started())

	started, entry := b.hw.Started()
	require.True(t, started)
	require.Equal(t, testConfig.BaseAddress, entry)
	require.Equal(t, DefaultWaitTicks, b.hw.WatchdogClears())
}

func TestDeviceStaysWithoutApplication(t *testing.T) {
	b := newBench(t, false)
	leds := map[bool]int{}
	for i := 0; i < 2*DefaultWaitTicks; i++ {
		b.clock.Advance(TickPeriod)
		b.device.Step()
		leds[b.hw.LED()]++
	}
	require.False(t, b.device.Started())
	require.NotZero(t, leds[true])
	require.NotZero(t, leds[false])
}

func TestDeviceLEDBlinksAfterDelay(t *testing.T) {
	b := newBench(t, false)
	require.True(t, b.hw.LED())
	b.clock.Advance(TickPeriod)
	b.device.Step()
	b.clock.Advance(TickPeriod)
	b.device.Step()
	require.True(t, b.hw.LED())
	b.clock.Advance(TickPeriod)
	b.device.Step()
	require.False(t, b.hw.LED())
	b.clock.Advance(TickPeriod)
	b.device.Step()
	require.True(t, b.hw.LED())
}

func TestDeviceHandshakeStopsTimeout(t *testing.T) {
	b := newBench(t, true)
	c := b.connection()
	require.NoError(t, c.Handshake(time.Second))
	for i := 0; i < 2*DefaultWaitTicks; i++ {
		b.clock.Advance(TickPeriod)
		b.device.Step()
	}
	require.False(t, b.device.Started())
}

func TestDeviceModify(t *testing.T) {
	b := newBench(t, false)
	c := b.connection()
	require.NoError(t, c.Handshake(time.Second))

	row := make([]uint32, 32)
	for i := range row {
		row[i] = uint32(0x100000 + i)
	}
	require.NoError(t, c.WriteProgramMemory(0x0400, row, true, false))
	got, err := c.ReadRow(0x0400)
	require.NoError(t, err)
	require.Equal(t, row, got)

	// unchanged row: nothing to do
	require.NoError(t, c.WriteProgramMemory(0x0400, row, true, false))
	require.Equal(t, session.Statistic{ProgramMemoryProgramCount: 1}, c.Statistic())
	require.Equal(t, 1, b.sim.ProgramCount(memory.Program))

	eeprom := make([]uint32, 16)
	for i := range eeprom {
		eeprom[i] = uint32(0xA000 + i)
	}
	require.NoError(t, c.WriteDataEEPROM(0x7FFC40, eeprom, true, true))
	got, err = c.ReadRow(0x7FFC40)
	require.NoError(t, err)
	require.Equal(t, eeprom, got[:16])
	require.Equal(t, 1, c.Statistic().DataEEPROMEraseCount)

	b.sim.FailProgram(0x0800)
	err = c.WriteProgramMemory(0x0800, row, true, false)
	var modifyErr *session.ModifyError
	require.ErrorAs(t, err, &modifyErr)
	require.Equal(t, uint32(0x0800), modifyErr.Address)
}

func TestDeviceStartFirmware(t *testing.T) {
	b := newBench(t, false)
	c := b.connection()
	require.NoError(t, c.Handshake(time.Second))
	require.NoError(t, c.StartFirmware())
	require.True(t, b.device.Started())
	_, entry := b.hw.Started()
	require.Equal(t, testConfig.BaseAddress, entry)
}

func TestDeviceLostResponsesAreRetried(t *testing.T) {
	b := newBench(t, false)
	retries := 0
	c := session.New(b.link, session.WithClock(b.clock), session.WithRetryCallback(func(byte) { retries++ }))
	require.NoError(t, c.Handshake(time.Second))

	b.link.DropResponses(2)
	row, err := c.ReadRow(memory.DeviceIDAddress)
	require.NoError(t, err)
	require.Equal(t, uint32(0x0101), row[0])
	require.Equal(t, 2, retries)

	b.link.DropResponses(3)
	_, err = c.ReadRow(0)
	var noAnswer *session.NoAnswerError
	require.ErrorAs(t, err, &noAnswer)
}

func TestDeviceRunStopsOnCancel(t *testing.T) {
	b := newBench(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.device.Run(ctx), context.Canceled)

	b = newBench(t, true)
	b.clock.Advance(time.Duration(DefaultWaitTicks) * TickPeriod)
	// the clock is ahead: every step consumes one pending tick
	require.NoError(t, b.device.Run(context.Background()))
	require.True(t, b.device.Started())
}

func TestInstall(t *testing.T) {
	b := newBench(t, false)
	require.Equal(t, uint32(0x047C80), b.sim.ReadWord(0))
	require.Equal(t, uint32(0), b.sim.ReadWord(2))
	require.Equal(t, uint32(0x7C08), b.sim.ReadWord(4))
	require.Equal(t, uint32(0x7C08+4*29), b.sim.ReadWord(62))
	require.Equal(t, uint32(0xFFFFFF), b.sim.ReadWord(0x7C00))
	require.Equal(t, uint32(0), b.sim.ReadWord(0x7C80))
	require.Equal(t, uint32(0), b.sim.ReadWord(0x7FFE))

	require.Error(t, Install(b.sim, Config{BaseAddress: 0x7C10, Size: 0x400}))
	require.Error(t, Install(b.sim, Config{BaseAddress: 0x7C00, Size: 0x800}))
}
