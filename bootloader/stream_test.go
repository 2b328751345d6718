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
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dspicboot/dspic-loader/protocol"
	"github.com/dspicboot/dspic-loader/transport"
	"github.com/stretchr/testify/require"
)

type pipeStream struct {
	io.Reader
	bytes.Buffer
	drained int
}

func (p *pipeStream) Read(b []byte) (int, error) {
	return p.Reader.Read(b)
}

func (p *pipeStream) Drain() error {
	p.drained++
	return nil
}

func TestStreamUART(t *testing.T) {
	b := newBench(t, false)
	pr, pw := io.Pipe()
	stream := &pipeStream{Reader: pr}
	uart := NewStreamUART(stream, time.Millisecond)
	d := New(testConfig, uart, b.sim, b.hw)

	frame, err := transport.Encode(protocol.StartCommunicationRequest{}.Encode())
	require.NoError(t, err)
	go func() {
		pw.Write(frame)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for stream.Len() == 0 && time.Now().Before(deadline) {
		d.Poll()
	}
	require.True(t, d.Connected())

	var answer []byte
	for _, c := range stream.Bytes() {
		if p, ok := b.received.Feed(c); ok {
			answer = p
		}
	}
	resp, err := protocol.DecodeStartCommunicationResponse(answer)
	require.NoError(t, err)
	require.Equal(t, testConfig.BaseAddress, resp.BootloaderBase)

	uart.Flush()
	require.Equal(t, 1, stream.drained)

	pw.CloseWithError(errors.New("port closed"))
	require.Eventually(t, func() bool {
		uart.Receive()
		return uart.Err() != nil
	}, 5*time.Second, time.Millisecond)
	require.EqualError(t, uart.Err(), "port closed")
}

func TestStreamUARTReceiveTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	uart := NewStreamUART(&pipeStream{Reader: pr}, time.Millisecond)
	_, ok := uart.Receive()
	require.False(t, ok)
	require.NoError(t, uart.Err())
}

func TestDeviceRunStopsWhenStreamEnds(t *testing.T) {
	b := newBench(t, false)
	uart := NewStreamUART(&pipeStream{Reader: bytes.NewReader(nil)}, time.Millisecond)
	d := New(testConfig, uart, b.sim, b.hw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.Run(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, ctx.Err())
	require.False(t, d.Started())
}
