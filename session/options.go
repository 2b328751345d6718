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

package session

import (
	"time"

	"github.com/dspicboot/dspic-loader/clock"
)

// Default retry policy.
const (
	DefaultAttempts       = 3
	DefaultResponseWindow = 500 * time.Millisecond
	DefaultRetryPause     = time.Second
)

// Option configures a Connection.
type Option func(*Connection)

// WithAttempts sets how many times a request is sent before giving up.
func WithAttempts(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithResponseWindow sets how long each attempt waits for its response.
func WithResponseWindow(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.responseWindow = d
		}
	}
}

// WithByteTimeout sets how long a poll waits for the next byte of a packet.
func WithByteTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.byteTimeout = d
	}
}

// WithRetryPause sets the pause between two attempts.
func WithRetryPause(d time.Duration) Option {
	return func(c *Connection) {
		if d >= 0 {
			c.retryPause = d
		}
	}
}

// WithRetryCallback registers a function called after every attempt that got
// no answer.
func WithRetryCallback(f func(code byte)) Option {
	return func(c *Connection) {
		if f != nil {
			c.onRetry = f
		}
	}
}

// WithClock replaces the system clock.
func WithClock(clk clock.Clock) Option {
	return func(c *Connection) {
		c.clock = clk
	}
}
