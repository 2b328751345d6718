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

// Package config loads the loader settings from a TOML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arduino/go-paths-helper"
	"github.com/dspicboot/dspic-loader/session"
)

// FileName is the name of the configuration file in the home directory.
const FileName = ".dspic-loader.toml"

// Serial holds the serial port settings.
type Serial struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Session holds the retry policy of the loader.
type Session struct {
	Attempts       int
	ResponseWindow time.Duration
	RetryPause     time.Duration
}

// Config is the loader configuration.
type Config struct {
	Serial  Serial
	Session Session
	// Devices, when set, replaces the built-in device table.
	Devices *paths.Path
}

type fileConfig struct {
	Serial struct {
		BaudRate    int    `toml:"baud_rate"`
		ReadTimeout string `toml:"read_timeout"`
	} `toml:"serial"`
	Session struct {
		Attempts       int    `toml:"attempts"`
		ResponseWindow string `toml:"response_window"`
		RetryPause     string `toml:"retry_pause"`
	} `toml:"session"`
	Devices string `toml:"devices"`
}

// Default returns the settings used when no file is found.
func Default() *Config {
	return &Config{
		Serial: Serial{
			BaudRate:    115200,
			ReadTimeout: 10 * time.Millisecond,
		},
		Session: Session{
			Attempts:       session.DefaultAttempts,
			ResponseWindow: session.DefaultResponseWindow,
			RetryPause:     session.DefaultRetryPause,
		},
	}
}

// DefaultPath returns the configuration file in the home directory.
func DefaultPath() (*paths.Path, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return paths.New(home, FileName), nil
}

// Load reads the file at path over the defaults. Keys missing from the file
// keep their default value and relative paths are resolved against the file
// directory.
func Load(path *paths.Path) (*Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path.String(), &raw)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load config %s: unknown key %s", path, undecoded[0])
	}

	if meta.IsDefined("serial", "baud_rate") {
		if raw.Serial.BaudRate <= 0 {
			return nil, fmt.Errorf("invalid baud_rate %d", raw.Serial.BaudRate)
		}
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}
	if meta.IsDefined("serial", "read_timeout") {
		if cfg.Serial.ReadTimeout, err = parseDuration("read_timeout", raw.Serial.ReadTimeout); err != nil {
			return nil, err
		}
	}
	if meta.IsDefined("session", "attempts") {
		if raw.Session.Attempts <= 0 {
			return nil, fmt.Errorf("invalid attempts %d", raw.Session.Attempts)
		}
		cfg.Session.Attempts = raw.Session.Attempts
	}
	if meta.IsDefined("session", "response_window") {
		if cfg.Session.ResponseWindow, err = parseDuration("response_window", raw.Session.ResponseWindow); err != nil {
			return nil, err
		}
	}
	if meta.IsDefined("session", "retry_pause") {
		if cfg.Session.RetryPause, err = parseDuration("retry_pause", raw.Session.RetryPause); err != nil {
			return nil, err
		}
	}
	if meta.IsDefined("devices") {
		devices := paths.New(strings.TrimSpace(raw.Devices))
		if devices != nil && !devices.IsAbs() {
			devices = path.Parent().JoinPath(devices)
		}
		cfg.Devices = devices
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %s", key, value)
	}
	return d, nil
}

// SessionOptions returns the session options matching the retry policy.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithAttempts(c.Session.Attempts),
		session.WithResponseWindow(c.Session.ResponseWindow),
		session.WithRetryPause(c.Session.RetryPause),
		session.WithByteTimeout(c.Serial.ReadTimeout),
	}
}
