// Copyright (c) 2023 Paweł Gaczyński
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
	TraceLevel = zerolog.TraceLevel
)

// Components that log.
const (
	Portal  = "portal"
	BPool   = "bpool"
	Channel = "channel"
	Poller  = "poller"
	TxRing  = "txring"
)

var levels = map[string]zerolog.Level{
	"trace": TraceLevel,
	"debug": DebugLevel,
	"info":  InfoLevel,
	"warn":  WarnLevel,
	"error": ErrorLevel,
	"off":   Disabled,
}

// ParseLevel maps a level name to a level, falling back to error.
func ParseLevel(name string) zerolog.Level {
	if level, ok := levels[name]; ok {
		return level
	}

	return ErrorLevel
}

func NewLogger(component string, level zerolog.Level, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return NewLoggerTo(out, component, level)
}

// NewLoggerTo builds a component logger writing to w.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	return zerolog.New(w).With().Timestamp().Str("component", component).Logger().Level(level)
}
