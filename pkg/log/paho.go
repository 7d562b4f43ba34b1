// Copyright 2025 The Autopeer Authors.
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

package log

import (
	"fmt"
	"strings"
)

// PahoLogger adapts a Logger to the Println/Printf logger expected by paho and autopaho.
type PahoLogger struct {
	logger Logger
	error  bool
}

// NewPahoDebugLogger returns a paho logger writing at debug level.
func NewPahoDebugLogger(l Logger) PahoLogger {
	return PahoLogger{logger: l}
}

// NewPahoErrorLogger returns a paho logger writing at error level.
func NewPahoErrorLogger(l Logger) PahoLogger {
	return PahoLogger{logger: l, error: true}
}

func (p PahoLogger) Println(v ...any) {
	p.write(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p PahoLogger) Printf(format string, v ...any) {
	// some log calls in paho end with \n and some don't
	p.write(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}

func (p PahoLogger) write(msg string) {
	if p.logger == nil {
		return
	}
	if p.error {
		p.logger.Error(nil, msg)
		return
	}
	p.logger.Debug(msg)
}
