/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package tool runs the external decryptor and disassembler.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	applog "artemisport/internal/log"
)

// Command is one invocation of an external executable.
type Command struct {
	Path string
	Args []string
	Dir  string   // working directory; empty means the current one
	Env  []string // appended to the process environment
	// Decode converts captured output to text; nil keeps the bytes as they are.
	Decode func([]byte) string
}

// Result is what a finished process left behind. A non-zero ExitCode is not an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner starts a command and waits for it.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) { return f(ctx, cmd) }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each invocation; zero means no limit.
	Timeout time.Duration
}

// Run executes cmd and returns its exit code and output. Errors are reserved for
// processes that could not be started or were stopped by ctx or the timeout.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	l := applog.WithComponent("tool").With(slog.String("tool", filepath.Base(cmd.Path)))

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{ExitCode: 0, Duration: time.Since(start)}
	res.Stdout = decode(cmd.Decode, stdout.Bytes())
	res.Stderr = decode(cmd.Decode, stderr.Bytes())

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", cmd.Path, ctxErr)
	}
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return res, fmt.Errorf("start %s: %w", cmd.Path, err)
		}
		res.ExitCode = ee.ExitCode()
	}
	l.Debug("tool finished", slog.Int("exit", res.ExitCode), slog.Duration("took", res.Duration), slog.Any("args", cmd.Args))
	return res, nil
}

func decode(fn func([]byte) string, b []byte) string {
	if fn == nil {
		return string(b)
	}
	return fn(b)
}
