/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package batch

import (
	"errors"
	"fmt"

	"artemisport/internal/textenc"
)

// Category groups failures in the end-of-run report.
type Category string

const (
	CategoryMissingCounterpart Category = "missing-counterpart"
	CategoryDecode             Category = "decode"
	CategoryTool               Category = "tool"
	CategoryUnexpected         Category = "unexpected"
)

// Sentinel errors matched by the typed errors below.
var (
	ErrMissingCounterpart = errors.New("missing counterpart file")
	ErrDecode             = errors.New("decode failure")
	ErrTool               = errors.New("external tool failed")
	// ErrSkip marks an item that needs no work; it is counted as skipped, not failed.
	ErrSkip = errors.New("skipped")
)

// MissingCounterpartError reports a companion file required for pairing that is absent.
type MissingCounterpartError struct {
	Path string // item being processed
	Want string // companion that was not found
}

func (e *MissingCounterpartError) Error() string {
	return fmt.Sprintf("%s: counterpart %s not found", e.Path, e.Want)
}

func (e *MissingCounterpartError) Unwrap() error { return ErrMissingCounterpart }

// DecodeError reports a malformed byte sequence while reading or converting text.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// ToolError reports an external tool that exited non-zero or left its output incomplete.
type ToolError struct {
	Tool     string
	Path     string
	ExitCode int
	Message  string
	Err      error
}

func (e *ToolError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s %s: [%d] %s", e.Tool, e.Path, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Tool, e.Path, e.Message)
}

func (e *ToolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTool, e.Err}
	}
	return []error{ErrTool}
}

// PanicError carries a panic recovered at the item boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// SkipError marks an item as skipped with a reason.
type SkipError struct{ Reason string }

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func (e *SkipError) Unwrap() error { return ErrSkip }

// Skip returns an error that makes the runner count the item as skipped.
func Skip(reason string) error { return &SkipError{Reason: reason} }

// Classify maps an item error to its report category.
func Classify(err error) Category {
	var (
		mc  *MissingCounterpartError
		de  *DecodeError
		te  *ToolError
		mal *textenc.MalformedError
	)
	switch {
	case errors.As(err, &mc):
		return CategoryMissingCounterpart
	case errors.As(err, &de), errors.As(err, &mal):
		return CategoryDecode
	case errors.As(err, &te):
		return CategoryTool
	default:
		return CategoryUnexpected
	}
}
