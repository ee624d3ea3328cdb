/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package textenc converts the disassembler's Shift-JIS text to UTF-8.
package textenc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ErrMalformed is matched by every MalformedError.
var ErrMalformed = errors.New("malformed shift-jis input")

// MalformedError locates the first byte sequence that is not valid Shift-JIS.
type MalformedError struct {
	Line   int // 1-based
	Column int // 1-based, in decoded runes
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed shift-jis sequence at line %d, column %d", e.Line, e.Column)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// DecodeShiftJIS returns the UTF-8 form of b. The decoder substitutes U+FFFD
// for invalid sequences and Shift-JIS cannot encode U+FFFD itself, so any
// replacement character in the output marks malformed input.
func DecodeShiftJIS(b []byte) ([]byte, error) {
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b)
	if err != nil {
		return nil, fmt.Errorf("decode shift-jis: %w", err)
	}
	if i := bytes.IndexRune(out, utf8.RuneError); i >= 0 {
		return nil, locate(out, i)
	}
	return out, nil
}

// EncodeShiftJIS converts UTF-8 text to Shift-JIS.
func EncodeShiftJIS(s string) ([]byte, error) {
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode shift-jis: %w", err)
	}
	return out, nil
}

// Lenient decodes tool output for display; malformed bytes become U+FFFD.
func Lenient(b []byte) string {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), japanese.ShiftJIS.NewDecoder()))
	if err != nil {
		return string(b)
	}
	return string(out)
}

func locate(out []byte, at int) *MalformedError {
	prefix := out[:at]
	line := bytes.Count(prefix, []byte{'\n'}) + 1
	start := bytes.LastIndexByte(prefix, '\n') + 1
	return &MalformedError{Line: line, Column: utf8.RuneCount(prefix[start:]) + 1}
}
