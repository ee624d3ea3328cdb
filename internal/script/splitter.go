/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single script line; disassembly lines stay far below it.
const maxLineSize = 1 << 20

// Split partitions lines into numbered blocks. A line starting with marker is
// appended to the current block, which is then closed. Lines are trimmed of
// surrounding whitespace. Input without any marker line yields one block;
// empty input yields none.
func Split(lines []string, marker string) []Block {
	if marker == "" {
		marker = DefaultMarker
	}
	var (
		blocks []Block
		acc    []string
		n      int
	)
	flush := func() {
		blocks = append(blocks, Block{ID: blockID(n), Lines: acc})
		n++
		acc = nil
	}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		acc = append(acc, line)
		if strings.HasPrefix(line, marker) {
			flush()
		}
	}
	if len(acc) > 0 {
		flush()
	}
	return blocks
}

// DetectMarker picks the dialogue marker for one file and returns it with the
// number of lines carrying it. The configured marker wins when any line uses
// it. With the default marker and no such line, merged #res<text> lines are
// recognised instead.
func DetectMarker(lines []string, configured string) (string, int) {
	if configured == "" {
		configured = DefaultMarker
	}
	n := countPrefixed(lines, configured)
	if n > 0 || configured != DefaultMarker {
		return configured, n
	}
	if m := countPrefixed(lines, MergedMarker); m > 0 {
		return MergedMarker, m
	}
	return configured, 0
}

func countPrefixed(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), prefix) {
			n++
		}
	}
	return n
}

// SplitReader reads r line by line and splits it like Split.
func SplitReader(r io.Reader, marker string) ([]Block, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return nil, err
	}
	return Split(lines, marker), nil
}

// ReadLines returns the lines of r without line terminators. A leading UTF-8
// byte order mark is dropped.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var lines []string
	first := true
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return lines, nil
}

func blockID(n int) string { return fmt.Sprintf("%05d", n) }
