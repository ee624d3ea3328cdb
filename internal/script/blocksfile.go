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
	"sort"
	"strings"
)

// WriteBlocks writes blocks in the intermediate blocks-file format:
//
//	Block 00000:
//	<line>
//	<line>
//	<blank>
func WriteBlocks(w io.Writer, blocks []Block) error {
	bw := bufio.NewWriter(w)
	for _, b := range blocks {
		if _, err := fmt.Fprintf(bw, "Block %s:\n%s\n\n", b.ID, strings.Join(b.Lines, "\n")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// HeaderError reports a "Block" line without an id.
type HeaderError struct {
	Line int
	Text string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("malformed block header at line %d: %q", e.Line, e.Text)
}

// ParseBlocks reads a blocks file. A line starting with "Block" opens a block
// whose id is its second field without colons; lines before the first header
// are ignored. A repeated id replaces the earlier block. Blocks are returned
// ordered by id.
func ParseBlocks(r io.Reader) ([]Block, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return nil, err
	}
	var blocks []Block
	index := map[string]int{}
	cur := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "Block") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, &HeaderError{Line: i + 1, Text: line}
			}
			id := strings.Trim(fields[1], ":")
			if at, ok := index[id]; ok {
				blocks[at].Lines = nil
				cur = at
				continue
			}
			index[id] = len(blocks)
			cur = len(blocks)
			blocks = append(blocks, Block{ID: id})
			continue
		}
		if cur >= 0 {
			blocks[cur].Lines = append(blocks[cur].Lines, line)
		}
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
	return blocks, nil
}
