/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package resmerge puts the resource strings of a disassembled script (.sjs)
// back into its instruction listing (.mjs).
package resmerge

import (
	"io"
	"regexp"
	"strings"

	"artemisport/internal/script"
)

var (
	reResource  = regexp.MustCompile(`^<(\d+)>\s*(.*)`)
	reReference = regexp.MustCompile(`#res<(\d+)>`)
)

// Table maps resource ids to their text.
type Table map[string]string

// ParseResources reads "<id> text" lines. Lines are trimmed before matching;
// anything else is ignored. A repeated id keeps the last text.
func ParseResources(r io.Reader) (Table, error) {
	lines, err := script.ReadLines(r)
	if err != nil {
		return nil, err
	}
	t := Table{}
	for _, line := range lines {
		m := reResource.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		t[m[1]] = m[2]
	}
	return t, nil
}

// Stats counts the references seen by Merge.
type Stats struct {
	Resolved   int
	Unresolved int
}

// Merge replaces every #res<N> in listing with #res<text>. References to ids
// missing from t keep their number.
func Merge(listing string, t Table) (string, Stats) {
	var st Stats
	out := reReference.ReplaceAllStringFunc(listing, func(ref string) string {
		id := reReference.FindStringSubmatch(ref)[1]
		text, ok := t[id]
		if !ok {
			st.Unresolved++
			return ref
		}
		st.Resolved++
		return script.MergedMarker + text + ">"
	})
	return out, st
}
