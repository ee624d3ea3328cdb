/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package bgm rewrites music file names in assembled scripts to the target
// game's numbered BGM ids.
package bgm

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"artemisport/internal/script"
)

// rePlay matches a bgm entry with a file argument, e.g. {"bgm",id=0,file="n04",loop=1}.
var rePlay = regexp.MustCompile(`(\{"bgm"[^}]*file=")([^"]+)(".*?\})`)

// Mapping resolves a music file name to its bgm id.
type Mapping map[string]string

// LoadMapping reads "bgmNN -> name" lines. Each name is registered as given,
// lower-cased, and both again with ".ogg". Other lines are ignored.
func LoadMapping(r io.Reader) (Mapping, error) {
	lines, err := script.ReadLines(r)
	if err != nil {
		return nil, fmt.Errorf("read bgm list: %w", err)
	}
	m := Mapping{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, " -> ") {
			continue
		}
		parts := strings.Split(line, " -> ")
		if len(parts) != 2 {
			continue
		}
		id, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		lower := strings.ToLower(name)
		m[lower] = id
		m[lower+".ogg"] = id
		m[name] = id
		m[name+".ogg"] = id
	}
	return m, nil
}

// Lookup tries name, its lower-case form, and both with ".ogg".
func (m Mapping) Lookup(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, k := range []string{name, lower, name + ".ogg", lower + ".ogg"} {
		if id, ok := m[k]; ok {
			return id, true
		}
	}
	return "", false
}

// Replace rewrites the file argument of every bgm entry in content. Names
// without a mapping are returned in order of appearance and left unchanged.
func Replace(content string, m Mapping) (string, []string) {
	var (
		b        strings.Builder
		notFound []string
		last     int
	)
	for _, loc := range rePlay.FindAllStringSubmatchIndex(content, -1) {
		name := content[loc[4]:loc[5]]
		id, ok := m.Lookup(name)
		if !ok {
			notFound = append(notFound, name)
			continue
		}
		b.WriteString(content[last:loc[4]])
		b.WriteString(id)
		last = loc[5]
	}
	if last == 0 {
		return content, notFound
	}
	b.WriteString(content[last:])
	return b.String(), notFound
}

// WriteNotFound writes the sorted, de-duplicated names that had no mapping.
func WriteNotFound(w io.Writer, names []string) error {
	uniq := map[string]struct{}{}
	for _, n := range names {
		uniq[n] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return writeList(w, "BGM names without a mapping:", sorted)
}

// WriteFailed writes the files that could not be processed.
func WriteFailed(w io.Writer, paths []string) error {
	return writeList(w, "Files that could not be processed:", paths)
}

func writeList(w io.Writer, title string, items []string) error {
	var b strings.Builder
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	for _, it := range items {
		b.WriteString(it + "\n")
	}
	fmt.Fprintf(&b, "\ntotal: %d\n", len(items))
	_, err := io.WriteString(w, b.String())
	return err
}
