/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"fmt"
	"strings"
)

const (
	blockIndent = "    "
	entryIndent = "        "
	// firstLine is the synthetic line number of the first block; each block adds lineStep.
	firstLine = 96
	lineStep  = 2
)

// labels are the fixed entry points of every document.
var labels = []struct {
	name   string
	offset int
}{
	{"z00", 2},
	{"z01", 46},
	{"top", 1},
}

// Assemble renders mapped blocks into one Artemis table document.
//
// The first block is merged into the header with the bootstrap directives,
// interior blocks link back and forth, and the last block gets the closing
// sequence before its back link and line number. A document with no blocks
// is rendered as a single empty block. Cross references are not validated.
func Assemble(blocks []MappedBlock, opts Options) string {
	opts = opts.withDefaults()
	if len(blocks) == 0 {
		blocks = []MappedBlock{{ID: blockID(0)}}
	}
	var b strings.Builder
	b.WriteString("astver = 2.0\n")
	b.WriteString("astname = \"ast\"\n")
	b.WriteString("ast = {\n")

	last := len(blocks) - 1
	for i, blk := range blocks {
		fmt.Fprintf(&b, "%sblock_%s = {\n", blockIndent, blk.ID)
		if i == 0 {
			writeEntries(&b, bootstrap(opts))
		}
		writeEntries(&b, blk.Fragments)
		if i == last {
			writeEntries(&b, closing())
		}
		if i > 0 {
			fmt.Fprintf(&b, "%slinkback = \"block_%s\",\n", entryIndent, blocks[i-1].ID)
		}
		if i < last {
			fmt.Fprintf(&b, "%slinknext = \"block_%s\",\n", entryIndent, blocks[i+1].ID)
		}
		fmt.Fprintf(&b, "%sline = %d\n", entryIndent, firstLine+lineStep*i)
		fmt.Fprintf(&b, "%s},\n", blockIndent)
	}

	fmt.Fprintf(&b, "%slabel = {\n", blockIndent)
	for _, l := range labels {
		fmt.Fprintf(&b, "%s%s = { block=\"block_%s\", label=%d },\n", entryIndent, l.name, blockID(0), l.offset)
	}
	fmt.Fprintf(&b, "%s},\n", blockIndent)
	b.WriteString("}\n")
	return b.String()
}

// writeEntries writes each fragment as one table entry. The separator goes after
// the last non-comment line, so fragments that end in (or consist of) comments
// stay valid.
func writeEntries(b *strings.Builder, frags []Fragment) {
	for _, f := range frags {
		if f.Empty() {
			continue
		}
		sep := -1
		for i := len(f.Lines) - 1; i >= 0; i-- {
			if !isComment(f.Lines[i]) {
				sep = i
				break
			}
		}
		for i, line := range f.Lines {
			b.WriteString(entryIndent)
			b.WriteString(line)
			if i == sep {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
	}
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "--")
}

func bootstrap(o Options) []Fragment {
	lines := []string{
		fmt.Sprintf(`{"savetitle", text="%s"}`, quote(o.Title)),
		`{"user", mode="autosave", no=0}`,
		fmt.Sprintf(`{"eval", exp="%s"}`, quote(o.ChapterFlag)),
		`{"msgoff"}`,
		`{"cgdel", id=-1}`,
		`{"fg", mode=-2}`,
		fmt.Sprintf(`{"bg", id=1, lv=5, file="%s", time=1500, path=":bg/", sync=0}`, quote(o.InitialBG)),
		`{"ex", time=1500, func="wait"}`,
	}
	frags := make([]Fragment, 0, len(lines)+1)
	for _, l := range lines {
		frags = append(frags, Fragment{Kind: KindNone, Lines: []string{l}})
	}
	frags = append(frags, Fragment{Kind: KindNone, Lines: []string{"-------- bootstrap above, story starts below --------"}})
	return frags
}

func closing() []Fragment {
	one := func(l string) Fragment { return Fragment{Kind: KindNone, Lines: []string{l}} }
	return []Fragment{
		one(`{"msgoff"}`),
		one(`{"ex", time=1000, func="wait"}`),
		{Kind: KindAudioStop, Lines: []string{
			"-------- stop all sound --------",
			`{"se", stop=1, id=1, time=1000},`,
			`{"se", stop=1, id=2, time=1000},`,
			`{"se", stop=1, id=3, time=1000},`,
			`{"se", stop=1, id=4, time=1000}`,
			"-------------",
		}},
		{Kind: KindMusicStop, Lines: []string{
			`{"bgm", stop=1, id=0, time=1000}`,
			"-------------",
		}},
		one(`{"exreturn"}`),
		one(`{"text"}`),
	}
}

// RemoveBlankLines drops every empty or whitespace-only line. A trailing
// newline is kept when the input had one.
func RemoveBlankLines(doc string) string {
	trailing := strings.HasSuffix(doc, "\n")
	lines := strings.Split(doc, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, l)
		}
	}
	out := strings.Join(kept, "\n")
	if trailing && out != "" {
		out += "\n"
	}
	return out
}

// Convert maps the blocks of one file with a fresh Mapper and renders the
// finished document.
func Convert(blocks []Block, opts Options) string {
	mapped := NewMapper(opts).MapBlocks(blocks)
	return RemoveBlankLines(Assemble(mapped, opts))
}
