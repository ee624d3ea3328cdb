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
	"regexp"
	"strings"
)

// Command signatures recognised by the mapper.
const (
	sigBackground   = "call<$a4eb1e4c"
	sigNarration    = "syscall<$90d5298a"
	sigAudioStop    = "call<$5f271e74"
	sigMusicStop    = "syscall<$cf35f0e3"
	sigLoopingMusic = "call<$d334ba75"
	sigSound        = "syscall<$f62e3ca7"
	sigVoice        = "call<$812afdf0"
	sigPause        = "pause"
	sigClear        = "cls"
	sigExit         = "exit"
)

// reArg captures the first single-quoted call argument: call<$...>('bg01', ...).
var reArg = regexp.MustCompile(`\('([^']+)'`)

type handler func(o Options, line, pending string) (Fragment, bool, string)

type rule struct {
	prefix string
	apply  handler
}

// rules is evaluated in order after the dialogue marker; the first matching prefix wins.
var rules = []rule{
	{sigBackground, withArg(func(o Options, arg string) Fragment {
		return Fragment{Kind: KindBackground, Lines: []string{
			fmt.Sprintf(`{"bg", id=1, lv=5, file="%s", time=800, path=":bg/", sync=0},`, quote(arg)),
			`{"ex", time=500, func="wait"}`,
		}}
	})},
	{sigNarration, withArg(func(o Options, arg string) Fragment {
		return Fragment{Kind: KindNarration, Lines: []string{
			"-------- narration voice, channel 1 --------",
			fmt.Sprintf(`{"se",id=1,file="voice/%s",loop=0, time=500, vol=200}`, quote(arg)),
		}}
	})},
	{sigAudioStop, fixed(Fragment{Kind: KindAudioStop, Lines: []string{
		"-------- se stop --------",
		`{"se", stop=1, id=1, time=1000},`,
		`{"se", stop=1, id=2, time=1000},`,
		`{"se", stop=1, id=3, time=1000},`,
		`{"se", stop=1, id=4, time=1000}`,
		"-------------",
	}})},
	{sigMusicStop, fixed(Fragment{Kind: KindMusicStop, Lines: []string{
		"-------- bgm stop --------",
		`{"bgm", stop=1, id=0, time=3000},`,
		`{"se", stop=1, id=5, time=1000}`,
		"-------------",
	}})},
	{sigLoopingMusic, withArg(func(o Options, arg string) Fragment {
		return Fragment{Kind: KindLoopingMusic, Lines: []string{
			"-------- music, channel 5 --------",
			fmt.Sprintf(`{"se",id=5,file="%s",loop=1, time=500, vol=200}`, quote(arg)),
		}}
	})},
	{sigSound, withArg(func(o Options, arg string) Fragment {
		return Fragment{Kind: KindSound, Lines: []string{
			"-------- se, channel 1 --------",
			fmt.Sprintf(`{"se",id=1,file="%s",loop=0, time=500, vol=200}`, quote(arg)),
		}}
	})},
	{sigVoice, func(o Options, line, pending string) (Fragment, bool, string) {
		if arg, ok := argument(line); ok {
			return Fragment{}, false, arg
		}
		return Fragment{}, false, pending
	}},
	{sigPause, fixed(Fragment{Kind: KindPause, Lines: []string{`{"ex", time=400, func="wait"}`}})},
	{sigClear, fixed(Fragment{Kind: KindClear, Lines: []string{
		`--{"msgoff"},`,
		`--{"cgdel",id=-1},`,
		`--{"fg", mode=-2}`,
	}})},
	{sigExit, fixed(Fragment{Kind: KindExit})},
}

func withArg(build func(o Options, arg string) Fragment) handler {
	return func(o Options, line, pending string) (Fragment, bool, string) {
		arg, ok := argument(line)
		if !ok {
			return Fragment{}, false, pending
		}
		return build(o, arg), true, pending
	}
}

func fixed(f Fragment) handler {
	return func(_ Options, _, pending string) (Fragment, bool, string) {
		return Fragment{Kind: f.Kind, Lines: append([]string(nil), f.Lines...)}, true, pending
	}
}

func argument(line string) (string, bool) {
	m := reArg.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// quote makes s safe inside a "..." table string. Escape sequences already in
// the resource text (\" or \n) are kept; bare double quotes and a dangling
// trailing backslash are escaped.
func quote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Map converts one line into at most one fragment using the default options.
// pending is the voice id waiting for the next dialogue line; the returned
// string is the pending voice after this line.
func Map(line, pending string) (Fragment, bool, string) {
	return DefaultOptions().Map(line, pending)
}

// Map converts one line into at most one fragment. It is a pure function of
// (line, pending).
func (o Options) Map(line, pending string) (Fragment, bool, string) {
	o = o.withDefaults()
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, o.Marker) {
		return dialogue(o, line, pending)
	}
	for _, r := range rules {
		if strings.HasPrefix(line, r.prefix) {
			return r.apply(o, line, pending)
		}
	}
	return Fragment{}, false, pending
}

func dialogue(o Options, line, pending string) (Fragment, bool, string) {
	text := quote(strings.Trim(strings.ReplaceAll(line, o.Marker, ""), " >"))
	if pending != "" {
		return Fragment{Kind: KindVoicedDialogue, Lines: []string{
			"-------- voiced dialogue --------",
			`{"text"},`,
			"text = {",
			"    pagebreak = true,",
			fmt.Sprintf(`    vo = {{"vo", ch="%s", file="%s"},},`, o.VoiceChannel, quote(pending)),
			fmt.Sprintf(`    ja = {{"%s"},},`, text),
			"}",
		}}, true, ""
	}
	return Fragment{Kind: KindDialogue, Lines: []string{
		"-------- dialogue --------",
		`{"text"},`,
		"text = {",
		"    pagebreak = true,",
		fmt.Sprintf(`    ja = {{"%s"},},`, text),
		"}",
	}}, true, ""
}

// Mapper threads the pending voice through one file's mapping pass.
// Use a fresh Mapper per file.
type Mapper struct {
	opts    Options
	pending string
}

func NewMapper(opts Options) *Mapper {
	return &Mapper{opts: opts.withDefaults()}
}

// Map maps one line and updates the pending voice.
func (m *Mapper) Map(line string) (Fragment, bool) {
	f, ok, next := m.opts.Map(line, m.pending)
	m.pending = next
	return f, ok
}

// Pending returns the voice id waiting for a dialogue line, or "".
func (m *Mapper) Pending() string { return m.pending }

// MapBlocks maps every block with one Mapper, keeping block order. A voice cue
// left pending at the end of the pass is dropped.
func (m *Mapper) MapBlocks(blocks []Block) []MappedBlock {
	out := make([]MappedBlock, 0, len(blocks))
	for _, b := range blocks {
		mb := MappedBlock{ID: b.ID}
		for _, line := range b.Lines {
			if f, ok := m.Map(line); ok {
				mb.Fragments = append(mb.Fragments, f)
			}
		}
		out = append(out, mb)
	}
	return out
}
