/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"reflect"
	"strings"
	"testing"
)

func TestMapEveryCommand(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		want []string
	}{
		{"call<$a4eb1e4c>('bg_room', 0)", KindBackground, []string{
			`{"bg", id=1, lv=5, file="bg_room", time=800, path=":bg/", sync=0},`,
			`{"ex", time=500, func="wait"}`,
		}},
		{"syscall<$90d5298a> ('n001')", KindNarration, []string{
			"-------- narration voice, channel 1 --------",
			`{"se",id=1,file="voice/n001",loop=0, time=500, vol=200}`,
		}},
		{"call<$5f271e74, 0>", KindAudioStop, []string{
			"-------- se stop --------",
			`{"se", stop=1, id=1, time=1000},`,
			`{"se", stop=1, id=2, time=1000},`,
			`{"se", stop=1, id=3, time=1000},`,
			`{"se", stop=1, id=4, time=1000}`,
			"-------------",
		}},
		{"syscall<$cf35f0e3> (800)", KindMusicStop, []string{
			"-------- bgm stop --------",
			`{"bgm", stop=1, id=0, time=3000},`,
			`{"se", stop=1, id=5, time=1000}`,
			"-------------",
		}},
		{"call<$d334ba75>('bgm03')", KindLoopingMusic, []string{
			"-------- music, channel 5 --------",
			`{"se",id=5,file="bgm03",loop=1, time=500, vol=200}`,
		}},
		{"syscall<$f62e3ca7>('se_door')", KindSound, []string{
			"-------- se, channel 1 --------",
			`{"se",id=1,file="se_door",loop=0, time=500, vol=200}`,
		}},
		{"pause", KindPause, []string{`{"ex", time=400, func="wait"}`}},
		{"cls", KindClear, []string{`--{"msgoff"},`, `--{"cgdel",id=-1},`, `--{"fg", mode=-2}`}},
		{"#res：Hello>", KindDialogue, []string{
			"-------- dialogue --------",
			`{"text"},`,
			"text = {",
			"    pagebreak = true,",
			`    ja = {{"Hello"},},`,
			"}",
		}},
	}
	for _, tc := range cases {
		f, ok, pending := Map(tc.line, "")
		if !ok {
			t.Fatalf("%q: expected a fragment", tc.line)
		}
		if f.Kind != tc.kind {
			t.Fatalf("%q: kind = %s, want %s", tc.line, f.Kind, tc.kind)
		}
		if !reflect.DeepEqual(f.Lines, tc.want) {
			t.Fatalf("%q: lines =\n%q\nwant\n%q", tc.line, f.Lines, tc.want)
		}
		if pending != "" {
			t.Fatalf("%q: pending = %q", tc.line, pending)
		}
	}
}

func TestMapExitIsEmptyFragment(t *testing.T) {
	f, ok, _ := Map("exit", "")
	if !ok || f.Kind != KindExit || !f.Empty() {
		t.Fatalf("exit: got %+v ok=%v", f, ok)
	}
}

func TestMapNoFragment(t *testing.T) {
	for _, line := range []string{
		"Block 00000:",
		"",
		"push 3",
		"call<$a4eb1e4c>(3)",        // no quoted argument
		"syscall<$f62e3ca7>(\"x\")", // double quotes are not an argument
	} {
		if f, ok, p := Map(line, "v9"); ok || !f.Empty() || p != "v9" {
			t.Fatalf("%q: expected no fragment and pending kept, got %+v ok=%v pending=%q", line, f, ok, p)
		}
	}
}

func TestMapDialogueText(t *testing.T) {
	f, _, _ := Map("  #res：> 「おはよう」 >>  ", "")
	if got := f.Lines[4]; got != `    ja = {{"「おはよう」"},},` {
		t.Fatalf("text not trimmed of blanks and '>': %q", got)
	}
	f, _, _ = Map(`#res：say "hi">`, "")
	if got := f.Lines[4]; got != `    ja = {{"say \"hi\""},},` {
		t.Fatalf("quotes not escaped: %q", got)
	}
}

func TestMapIsPure(t *testing.T) {
	lines := []string{"#res：a>", "call<$812afdf0>('v1')", "pause", "cls", "x", "exit"}
	for _, pending := range []string{"", "v0"} {
		for _, line := range lines {
			f1, ok1, p1 := Map(line, pending)
			f2, ok2, p2 := Map(line, pending)
			if !reflect.DeepEqual(f1, f2) || ok1 != ok2 || p1 != p2 {
				t.Fatalf("Map(%q, %q) not deterministic", line, pending)
			}
		}
	}
}

func TestVoiceCueThenDialogue(t *testing.T) {
	f, ok, pending := Map("call<$812afdf0>('v001')", "")
	if ok || !f.Empty() || pending != "v001" {
		t.Fatalf("voice cue: f=%+v ok=%v pending=%q", f, ok, pending)
	}
	f, ok, pending = Map("#res：Hello>", pending)
	if !ok || f.Kind != KindVoicedDialogue {
		t.Fatalf("expected voiced dialogue, got %+v", f)
	}
	if pending != "" {
		t.Fatalf("pending voice must be cleared, got %q", pending)
	}
	if got := f.Lines[4]; got != `    vo = {{"vo", ch="li", file="v001"},},` {
		t.Fatalf("voice line = %q", got)
	}
	if got := f.Lines[5]; got != `    ja = {{"Hello"},},` {
		t.Fatalf("text line = %q", got)
	}
}

func TestVoiceCueSurvivesNonDialogue(t *testing.T) {
	m := NewMapper(DefaultOptions())
	m.Map("call<$812afdf0>('v002')")
	for _, line := range []string{"pause", "cls", "call<$a4eb1e4c>('bg')", "garbage"} {
		m.Map(line)
		if m.Pending() != "v002" {
			t.Fatalf("after %q pending = %q", line, m.Pending())
		}
	}
	// a later cue without an argument leaves the pending voice alone
	m.Map("call<$812afdf0>()")
	if m.Pending() != "v002" {
		t.Fatalf("argument-less cue changed pending to %q", m.Pending())
	}
	m.Map("call<$812afdf0>('v003')")
	f, _ := m.Map("#res：line>")
	if !strings.Contains(strings.Join(f.Lines, "\n"), `file="v003"`) {
		t.Fatalf("latest cue must win: %q", f.Lines)
	}
}

func TestFreshMapperPerFile(t *testing.T) {
	first := NewMapper(DefaultOptions())
	first.Map("call<$812afdf0>('leak')")
	second := NewMapper(DefaultOptions())
	f, _ := second.Map("#res：clean>")
	if f.Kind != KindDialogue {
		t.Fatalf("state leaked across mappers: %+v", f)
	}
}

func TestRoundTripScenario(t *testing.T) {
	in := []string{"Block 00000:", "call<$812afdf0>('v001')", "#res：Hello>"}
	blocks := Split(in, DefaultMarker)
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(blocks))
	}
	m := NewMapper(DefaultOptions())
	var out []Fragment
	for _, line := range blocks[0].Lines {
		f, ok := m.Map(line)
		if ok {
			out = append(out, f)
		}
	}
	if len(out) != 1 || out[0].Kind != KindVoicedDialogue {
		t.Fatalf("expected one voiced dialogue fragment, got %+v", out)
	}
	joined := strings.Join(out[0].Lines, "\n")
	if !strings.Contains(joined, "v001") || !strings.Contains(joined, "Hello") {
		t.Fatalf("fragment misses voice or text: %s", joined)
	}
}

func TestCustomMarkerAndChannel(t *testing.T) {
	o := DefaultOptions()
	o.Marker = "#msg:"
	o.VoiceChannel = "ka"
	f, ok, _ := o.Map("#msg:hi>", "v7")
	if !ok || f.Kind != KindVoicedDialogue || f.Lines[4] != `    vo = {{"vo", ch="ka", file="v7"},},` {
		t.Fatalf("custom options not applied: %+v", f)
	}
	if _, ok, _ := o.Map("#res：hi>", ""); ok {
		t.Fatalf("default marker must not match when a custom one is set")
	}
}

func TestKindString(t *testing.T) {
	if KindVoicedDialogue.String() != "voiced-dialogue" || Kind(99).String() != "unknown" {
		t.Fatalf("unexpected kind names")
	}
}

func TestMapDialogueKeepsExistingEscapes(t *testing.T) {
	cases := map[string]string{
		`#res：b\"q>`:         `    ja = {{"b\"q"},},`,
		`#res：line\nnext>`:   `    ja = {{"line\nnext"},},`,
		`#res：mix "a" \"b\">`: `    ja = {{"mix \"a\" \"b\""},},`,
		`#res：tail\>`:        `    ja = {{"tail\\"},},`,
	}
	for in, want := range cases {
		f, ok, _ := Map(in, "")
		if !ok {
			t.Fatalf("%q: no fragment", in)
		}
		if got := f.Lines[4]; got != want {
			t.Fatalf("%q: got %s, want %s", in, got, want)
		}
	}
}
