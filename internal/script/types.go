/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

// DefaultMarker opens a dialogue-text line in hand-prepared Majiro scripts.
const DefaultMarker = "#res："

// MergedMarker opens a dialogue-text line written by the resource merge.
const MergedMarker = "#res<"

// Block is one dialogue block: a zero-padded sequential id and its raw lines.
// The marker line that closes a block is its last line.
type Block struct {
	ID    string
	Lines []string
}

// Kind classifies a mapped Fragment.
type Kind int

const (
	KindNone Kind = iota
	KindVoicedDialogue
	KindDialogue
	KindBackground
	KindNarration
	KindAudioStop
	KindMusicStop
	KindLoopingMusic
	KindSound
	KindPause
	KindClear
	KindExit
)

var kindNames = [...]string{
	KindNone:           "none",
	KindVoicedDialogue: "voiced-dialogue",
	KindDialogue:       "dialogue",
	KindBackground:     "background",
	KindNarration:      "narration",
	KindAudioStop:      "audio-stop",
	KindMusicStop:      "music-stop",
	KindLoopingMusic:   "looping-music",
	KindSound:          "sound",
	KindPause:          "pause",
	KindClear:          "clear",
	KindExit:           "exit",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Fragment is the table text produced from one input line.
// Lines carry their own inner indentation; the assembler indents them into the
// enclosing block and puts the entry separator after the last non-comment line.
// An exit fragment has no lines and renders to nothing.
type Fragment struct {
	Kind  Kind
	Lines []string
}

// Empty reports whether the fragment renders to nothing.
func (f Fragment) Empty() bool { return len(f.Lines) == 0 }

// MappedBlock is a block after line mapping, ready for assembly.
type MappedBlock struct {
	ID        string
	Fragments []Fragment
}

// Options tunes the splitter, the mapper and the document header.
type Options struct {
	Marker       string
	VoiceChannel string
	Title        string
	ChapterFlag  string
	InitialBG    string
}

// DefaultOptions returns the settings used for the stock game scripts.
func DefaultOptions() Options {
	return Options{
		Marker:       DefaultMarker,
		VoiceChannel: "li",
		Title:        "chapter 章节",
		ChapterFlag:  "g.chap01=1",
		InitialBG:    "black",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Marker == "" {
		o.Marker = d.Marker
	}
	if o.VoiceChannel == "" {
		o.VoiceChannel = d.VoiceChannel
	}
	if o.Title == "" {
		o.Title = d.Title
	}
	if o.ChapterFlag == "" {
		o.ChapterFlag = d.ChapterFlag
	}
	if o.InitialBG == "" {
		o.InitialBG = d.InitialBG
	}
	return o
}
