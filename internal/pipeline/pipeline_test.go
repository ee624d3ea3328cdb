/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"artemisport/internal/batch"
	"artemisport/internal/config"
	"artemisport/internal/storage"
	"artemisport/internal/textenc"
	"artemisport/internal/tool"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func sjis(t *testing.T, s string) []byte {
	t.Helper()
	b, err := textenc.EncodeShiftJIS(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type fixture struct {
	cfg     config.AppConfig
	journal *storage.Journal
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workspace = t.TempDir()
	tools := filepath.Join(cfg.Workspace, "tools")
	cfg.Tools.Mjcrypt = filepath.Join(tools, "mjcrypt.exe")
	cfg.Tools.Mjdisasm = filepath.Join(tools, "mjdisasm.exe")
	writeFile(t, cfg.Tools.Mjcrypt, []byte("stub"))
	writeFile(t, cfg.Tools.Mjdisasm, []byte("stub"))
	j, err := storage.OpenJournal(cfg.JournalDir())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return &fixture{cfg: cfg, journal: j, out: &bytes.Buffer{}}
}

func (f *fixture) pipeline(r tool.Runner) *Pipeline {
	return New(f.cfg, r, f.journal, f.out)
}

func (f *fixture) dir(rel string) string { return f.cfg.Resolve(rel) }

// fakeTools behaves like mjcrypt (copy input to output) and mjdisasm (write
// <base>.sjs and <base>.mjs into its working directory).
func fakeTools(t *testing.T, sjsText, mjsText string) tool.Runner {
	return tool.RunnerFunc(func(_ context.Context, cmd tool.Command) (tool.Result, error) {
		switch filepath.Base(cmd.Path) {
		case "mjcrypt.exe":
			data, err := os.ReadFile(cmd.Args[0])
			if err != nil {
				return tool.Result{}, err
			}
			if bytes.Contains(data, []byte("locked")) {
				return tool.Result{ExitCode: 1}, nil
			}
			return tool.Result{}, os.WriteFile(cmd.Args[1], data, 0o644)
		case "mjdisasm.exe":
			base := stem(cmd.Args[0])
			if strings.Contains(base, "broken") {
				return tool.Result{ExitCode: 4, Stderr: "unsupported opcode\n"}, nil
			}
			writeFile(t, filepath.Join(cmd.Dir, base+".mjs"), []byte(mjsText))
			if !strings.Contains(base, "half") {
				writeFile(t, filepath.Join(cmd.Dir, base+".sjs"), sjis(t, sjsText))
			}
			return tool.Result{}, nil
		}
		t.Fatalf("unexpected tool %s", cmd.Path)
		return tool.Result{}, nil
	})
}

func TestDecrypt(t *testing.T) {
	f := newFixture(t)
	enc := f.dir(f.cfg.Paths.Encrypted)
	writeFile(t, filepath.Join(enc, "a.mjo"), []byte("payload"))
	writeFile(t, filepath.Join(enc, "B.MJO"), []byte("locked"))
	writeFile(t, filepath.Join(enc, "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(enc, "sub", "c.mjo"), []byte("not recursive"))

	rep, err := f.pipeline(fakeTools(t, "", "")).Decrypt(context.Background())
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if rep.Total != 2 || rep.Succeeded != 1 || rep.ByCategory[batch.CategoryTool] != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := readFile(t, filepath.Join(f.dir(f.cfg.Paths.Decrypted), "decrypted_a.mjo")); got != "payload" {
		t.Fatalf("decrypted content = %q", got)
	}
	if !strings.Contains(rep.Failures[0].Message, "unknown error") {
		t.Fatalf("failure message = %q", rep.Failures[0].Message)
	}
	if !strings.Contains(f.out.String(), "== decrypt ==") {
		t.Fatalf("report not printed: %s", f.out.String())
	}
}

func TestDecryptLaunchFailure(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.dir(f.cfg.Paths.Encrypted), "a.mjo"), []byte("x"))
	r := tool.RunnerFunc(func(context.Context, tool.Command) (tool.Result, error) {
		return tool.Result{}, errors.New("exec: file not found")
	})
	rep, err := f.pipeline(r).Decrypt(context.Background())
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if rep.ByCategory[batch.CategoryTool] != 1 {
		t.Fatalf("launch failure must be a tool failure: %+v", rep)
	}
}

func TestDisassemble(t *testing.T) {
	f := newFixture(t)
	dec := f.dir(f.cfg.Paths.Decrypted)
	for _, n := range []string{"decrypted_a.mjo", "decrypted_half.mjo", "decrypted_broken.mjo"} {
		writeFile(t, filepath.Join(dec, n), []byte("x"))
	}
	rep, err := f.pipeline(fakeTools(t, "<0> テスト\n", "#res<0>\n")).Disassemble(context.Background())
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if rep.Total != 3 || rep.Succeeded != 1 || rep.ByCategory[batch.CategoryTool] != 2 {
		t.Fatalf("report = %+v", rep)
	}
	dis := f.dir(f.cfg.Paths.Disasm)
	for _, n := range []string{"decrypted_a.sjs", "decrypted_a.mjs"} {
		if _, err := os.Stat(filepath.Join(dis, n)); err != nil {
			t.Fatalf("%s not moved into disasm dir: %v", n, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(f.cfg.Tools.Mjdisasm), "decrypted_a.sjs")); err == nil {
		t.Fatalf("generated file left in tool dir")
	}
	msgs := rep.Failures[0].Message + "|" + rep.Failures[1].Message
	if !strings.Contains(msgs, "[4] unsupported opcode") || !strings.Contains(msgs, "missing generated files: found 1/2") {
		t.Fatalf("failure messages = %s", msgs)
	}
}

func TestReencodeSkipsConvertedFiles(t *testing.T) {
	f := newFixture(t)
	dis := f.dir(f.cfg.Paths.Disasm)
	good := filepath.Join(dis, "a.sjs")
	writeFile(t, good, sjis(t, "<0> 「こんにちは」\n"))
	writeFile(t, filepath.Join(dis, "bad.sjs"), []byte{'<', '0', '>', ' ', 0x82, '\n'})
	p := f.pipeline(nil)

	rep, err := p.Reencode(context.Background())
	if err != nil {
		t.Fatalf("Reencode: %v", err)
	}
	if rep.Succeeded != 1 || rep.ByCategory[batch.CategoryDecode] != 1 {
		t.Fatalf("first run = %+v", rep)
	}
	if got := readFile(t, good); got != "<0> 「こんにちは」\n" {
		t.Fatalf("not converted: %q", got)
	}
	if b := readFile(t, filepath.Join(dis, "bad.sjs")); b[len(b)-2] != 0x82 {
		t.Fatalf("malformed file must stay untouched")
	}
	backups, _ := os.ReadDir(filepath.Join(f.cfg.JournalDir(), "backups", StageReencode))
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %d", len(backups))
	}

	rep, err = p.Reencode(context.Background())
	if err != nil {
		t.Fatalf("Reencode again: %v", err)
	}
	if rep.Skipped != 1 || rep.Succeeded != 0 || rep.Failed() != 1 {
		t.Fatalf("second run = %+v", rep)
	}
	if got := readFile(t, good); got != "<0> 「こんにちは」\n" {
		t.Fatalf("converted file decoded twice: %q", got)
	}
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	dis := f.dir(f.cfg.Paths.Disasm)
	writeFile(t, filepath.Join(dis, "a.mjs"), []byte("call<$812afdf0>('v1')\n#res<0>\n#res<5>\n"))
	writeFile(t, filepath.Join(dis, "a.sjs"), []byte("<0> 「やあ」\n"))
	writeFile(t, filepath.Join(dis, "lonely.mjs"), []byte("#res<0>\n"))
	rep, err := f.pipeline(nil).Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if rep.Succeeded != 1 || rep.ByCategory[batch.CategoryMissingCounterpart] != 1 {
		t.Fatalf("report = %+v", rep)
	}
	got := readFile(t, filepath.Join(f.dir(f.cfg.Paths.Merged), "a.txt"))
	if got != "call<$812afdf0>('v1')\n#res<「やあ」>\n#res<5>\n" {
		t.Fatalf("merged = %q", got)
	}
}

func TestExtractAndConvertMirrorDirectories(t *testing.T) {
	f := newFixture(t)
	merged := f.dir(f.cfg.Paths.Merged)
	writeFile(t, filepath.Join(merged, "ch1", "decrypted_s01.txt"),
		[]byte("call<$a4eb1e4c>('room')\ncall<$812afdf0>('v001')\n#res：「おはよう」>\npause\n#res：bye>\nexit\n"))
	writeFile(t, filepath.Join(merged, "bad.txt"), []byte{0xff, 0xfe, 0x00})
	p := f.pipeline(nil)

	rep, err := p.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rep.Succeeded != 1 || rep.ByCategory[batch.CategoryDecode] != 1 {
		t.Fatalf("extract report = %+v", rep)
	}
	blocksFile := filepath.Join(f.dir(f.cfg.Paths.Blocks), "ch1", "decrypted_s01-parsed_blocks.txt")
	if got := readFile(t, blocksFile); !strings.HasPrefix(got, "Block 00000:\ncall<$a4eb1e4c>('room')\n") || strings.Count(got, "Block ") != 3 {
		t.Fatalf("blocks file = %q", got)
	}

	rep, err = p.Convert(context.Background())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if rep.Succeeded != 1 {
		t.Fatalf("convert report = %+v", rep)
	}
	doc := readFile(t, filepath.Join(f.dir(f.cfg.Paths.AST), "ch1", "s01.ast"))
	for _, want := range []string{
		`file="room", time=800`,
		`vo = {{"vo", ch="li", file="v001"},},`,
		`ja = {{"「おはよう」"},},`,
		`linknext = "block_00001"`,
		`linkback = "block_00001"`,
		"line = 100",
		`{"exreturn"},`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("ast lacks %q:\n%s", want, doc)
		}
	}
	if strings.Contains(doc, "\n\n") {
		t.Fatalf("ast contains blank lines")
	}

	runs, err := f.journal.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 2 || runs[0].Stage != StageConvert || runs[1].Stage != StageExtract {
		t.Fatalf("journal runs = %+v, %v", runs, err)
	}
	items, _ := f.journal.RunItems(context.Background(), runs[1].ID)
	if len(items) != 2 {
		t.Fatalf("extract items = %+v", items)
	}
}

func TestConvertFile(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "decrypted_x-parsed_blocks.txt")
	writeFile(t, src, []byte("Block 00000:\n#res：hi>\n\n"))
	rep, err := f.pipeline(nil).ConvertFile(context.Background(), src)
	if err != nil || rep.Succeeded != 1 {
		t.Fatalf("ConvertFile = %+v, %v", rep, err)
	}
	if doc := readFile(t, filepath.Join(f.dir(f.cfg.Paths.AST), "x.ast")); !strings.Contains(doc, `ja = {{"hi"},},`) {
		t.Fatalf("unexpected doc:\n%s", doc)
	}
	if _, err := f.pipeline(nil).ConvertFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt")); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestASTName(t *testing.T) {
	cases := map[string]string{
		"decrypted_s01-parsed_blocks.txt":     "s01.ast",
		"plain.txt":                           "plain.ast",
		"dir/decrypted_a.b-parsed_blocks.txt": "a.b.ast",
	}
	for in, want := range cases {
		if got := ASTName(in); got != want {
			t.Fatalf("ASTName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReplaceBGM(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.dir(f.cfg.Paths.BGMList), []byte("bgm01 -> Morning\n"))
	ast := f.dir(f.cfg.Paths.AST)
	writeFile(t, filepath.Join(ast, "r", "a.ast"), []byte(`{"bgm",id=0,file="morning",loop=1},`+"\n"+`{"bgm",id=0,file="night"},`+"\n"))
	writeFile(t, filepath.Join(ast, "b.ast"), []byte(`{"text"},`+"\n"))
	writeFile(t, filepath.Join(ast, "bad.ast"), []byte{0xff})

	rep, err := f.pipeline(nil).ReplaceBGM(context.Background())
	if err != nil {
		t.Fatalf("ReplaceBGM: %v", err)
	}
	if rep.Total != 3 || rep.Succeeded != 1 || rep.Skipped != 1 || rep.Failed() != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if got := readFile(t, filepath.Join(ast, "r", "a.ast")); !strings.Contains(got, `file="bgm01"`) || !strings.Contains(got, `file="night"`) {
		t.Fatalf("a.ast = %s", got)
	}
	reports := f.dir(f.cfg.Paths.Reports)
	if got := readFile(t, filepath.Join(reports, BGMNotFoundReport)); !strings.Contains(got, "night\n") {
		t.Fatalf("not-found report = %s", got)
	}
	if got := readFile(t, filepath.Join(reports, BGMFailedReport)); !strings.Contains(got, "bad.ast") {
		t.Fatalf("failed report = %s", got)
	}
	if ents, _ := os.ReadDir(filepath.Join(f.cfg.JournalDir(), "backups", StageBGM, "r")); len(ents) != 1 {
		t.Fatalf("expected a backup of a.ast, got %v", ents)
	}
}

func TestReplaceBGMNeedsList(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline(nil).ReplaceBGM(context.Background()); err == nil {
		t.Fatalf("expected error without a bgm list")
	}
}

func TestRunStopsWithoutInput(t *testing.T) {
	f := newFixture(t)
	reps, err := f.pipeline(nil).Run(context.Background())
	if !errors.Is(err, ErrNoInput) || len(reps) != 0 {
		t.Fatalf("Run = %v, %v", reps, err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	// merged listings carry #res<text>, so match on that prefix
	f.cfg.Script.Marker = "#res<"
	writeFile(t, filepath.Join(f.dir(f.cfg.Paths.Encrypted), "scene.mjo"), []byte("opaque"))
	r := fakeTools(t,
		"<0> こんにちは\n<1> さようなら\n",
		"call<$812afdf0>('v001')\n#res<0>\npause\n#res<1>\n")

	reps, err := f.pipeline(r).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reps) != 6 {
		t.Fatalf("expected 6 stage reports, got %d", len(reps))
	}
	for _, rep := range reps {
		if !rep.OK() || rep.Succeeded != 1 {
			t.Fatalf("stage %s: %+v", rep.Stage, rep)
		}
	}
	if !strings.Contains(f.out.String(), "== run ==\ntotal: 6  ok: 6  skipped: 0  failed: 0") {
		t.Fatalf("combined summary missing:\n%s", f.out.String())
	}
	doc := readFile(t, filepath.Join(f.dir(f.cfg.Paths.AST), "scene.ast"))
	for _, want := range []string{`file="v001"`, `ja = {{"こんにちは"},},`, `ja = {{"さようなら"},},`, `linkback = "block_00000"`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("ast lacks %q:\n%s", want, doc)
		}
	}
}

func TestRunEndToEndDefaultConfig(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.dir(f.cfg.Paths.Encrypted), "scene.mjo"), []byte("opaque"))
	r := fakeTools(t,
		"<0> こんにちは\n<1> さようなら\n",
		"call<$812afdf0>('v001')\n#res<0>\npause\n#res<1>\n")

	reps, err := f.pipeline(r).Run(context.Background())
	if err != nil || len(reps) != 6 {
		t.Fatalf("Run = %d reports, %v", len(reps), err)
	}
	blocks := readFile(t, filepath.Join(f.dir(f.cfg.Paths.Blocks), "decrypted_scene-parsed_blocks.txt"))
	if strings.Count(blocks, "Block ") != 2 {
		t.Fatalf("merged dialogue not split into blocks:\n%s", blocks)
	}
	doc := readFile(t, filepath.Join(f.dir(f.cfg.Paths.AST), "scene.ast"))
	for _, want := range []string{`vo = {{"vo", ch="li", file="v001"},},`, `ja = {{"こんにちは"},},`, `ja = {{"さようなら"},},`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("ast lacks %q:\n%s", want, doc)
		}
	}
}

func TestRestoreUndoesInPlaceRewrites(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(nil)

	sjsPath := filepath.Join(f.dir(f.cfg.Paths.Disasm), "a.sjs")
	orig := sjis(t, "<0> 「こんにちは」\n")
	writeFile(t, sjsPath, orig)
	if _, err := p.Reencode(context.Background()); err != nil {
		t.Fatalf("Reencode: %v", err)
	}
	if _, err := p.Restore(sjsPath); err != nil {
		t.Fatalf("Restore sjs: %v", err)
	}
	if got := readFile(t, sjsPath); got != string(orig) {
		t.Fatalf("sjs not restored: %q", got)
	}

	writeFile(t, f.dir(f.cfg.Paths.BGMList), []byte("bgm01 -> Morning\n"))
	astPath := filepath.Join(f.dir(f.cfg.Paths.AST), "r", "a.ast")
	before := `{"bgm",id=0,file="morning"},` + "\n"
	writeFile(t, astPath, []byte(before))
	if _, err := p.ReplaceBGM(context.Background()); err != nil {
		t.Fatalf("ReplaceBGM: %v", err)
	}
	if _, err := p.Restore(astPath); err != nil {
		t.Fatalf("Restore ast: %v", err)
	}
	if got := readFile(t, astPath); got != before {
		t.Fatalf("ast not restored: %q", got)
	}

	if _, err := p.Restore(filepath.Join(f.dir(f.cfg.Paths.AST), "never.ast")); !errors.Is(err, storage.ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
	if _, err := p.Restore(filepath.Join(t.TempDir(), "x.ast")); err == nil {
		t.Fatalf("expected error for a file outside the AST dir")
	}
	if _, err := p.Restore("notes.txt"); err == nil {
		t.Fatalf("expected error for a file type without backups")
	}
}
