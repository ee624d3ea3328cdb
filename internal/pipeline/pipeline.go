/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package pipeline implements the porting stages. Each stage enumerates its
// input directory, processes one file at a time through batch.Runner, records
// the outcome in the run journal and prints a report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"artemisport/internal/batch"
	"artemisport/internal/config"
	applog "artemisport/internal/log"
	"artemisport/internal/script"
	"artemisport/internal/storage"
	"artemisport/internal/tool"
)

// Stage names as recorded in the journal.
const (
	StageDecrypt  = "decrypt"
	StageDisasm   = "disasm"
	StageReencode = "reencode"
	StageMerge    = "merge"
	StageExtract  = "extract"
	StageConvert  = "convert"
	StageBGM      = "bgm"
	// StageRun names the combined summary of a full run.
	StageRun = "run"
)

// ErrNoInput is returned when a stage's input directory does not exist.
var ErrNoInput = errors.New("input directory does not exist")

// Pipeline holds what every stage needs.
type Pipeline struct {
	cfg     config.AppConfig
	runner  tool.Runner
	journal *storage.Journal // nil disables journaling
	out     io.Writer
	opts    script.Options
}

// New wires a pipeline. journal may be nil; out receives the stage reports.
func New(cfg config.AppConfig, runner tool.Runner, journal *storage.Journal, out io.Writer) *Pipeline {
	if out == nil {
		out = io.Discard
	}
	return &Pipeline{
		cfg:     cfg,
		runner:  runner,
		journal: journal,
		out:     out,
		opts: script.Options{
			Marker:       cfg.Script.Marker,
			VoiceChannel: cfg.Script.VoiceChannel,
			Title:        cfg.Script.Title,
			ChapterFlag:  cfg.Script.ChapterFlag,
			InitialBG:    cfg.Script.InitialBG,
		},
	}
}

func (p *Pipeline) path(rel string) string { return p.cfg.Resolve(rel) }

func (p *Pipeline) backupDir(stage string) string {
	return filepath.Join(p.cfg.JournalDir(), "backups", stage)
}

// stage runs fn over items, journals every outcome and prints the report.
func (p *Pipeline) stage(ctx context.Context, name string, items []string, fn batch.Func) *batch.Report {
	l := applog.WithOperation(applog.WithComponent("pipeline"), name)
	runID := ""
	if p.journal != nil {
		id, err := p.journal.BeginRun(ctx, name)
		if err != nil {
			l.Warn("journal unavailable for this run", slog.Any("err", err))
		} else {
			runID = id
			ctx = applog.WithRun(ctx, runID)
		}
	}
	r := batch.Runner{Stage: name}
	if runID != "" {
		r.OnItem = func(o batch.Outcome) {
			it := storage.Item{
				Path:       o.Item,
				Output:     o.Output.Path,
				Status:     string(o.Status),
				Category:   string(o.Category),
				InputHash:  o.Output.InputHash,
				OutputHash: o.Output.OutputHash,
				Duration:   o.Duration,
			}
			if o.Err != nil {
				it.Message = o.Err.Error()
			}
			if err := p.journal.RecordItem(ctx, runID, it); err != nil {
				l.WarnContext(ctx, "journal record failed", slog.Any("err", err))
			}
		}
	}
	rep := r.Run(ctx, items, fn)
	if runID != "" {
		s := storage.Summary{Total: rep.Total, Succeeded: rep.Succeeded, Skipped: rep.Skipped, Failed: rep.Failed(), Interrupted: rep.Interrupted}
		// the run context may already be cancelled; the summary must still land
		if err := p.journal.FinishRun(context.WithoutCancel(ctx), runID, s); err != nil {
			l.WarnContext(ctx, "journal finish failed", slog.Any("err", err))
		}
	}
	if _, err := rep.WriteTo(p.out); err != nil {
		l.Warn("write report failed", slog.Any("err", err))
	}
	return rep
}

func requireDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoInput, dir)
	}
	return nil
}

func hasExt(name, ext string) bool { return strings.EqualFold(filepath.Ext(name), ext) }

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// listFlat returns the files with extension ext directly inside dir, sorted.
func listFlat(dir, ext string) ([]string, error) {
	if err := requireDir(dir); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range ents {
		if e.Type().IsRegular() && hasExt(e.Name(), ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// walkTree returns every file with extension ext below dir in lexical order.
func walkTree(dir, ext string) ([]string, error) {
	if err := requireDir(dir); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && hasExt(d.Name(), ext) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return out, nil
}

// mirror maps path below srcRoot to the same relative directory below dstRoot
// with a new file name.
func mirror(srcRoot, path, dstRoot, name string) (string, error) {
	rel, err := filepath.Rel(srcRoot, filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(dstRoot, rel, name), nil
}

// hashed fills the output hashes of a written file.
func hashed(out batch.Output, data []byte) batch.Output {
	out.OutputHash = storage.HashBytes(data)
	return out
}
