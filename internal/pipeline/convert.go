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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"artemisport/internal/batch"
	"artemisport/internal/bgm"
	applog "artemisport/internal/log"
	"artemisport/internal/script"
	"artemisport/internal/storage"
)

// ASTName derives the output name of a blocks file: the decrypted_ and
// -parsed_blocks decorations are dropped and the extension becomes .ast.
func ASTName(blocksFile string) string {
	name := filepath.Base(blocksFile)
	name = strings.ReplaceAll(name, "decrypted_", "")
	name = strings.ReplaceAll(name, "-parsed_blocks", "")
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".ast"
}

// Convert turns every blocks file below the blocks dir into an .ast document,
// mirroring sub-directories.
func (p *Pipeline) Convert(ctx context.Context) (*batch.Report, error) {
	src, dst := p.path(p.cfg.Paths.Blocks), p.path(p.cfg.Paths.AST)
	items, err := walkTree(src, ".txt")
	if err != nil {
		return nil, err
	}
	return p.stage(ctx, StageConvert, items, func(ctx context.Context, item string) (batch.Output, error) {
		out, err := mirror(src, item, dst, ASTName(item))
		if err != nil {
			return batch.Output{}, err
		}
		return p.convertOne(item, out)
	}), nil
}

// ConvertFile converts a single blocks file into the root of the AST dir.
func (p *Pipeline) ConvertFile(ctx context.Context, file string) (*batch.Report, error) {
	if fi, err := os.Stat(file); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoInput, file)
	}
	dst := p.path(p.cfg.Paths.AST)
	return p.stage(ctx, StageConvert, []string{file}, func(ctx context.Context, item string) (batch.Output, error) {
		return p.convertOne(item, filepath.Join(dst, ASTName(item)))
	}), nil
}

func (p *Pipeline) convertOne(item, out string) (batch.Output, error) {
	data, err := readUTF8(item)
	if err != nil {
		return batch.Output{}, err
	}
	blocks, err := script.ParseBlocks(bytes.NewReader(data))
	if err != nil {
		return batch.Output{}, err
	}
	var lines []string
	for _, b := range blocks {
		lines = append(lines, b.Lines...)
	}
	opts := p.opts
	opts.Marker, _ = script.DetectMarker(lines, opts.Marker)
	doc := []byte(script.Convert(blocks, opts))
	if err := storage.WriteFileAtomic(out, doc); err != nil {
		return batch.Output{}, err
	}
	return hashed(batch.Output{Path: out, InputHash: storage.HashBytes(data)}, doc), nil
}

// Report file names written by ReplaceBGM into the reports dir.
const (
	BGMNotFoundReport = "bgm_not_found.txt"
	BGMFailedReport   = "bgm_failed_files.txt"
)

// ReplaceBGM rewrites bgm file names in every .ast below the AST dir using the
// configured list. Changed files are backed up first. Unmapped names and failed
// files are written to the reports dir when there are any.
func (p *Pipeline) ReplaceBGM(ctx context.Context) (*batch.Report, error) {
	listPath := p.path(p.cfg.Paths.BGMList)
	f, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("bgm list: %w", err)
	}
	mapping, err := bgm.LoadMapping(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("bgm list %s has no mappings", listPath)
	}
	dir := p.path(p.cfg.Paths.AST)
	items, err := walkTree(dir, ".ast")
	if err != nil {
		return nil, err
	}
	var notFound []string
	rep := p.stage(ctx, StageBGM, items, func(ctx context.Context, item string) (batch.Output, error) {
		data, err := readUTF8(item)
		if err != nil {
			return batch.Output{}, err
		}
		updated, missing := bgm.Replace(string(data), mapping)
		notFound = append(notFound, missing...)
		in := storage.HashBytes(data)
		if updated == string(data) {
			return batch.Output{Path: item, InputHash: in, OutputHash: in}, batch.Skip("no bgm entries changed")
		}
		rel, err := filepath.Rel(dir, filepath.Dir(item))
		if err != nil {
			return batch.Output{}, err
		}
		if _, err := storage.BackupXZ(item, filepath.Join(p.backupDir(StageBGM), rel)); err != nil {
			return batch.Output{}, fmt.Errorf("backup: %w", err)
		}
		if err := storage.WriteFileAtomic(item, []byte(updated)); err != nil {
			return batch.Output{}, err
		}
		return hashed(batch.Output{Path: item, InputHash: in}, []byte(updated)), nil
	})

	reports := p.path(p.cfg.Paths.Reports)
	if len(notFound) > 0 {
		var buf bytes.Buffer
		if err := bgm.WriteNotFound(&buf, notFound); err != nil {
			return rep, err
		}
		if err := storage.WriteFileAtomic(filepath.Join(reports, BGMNotFoundReport), buf.Bytes()); err != nil {
			return rep, err
		}
	}
	if rep.Failed() > 0 {
		failed := make([]string, 0, rep.Failed())
		for _, fl := range rep.Failures {
			failed = append(failed, fl.Item)
		}
		var buf bytes.Buffer
		if err := bgm.WriteFailed(&buf, failed); err != nil {
			return rep, err
		}
		if err := storage.WriteFileAtomic(filepath.Join(reports, BGMFailedReport), buf.Bytes()); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// Run executes decrypt, disassemble, re-encode, merge, extract and convert in
// order, prints a combined summary and returns one report per stage. It stops at the first stage that
// cannot start.
func (p *Pipeline) Run(ctx context.Context) ([]*batch.Report, error) {
	steps := []func(context.Context) (*batch.Report, error){
		p.Decrypt, p.Disassemble, p.Reencode, p.Merge, p.Extract, p.Convert,
	}
	var reps []*batch.Report
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return reps, err
		}
		rep, err := step(ctx)
		if err != nil {
			return reps, err
		}
		reps = append(reps, rep)
	}
	if _, err := batch.Combine(StageRun, reps).WriteTo(p.out); err != nil {
		applog.WithComponent("pipeline").Warn("write run summary failed", slog.Any("err", err))
	}
	return reps, nil
}
