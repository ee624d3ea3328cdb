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
	"unicode/utf8"

	"artemisport/internal/batch"
	applog "artemisport/internal/log"
	"artemisport/internal/resmerge"
	"artemisport/internal/script"
	"artemisport/internal/storage"
	"artemisport/internal/textenc"
)

// Reencode converts every .sjs in the disasm dir from Shift-JIS to UTF-8 in
// place. Files whose content matches the journal's last re-encode output are
// skipped.
func (p *Pipeline) Reencode(ctx context.Context) (*batch.Report, error) {
	dir := p.path(p.cfg.Paths.Disasm)
	items, err := listFlat(dir, ".sjs")
	if err != nil {
		return nil, err
	}
	return p.stage(ctx, StageReencode, items, func(ctx context.Context, item string) (batch.Output, error) {
		data, err := os.ReadFile(item)
		if err != nil {
			return batch.Output{}, err
		}
		in := storage.HashBytes(data)
		if p.journal != nil {
			if last, ok, err := p.journal.LastOutputHash(ctx, StageReencode, item); err == nil && ok && last == in {
				return batch.Output{Path: item, InputHash: in, OutputHash: in}, batch.Skip("already utf-8")
			}
		}
		text, err := textenc.DecodeShiftJIS(data)
		if err != nil {
			return batch.Output{}, &batch.DecodeError{Path: item, Err: err}
		}
		if _, err := storage.BackupXZ(item, p.backupDir(StageReencode)); err != nil {
			return batch.Output{}, fmt.Errorf("backup: %w", err)
		}
		if err := storage.WriteFileAtomic(item, text); err != nil {
			return batch.Output{}, err
		}
		return hashed(batch.Output{Path: item, InputHash: in}, text), nil
	}), nil
}

// Merge puts the resource strings of each .sjs into its .mjs and writes
// <stem>.txt into the merged dir.
func (p *Pipeline) Merge(ctx context.Context) (*batch.Report, error) {
	src, dst := p.path(p.cfg.Paths.Disasm), p.path(p.cfg.Paths.Merged)
	items, err := listFlat(src, ".mjs")
	if err != nil {
		return nil, err
	}
	l := applog.WithOperation(applog.WithComponent("pipeline"), StageMerge)
	return p.stage(ctx, StageMerge, items, func(ctx context.Context, item string) (batch.Output, error) {
		sjs := filepath.Join(filepath.Dir(item), stem(item)+".sjs")
		if _, err := os.Stat(sjs); err != nil {
			return batch.Output{}, &batch.MissingCounterpartError{Path: item, Want: filepath.Base(sjs)}
		}
		resData, err := readUTF8(sjs)
		if err != nil {
			return batch.Output{}, err
		}
		table, err := resmerge.ParseResources(bytes.NewReader(resData))
		if err != nil {
			return batch.Output{}, err
		}
		listing, err := readUTF8(item)
		if err != nil {
			return batch.Output{}, err
		}
		merged, st := resmerge.Merge(string(listing), table)
		if st.Unresolved > 0 {
			l.DebugContext(ctx, "unresolved resource references", slog.String("item", item), slog.Int("count", st.Unresolved))
		}
		out := filepath.Join(dst, stem(item)+".txt")
		if err := storage.WriteFileAtomic(out, []byte(merged)); err != nil {
			return batch.Output{}, err
		}
		return hashed(batch.Output{Path: out, InputHash: storage.HashBytes(listing)}, []byte(merged)), nil
	}), nil
}

// Extract splits every merged .txt into dialogue blocks and writes
// <stem>-parsed_blocks.txt, mirroring sub-directories.
func (p *Pipeline) Extract(ctx context.Context) (*batch.Report, error) {
	src, dst := p.path(p.cfg.Paths.Merged), p.path(p.cfg.Paths.Blocks)
	items, err := walkTree(src, ".txt")
	if err != nil {
		return nil, err
	}
	l := applog.WithOperation(applog.WithComponent("pipeline"), StageExtract)
	return p.stage(ctx, StageExtract, items, func(ctx context.Context, item string) (batch.Output, error) {
		data, err := readUTF8(item)
		if err != nil {
			return batch.Output{}, err
		}
		lines, err := script.ReadLines(bytes.NewReader(data))
		if err != nil {
			return batch.Output{}, err
		}
		marker, n := script.DetectMarker(lines, p.opts.Marker)
		if n == 0 && len(lines) > 0 {
			l.WarnContext(ctx, "no dialogue lines found; check script.marker", slog.String("item", item), slog.String("marker", marker))
		}
		blocks := script.Split(lines, marker)
		var buf bytes.Buffer
		if err := script.WriteBlocks(&buf, blocks); err != nil {
			return batch.Output{}, err
		}
		out, err := mirror(src, item, dst, stem(item)+"-parsed_blocks.txt")
		if err != nil {
			return batch.Output{}, err
		}
		if err := storage.WriteFileAtomic(out, buf.Bytes()); err != nil {
			return batch.Output{}, err
		}
		return hashed(batch.Output{Path: out, InputHash: storage.HashBytes(data)}, buf.Bytes()), nil
	}), nil
}

// readUTF8 reads a text file that must already be UTF-8.
func readUTF8(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, &batch.DecodeError{Path: path, Err: fmt.Errorf("invalid utf-8")}
	}
	return data, nil
}
