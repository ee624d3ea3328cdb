/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"artemisport/internal/batch"
	"artemisport/internal/storage"
	"artemisport/internal/textenc"
	"artemisport/internal/tool"
)

// Decrypt runs mjcrypt on every .mjo in the encrypted dir and writes
// decrypted_<name> into the decrypted dir.
func (p *Pipeline) Decrypt(ctx context.Context) (*batch.Report, error) {
	src, dst := p.path(p.cfg.Paths.Encrypted), p.path(p.cfg.Paths.Decrypted)
	items, err := listFlat(src, ".mjo")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	return p.stage(ctx, StageDecrypt, items, func(ctx context.Context, item string) (batch.Output, error) {
		out := filepath.Join(dst, "decrypted_"+filepath.Base(item))
		in, err := storage.HashFile(item)
		if err != nil {
			return batch.Output{}, err
		}
		res, err := p.runner.Run(ctx, tool.Command{Path: p.cfg.Tools.Mjcrypt, Args: []string{item, out}})
		if err != nil {
			return batch.Output{}, &batch.ToolError{Tool: "mjcrypt", Path: item, Message: err.Error(), Err: err}
		}
		if res.ExitCode != 0 {
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = "unknown error"
			}
			return batch.Output{}, &batch.ToolError{Tool: "mjcrypt", Path: item, ExitCode: res.ExitCode, Message: msg}
		}
		o := batch.Output{Path: out, InputHash: in}
		if h, err := storage.HashFile(out); err == nil {
			o.OutputHash = h
		}
		return o, nil
	}), nil
}

// Disassemble runs mjdisasm on every decrypted .mjo with the tool's directory
// as working directory and moves the generated .sjs and .mjs into the disasm dir.
func (p *Pipeline) Disassemble(ctx context.Context) (*batch.Report, error) {
	src, dst := p.path(p.cfg.Paths.Decrypted), p.path(p.cfg.Paths.Disasm)
	items, err := listFlat(src, ".mjo")
	if err != nil {
		return nil, err
	}
	exe, dir, err := toolLocation(p.cfg.Tools.Mjdisasm)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	return p.stage(ctx, StageDisasm, items, func(ctx context.Context, item string) (batch.Output, error) {
		abs, err := filepath.Abs(item)
		if err != nil {
			return batch.Output{}, err
		}
		res, err := p.runner.Run(ctx, tool.Command{Path: exe, Args: []string{abs}, Dir: dir, Decode: textenc.Lenient})
		if err != nil {
			return batch.Output{}, &batch.ToolError{Tool: "mjdisasm", Path: item, Message: err.Error(), Err: err}
		}
		if res.ExitCode != 0 {
			return batch.Output{}, &batch.ToolError{Tool: "mjdisasm", Path: item, ExitCode: res.ExitCode, Message: strings.TrimSpace(res.Stderr)}
		}
		base := stem(item)
		found := 0
		for _, ext := range []string{".sjs", ".mjs"} {
			gen := filepath.Join(dir, base+ext)
			if _, err := os.Stat(gen); err != nil {
				continue
			}
			if err := moveFile(gen, filepath.Join(dst, base+ext)); err != nil {
				return batch.Output{}, fmt.Errorf("move %s: %w", gen, err)
			}
			found++
		}
		if found != 2 {
			return batch.Output{}, &batch.ToolError{Tool: "mjdisasm", Path: item, Message: fmt.Sprintf("missing generated files: found %d/2", found)}
		}
		return batch.Output{Path: filepath.Join(dst, base+".mjs")}, nil
	}), nil
}

// toolLocation returns the absolute executable path and its directory. A bare
// name is looked up in PATH.
func toolLocation(path string) (string, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("tool path is not configured")
	}
	exe := path
	if filepath.Base(path) == path {
		lp, err := exec.LookPath(path)
		if err != nil {
			return "", "", fmt.Errorf("find %s: %w", path, err)
		}
		exe = lp
	}
	abs, err := filepath.Abs(exe)
	if err != nil {
		return "", "", err
	}
	return abs, filepath.Dir(abs), nil
}

// moveFile renames src to dst, copying across devices when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(dst, data); err != nil {
		return err
	}
	return os.Remove(src)
}
