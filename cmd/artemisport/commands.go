/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"artemisport/internal/batch"
	"artemisport/internal/config"
	"artemisport/internal/version"
)

// finish turns failed reports into errStageFailed.
func finish(reps ...*batch.Report) error {
	for _, r := range reps {
		if r != nil && !r.OK() {
			return errStageFailed
		}
	}
	return nil
}

type DecryptCmd struct{}

func (c *DecryptCmd) Run(a *app) error {
	rep, err := a.pipeline().Decrypt(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

type DisasmCmd struct{}

func (c *DisasmCmd) Run(a *app) error {
	rep, err := a.pipeline().Disassemble(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

type ReencodeCmd struct{}

func (c *ReencodeCmd) Run(a *app) error {
	rep, err := a.pipeline().Reencode(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

type MergeCmd struct{}

func (c *MergeCmd) Run(a *app) error {
	rep, err := a.pipeline().Merge(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

type ExtractCmd struct{}

func (c *ExtractCmd) Run(a *app) error {
	rep, err := a.pipeline().Extract(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

// ConvertCmd converts the whole blocks tree or a single file.
type ConvertCmd struct {
	File string `name:"file" short:"f" help:"Convert only this blocks file into the AST dir root" type:"path"`
}

func (c *ConvertCmd) Run(a *app) error {
	p := a.pipeline()
	var (
		rep *batch.Report
		err error
	)
	if c.File != "" {
		rep, err = p.ConvertFile(a.ctx, c.File)
	} else {
		rep, err = p.Convert(a.ctx)
	}
	if err != nil {
		return err
	}
	return finish(rep)
}

// BGMCmd rewrites bgm entries of the converted tables.
type BGMCmd struct {
	List string `name:"list" help:"BGM list file (overrides paths.bgm_list)" type:"path"`
}

func (c *BGMCmd) Run(a *app) error {
	if c.List != "" {
		a.cfg.Paths.BGMList = c.List
	}
	rep, err := a.pipeline().ReplaceBGM(a.ctx)
	if err != nil {
		return err
	}
	return finish(rep)
}

// RunCmd runs every stage from decrypt to convert.
type RunCmd struct {
	BGM bool `name:"bgm" help:"Replace bgm names after converting"`
}

func (c *RunCmd) Run(a *app) error {
	p := a.pipeline()
	reps, err := p.Run(a.ctx)
	if err != nil {
		return err
	}
	if c.BGM {
		rep, err := p.ReplaceBGM(a.ctx)
		if err != nil {
			return err
		}
		reps = append(reps, rep)
	}
	return finish(reps...)
}

// JournalCmd groups the journal commands.
type JournalCmd struct {
	List    JournalListCmd    `cmd:"" help:"List recent runs"`
	Items   JournalItemsCmd   `cmd:"" help:"Show the items of one run"`
	Prune   JournalPruneCmd   `cmd:"" help:"Delete runs older than a duration"`
	Restore JournalRestoreCmd `cmd:"" help:"Restore a re-encoded .sjs or bgm-rewritten .ast from its newest backup"`
}

var errNoJournal = errors.New("journal is disabled or unavailable")

type JournalListCmd struct {
	Limit int `name:"limit" short:"n" default:"20" help:"Maximum number of runs (0 = all)"`
}

func (c *JournalListCmd) Run(a *app) error {
	if a.journal == nil {
		return errNoJournal
	}
	runs, err := a.journal.ListRuns(a.ctx, c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTAGE\tSTARTED\tTOTAL\tOK\tSKIPPED\tFAILED")
	for _, r := range runs {
		state := ""
		if r.Interrupted {
			state = " (interrupted)"
		} else if r.FinishedAt.IsZero() {
			state = " (unfinished)"
		}
		fmt.Fprintf(tw, "%s\t%s%s\t%s\t%d\t%d\t%d\t%d\n", r.ID, r.Stage, state,
			r.StartedAt.Local().Format(time.DateTime), r.Total, r.Succeeded, r.Skipped, r.Failed)
	}
	return tw.Flush()
}

type JournalItemsCmd struct {
	RunID  string `arg:"" name:"run" help:"Run id"`
	Failed bool   `name:"failed" help:"Only show failed items"`
}

func (c *JournalItemsCmd) Run(a *app) error {
	if a.journal == nil {
		return errNoJournal
	}
	items, err := a.journal.RunItems(a.ctx, c.RunID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tITEM\tOUTPUT\tDURATION\tMESSAGE")
	for _, it := range items {
		if c.Failed && it.Status != string(batch.StatusFailed) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.Status, it.Path, it.Output, it.Duration.Round(time.Millisecond), it.Message)
	}
	return tw.Flush()
}

type JournalPruneCmd struct {
	OlderThan time.Duration `name:"older-than" default:"720h" help:"Age of runs to delete"`
}

func (c *JournalPruneCmd) Run(a *app) error {
	if a.journal == nil {
		return errNoJournal
	}
	n, err := a.journal.Prune(a.ctx, time.Now().Add(-c.OlderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pruned %d run(s)\n", n)
	return nil
}

type JournalRestoreCmd struct {
	Files []string `arg:"" help:"Files to restore" type:"path"`
}

func (c *JournalRestoreCmd) Run(a *app) error {
	p := a.pipeline()
	var failed bool
	for _, f := range c.Files {
		bak, err := p.Restore(f)
		if err != nil {
			fmt.Fprintf(a.out, "x %s: %v\n", f, err)
			failed = true
			continue
		}
		fmt.Fprintf(a.out, "restored %s from %s\n", f, filepath.Base(bak))
	}
	if failed {
		return errStageFailed
	}
	return nil
}

// ConfigCmd groups the config commands.
type ConfigCmd struct {
	Init     ConfigInitCmd     `cmd:"" help:"Write a config file with default values"`
	Show     ConfigShowCmd     `cmd:"" help:"Print the effective config"`
	Validate ConfigValidateCmd `cmd:"" help:"Validate the effective config"`
	Path     ConfigPathCmd     `cmd:"" help:"Print where the config is looked up"`
}

type ConfigInitCmd struct {
	Force bool `name:"force" help:"Overwrite an existing file"`
}

func (c *ConfigInitCmd) Run(a *app) error {
	path := a.globals.Config
	if path == "" {
		path = config.FileName
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := config.Defaults()
	if a.globals.Workspace != "" {
		cfg.Workspace = a.globals.Workspace
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)
	fmt.Fprintln(a.out, "wrote", abs)
	return nil
}

type ConfigShowCmd struct {
	Schema bool `name:"schema" help:"Print the JSON schema the config is validated against"`
}

func (c *ConfigShowCmd) Run(a *app) error {
	if c.Schema {
		_, err := a.out.Write(config.Schema())
		return err
	}
	src := a.cfgPath
	if src == "" {
		src = "built-in defaults"
	}
	fmt.Fprintf(a.out, "# source: %s\n", src)
	for _, key := range config.EnvOverrides() {
		env, _ := config.EnvOverrideFor(key)
		fmt.Fprintf(a.out, "# %s overridden by %s\n", key, env)
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(a.cfg); err != nil {
		return err
	}
	return enc.Close()
}

type ConfigValidateCmd struct{}

func (c *ConfigValidateCmd) Run(a *app) error {
	if err := config.Validate(a.cfg); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			for _, p := range ve.Problems {
				fmt.Fprintln(a.out, "-", p)
			}
		}
		return err
	}
	fmt.Fprintln(a.out, "config ok")
	return nil
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(a *app) error {
	if p, err := config.Locate(a.globals.Config); err == nil && p != "" {
		fmt.Fprintln(a.out, "active:", p)
	}
	if p, err := config.ConfigPath(); err == nil {
		fmt.Fprintln(a.out, "user:  ", p)
	}
	fmt.Fprintln(a.out, "local: ", config.FileName)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	fmt.Fprintln(a.out, "artemisport", version.String())
	return nil
}
