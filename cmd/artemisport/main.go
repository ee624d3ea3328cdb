/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Command artemisport ports Majiro scripts to Artemis .ast tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"artemisport/internal/config"
	"artemisport/internal/crash"
	applog "artemisport/internal/log"
	"artemisport/internal/pipeline"
	"artemisport/internal/storage"
	"artemisport/internal/tool"
)

// errStageFailed marks a command whose stages ran but reported failures.
var errStageFailed = errors.New("one or more items failed")

// Globals are the flags shared by every command.
type Globals struct {
	Config    string `name:"config" short:"c" help:"Config file (default ./artemisport.yaml or the per-user config)" type:"path"`
	Workspace string `name:"workspace" short:"w" help:"Workspace directory all relative paths resolve against" type:"path"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" help:"Log format (console, json)"`
	LogFile   string `name:"log-file" help:"Also write JSON logs to this rotating file" type:"path"`
	NoJournal bool   `name:"no-journal" help:"Do not record runs in the workspace journal"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Decrypt  DecryptCmd  `cmd:"" help:"Decrypt .mjo scripts with mjcrypt"`
	Disasm   DisasmCmd   `cmd:"" help:"Disassemble decrypted scripts with mjdisasm"`
	Reencode ReencodeCmd `cmd:"" help:"Re-encode Shift-JIS resource files to UTF-8 in place"`
	Merge    MergeCmd    `cmd:"" help:"Merge resource strings into the disassembly"`
	Extract  ExtractCmd  `cmd:"" help:"Split merged scripts into dialogue blocks"`
	Convert  ConvertCmd  `cmd:"" help:"Convert blocks files into Artemis .ast tables"`
	BGM      BGMCmd      `cmd:"" name:"bgm" help:"Replace bgm file names in .ast tables"`
	Run      RunCmd      `cmd:"" help:"Run decrypt through convert in order"`
	Journal  JournalCmd  `cmd:"" help:"Inspect the run journal"`
	Cfg      ConfigCmd   `cmd:"" name:"config" help:"Create, show and validate the config"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// app is bound into every command's Run method.
type app struct {
	ctx      context.Context
	globals  Globals
	cfg      config.AppConfig
	cfgPath  string
	journal  *storage.Journal
	out      io.Writer
	stateDir string
}

// needsConfig reports whether a command works on a workspace.
func needsConfig(command string) bool {
	switch {
	case command == "version", strings.HasPrefix(command, "config init"), strings.HasPrefix(command, "config path"):
		return false
	}
	return true
}

// setup loads the effective config, applies the global flags, reconfigures
// logging and opens the journal.
func (a *app) setup() error {
	cfg, path, err := config.Load(a.globals.Config)
	if err != nil {
		return err
	}
	if a.globals.Workspace != "" {
		cfg.Workspace = a.globals.Workspace
	}
	if a.globals.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.globals.LogLevel)
	}
	if a.globals.LogFormat != "" {
		cfg.Logging.Format = strings.ToLower(a.globals.LogFormat)
	}
	if a.globals.LogFile != "" {
		cfg.Logging.File = a.globals.LogFile
	}
	if a.globals.NoJournal {
		cfg.Journal.Enabled = false
	}
	a.cfg, a.cfgPath = cfg, path
	a.stateDir = cfg.JournalDir()

	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("cli")
	l.Debug("config loaded", slog.String("path", path), slog.String("workspace", cfg.Workspace))

	if cfg.Journal.Enabled {
		j, err := storage.OpenJournal(a.stateDir)
		if err != nil {
			// runs still work without a journal, only skip detection is lost
			l.Warn("journal unavailable", slog.Any("err", err), slog.String("dir", a.stateDir))
		} else {
			a.journal = j
		}
	}
	return nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			applog.WithComponent("cli").Warn("close journal", slog.Any("err", err))
		}
	}
}

func (a *app) pipeline() *pipeline.Pipeline {
	runner := tool.ExecRunner{Timeout: time.Duration(a.cfg.Tools.TimeoutMs) * time.Millisecond}
	return pipeline.New(a.cfg, runner, a.journal, a.out)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes the selected command and returns the exit code:
// 0 on success, 1 when a command or any item failed, 2 for usage errors.
func run(args []string, stdout, stderr io.Writer) int {
	applog.Init(applog.FromEnv())

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("artemisport"),
		kong.Description("Port Majiro visual-novel scripts to Artemis .ast tables"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		fmt.Fprintln(stderr, "artemisport:", err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, "artemisport:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	a := &app{ctx: ctx, globals: cli.Globals, out: stdout}
	if needsConfig(kctx.Command()) {
		if err := a.setup(); err != nil {
			fmt.Fprintln(stderr, "artemisport:", err)
			return 1
		}
		defer a.close()
	}
	return execute(kctx, a, args, stderr)
}

func execute(kctx *kong.Context, a *app, args []string, stderr io.Writer) int {
	defer crash.Recover(a.stateDir, args)
	err := kctx.Run(a)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errStageFailed):
		return 1
	default:
		applog.WithComponent("cli").Error("command failed", slog.String("command", kctx.Command()), slog.Any("err", err))
		fmt.Fprintln(stderr, "artemisport:", err)
		return 1
	}
}
