/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted as YAML.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Relative paths are resolved against Workspace.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version" json:"config_version"`
	Workspace     string        `yaml:"workspace" json:"workspace"`
	Tools         ToolsConfig   `yaml:"tools" json:"tools"`
	Paths         PathsConfig   `yaml:"paths" json:"paths"`
	Script        ScriptConfig  `yaml:"script" json:"script"`
	Logging       LoggingConfig `yaml:"logging" json:"logging"`
	Journal       JournalConfig `yaml:"journal" json:"journal"`
}

// ToolsConfig points at the external decryptor and disassembler.
type ToolsConfig struct {
	Mjcrypt   string `yaml:"mjcrypt" json:"mjcrypt"`
	Mjdisasm  string `yaml:"mjdisasm" json:"mjdisasm"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"` // 0 disables the per-invocation timeout
}

// PathsConfig holds the directory of every stage. Each stage reads the previous one's output.
type PathsConfig struct {
	Encrypted string `yaml:"encrypted" json:"encrypted"`
	Decrypted string `yaml:"decrypted" json:"decrypted"`
	Disasm    string `yaml:"disasm" json:"disasm"`
	Merged    string `yaml:"merged" json:"merged"`
	Blocks    string `yaml:"blocks" json:"blocks"`
	AST       string `yaml:"ast" json:"ast"`
	BGMList   string `yaml:"bgm_list" json:"bgm_list"`
	Reports   string `yaml:"reports" json:"reports"`
}

// ScriptConfig tunes the block splitter, the line mapper and the document header.
type ScriptConfig struct {
	Marker       string `yaml:"marker" json:"marker"`
	VoiceChannel string `yaml:"voice_channel" json:"voice_channel"`
	Title        string `yaml:"title" json:"title"`
	ChapterFlag  string `yaml:"chapter_flag" json:"chapter_flag"`
	InitialBG    string `yaml:"initial_bg" json:"initial_bg"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Source bool   `yaml:"source" json:"source"`
	File   string `yaml:"file" json:"file"`
}

// JournalConfig controls the per-workspace SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
}

// FileName is the config file looked up in the working directory.
const FileName = "artemisport.yaml"

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Workspace:     ".",
		Tools:         ToolsConfig{Mjcrypt: "mjcrypt.exe", Mjdisasm: "mjdisasm.exe"},
		Paths: PathsConfig{
			Encrypted: filepath.Join("mjo", "encrypted"),
			Decrypted: filepath.Join("mjo", "decrypted"),
			Disasm:    filepath.Join("mjo", "disasm"),
			Merged:    filepath.Join("script", "merged"),
			Blocks:    filepath.Join("script", "blocks"),
			AST:       filepath.Join("script", "ast"),
			BGMList:   "bgm-list.txt",
			Reports:   "reports",
		},
		Script: ScriptConfig{
			Marker:       "#res：",
			VoiceChannel: "li",
			Title:        "chapter 章节",
			ChapterFlag:  "g.chap01=1",
			InitialBG:    "black",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Journal: JournalConfig{Enabled: true, Dir: ".artemisport"},
	}
}

// Env var names used as overrides.
const (
	EnvWorkspace   = "AP_WORKSPACE"
	EnvMjcrypt     = "AP_MJCRYPT"
	EnvMjdisasm    = "AP_MJDISASM"
	EnvToolTimeout = "AP_TOOL_TIMEOUT_MS"
	EnvMarker      = "AP_MARKER"
	EnvJournal     = "AP_JOURNAL"

	// logging
	EnvLogLevel  = "AP_LOG_LEVEL"
	EnvLogFormat = "AP_LOG_FORMAT"
	EnvLogSource = "AP_LOG_SOURCE"
	EnvLogFile   = "AP_LOG_FILE"
)

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "ArtemisPort")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "ArtemisPort")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "artemisport")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "artemisport")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Locate picks the config file to load: the explicit path if given, otherwise
// ./artemisport.yaml, otherwise the per-user file. It returns "" when none exists.
func Locate(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	if _, err := os.Stat(FileName); err == nil {
		return FileName, nil
	}
	p, err := ConfigPath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return "", nil
}

// Load reads the config file (if any), applies defaults and merges environment overrides.
// It returns the effective config and the path it was read from ("" for defaults only).
func Load(explicit string) (AppConfig, string, error) {
	cfg := Defaults()
	path, err := Locate(explicit)
	if err != nil {
		return cfg, "", err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, path, fmt.Errorf("read config: %w", err)
		}
		// unmarshal over defaults so absent keys keep their default value
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, path, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	normalize(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, path, nil
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg AppConfig, path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func normalize(cfg *AppConfig) {
	d := Defaults()
	if strings.TrimSpace(cfg.Workspace) == "" {
		cfg.Workspace = d.Workspace
	}
	cfg.Tools.Mjcrypt = strings.TrimSpace(cfg.Tools.Mjcrypt)
	cfg.Tools.Mjdisasm = strings.TrimSpace(cfg.Tools.Mjdisasm)
	// the marker is matched verbatim, only surrounding blanks are dropped
	cfg.Script.Marker = strings.TrimSpace(cfg.Script.Marker)
	if cfg.Script.Marker == "" {
		cfg.Script.Marker = d.Script.Marker
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvWorkspace)); v != "" {
		cfg.Workspace = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMjcrypt)); v != "" {
		cfg.Tools.Mjcrypt = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMjdisasm)); v != "" {
		cfg.Tools.Mjdisasm = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToolTimeout)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tools.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvMarker)); v != "" {
		cfg.Script.Marker = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJournal)); v != "" {
		cfg.Journal.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// envKeys maps dotted config keys to the variables that override them.
var envKeys = map[string]string{
	"workspace":        EnvWorkspace,
	"tools.mjcrypt":    EnvMjcrypt,
	"tools.mjdisasm":   EnvMjdisasm,
	"tools.timeout_ms": EnvToolTimeout,
	"script.marker":    EnvMarker,
	"journal.enabled":  EnvJournal,
	"logging.level":    EnvLogLevel,
	"logging.format":   EnvLogFormat,
	"logging.source":   EnvLogSource,
	"logging.file":     EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || strings.TrimSpace(os.Getenv(env)) == "" {
		return "", false
	}
	return env, true
}

// EnvOverrides lists the keys currently overridden by the environment, sorted.
func EnvOverrides() []string {
	var keys []string
	for k := range envKeys {
		if _, ok := EnvOverrideFor(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns p unchanged when absolute, otherwise joined onto the workspace.
func (c AppConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace, p)
}

// JournalDir is the resolved directory holding the run journal and crash reports.
func (c AppConfig) JournalDir() string { return c.Resolve(c.Journal.Dir) }
