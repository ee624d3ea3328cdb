/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	applog "artemisport/internal/log"
	"artemisport/internal/storage"
)

// Restore puts the newest backup of file back in place and returns the backup
// used. Backups exist for .sjs files rewritten by re-encode and .ast files
// rewritten by the bgm stage.
func (p *Pipeline) Restore(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	var dir string
	switch {
	case hasExt(abs, ".sjs"):
		dir = p.backupDir(StageReencode)
	case hasExt(abs, ".ast"):
		root, err := filepath.Abs(p.path(p.cfg.Paths.AST))
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(root, filepath.Dir(abs))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is outside the AST dir %s", file, root)
		}
		dir = filepath.Join(p.backupDir(StageBGM), rel)
	default:
		return "", fmt.Errorf("no backups are kept for %s", file)
	}
	bak, err := storage.LatestBackup(dir, filepath.Base(abs))
	if err != nil {
		return "", err
	}
	if err := storage.RestoreXZ(bak, abs); err != nil {
		return "", fmt.Errorf("restore %s: %w", file, err)
	}
	applog.WithComponent("pipeline").Info("restored from backup", slog.String("file", abs), slog.String("backup", bak))
	return bak, nil
}
