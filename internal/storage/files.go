/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

// BackupStampLayout is the time layout in backup file names.
const BackupStampLayout = "20060102-150405.000"

// ErrNoBackup is returned by LatestBackup when no backup exists.
var ErrNoBackup = errors.New("no backup found")

// HashBytes returns the hex BLAKE3-256 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex BLAKE3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFileAtomic writes data to path with transactional semantics: a temp
// file in the same directory is written and synced, then renamed over path.
// Parent directories are created.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	temp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(temp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err = os.Chmod(temp, 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err = os.Rename(temp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// BackupXZ stores an xz-compressed copy of src in backupDir as
// <name>.<timestamp>.xz and returns its path.
func BackupXZ(src, backupDir string) (path string, err error) {
	sf, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer sf.Close()
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	stamp := time.Now().Format(BackupStampLayout)
	path = filepath.Join(backupDir, fmt.Sprintf("%s.%s.xz", filepath.Base(src), stamp))
	df, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := df.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	zw, err := xz.NewWriter(df)
	if err != nil {
		return "", fmt.Errorf("xz writer: %w", err)
	}
	if _, err := io.Copy(zw, sf); err != nil {
		return "", fmt.Errorf("compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finish xz: %w", err)
	}
	if err := df.Sync(); err != nil {
		return "", err
	}
	return path, nil
}

// LatestBackup returns the newest BackupXZ copy of the file called name in
// backupDir. It returns ErrNoBackup when there is none.
func LatestBackup(backupDir, name string) (string, error) {
	ents, err := os.ReadDir(backupDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	best := ""
	for _, e := range ents {
		n := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(n, name+".") || !strings.HasSuffix(n, ".xz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(n, name+"."), ".xz")
		if _, err := time.Parse(BackupStampLayout, stamp); err != nil {
			continue
		}
		// the stamp layout sorts lexically in time order
		if n > best {
			best = n
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNoBackup, name, backupDir)
	}
	return filepath.Join(backupDir, best), nil
}

// ReadXZ returns the decompressed content of an .xz backup.
func ReadXZ(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	return io.ReadAll(zr)
}

// RestoreXZ decompresses an .xz backup over dst.
func RestoreXZ(backup, dst string) error {
	data, err := ReadXZ(backup)
	if err != nil {
		return err
	}
	return WriteFileAtomic(dst, data)
}
