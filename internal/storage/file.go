// Package storage はアーカイブドキュメントの保存先（GitHub、S3、ローカルファイル）を提供する。
// いずれもrepository.ArchiveRepositoryを実装し、バージョントークンによる条件付き書き込みを行う。
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/newsarchive/internal/model"
)

const (
	backupPrefix = "reuters_backup_"
	backupLayout = "20060102_150405"
	backupSuffix = ".json"
)

// BackupFileName は退避ファイル名を返す。
func BackupFileName(now time.Time) string {
	return backupPrefix + now.Format(backupLayout) + backupSuffix
}

// ParseBackupFileName は退避ファイル名から保存時刻を取り出す。
// 退避ファイル名の形式でない場合はfalseを返す。
func ParseBackupFileName(name string, loc *time.Location) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	t, err := time.ParseInLocation(backupLayout, stamp, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FileStore はローカルのJSONファイルにアーカイブを保存する。
// バージョントークンはファイル内容のSHA-256。
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore はpathに保存するFileStoreを生成する。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// NewBackupStore は書き込み失敗時の退避先となるFileStoreを生成する。
func NewBackupStore(dir string, now time.Time) *FileStore {
	return NewFileStore(filepath.Join(dir, BackupFileName(now)))
}

// Path は保存先のファイルパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Describe はログ出力用の保存先名を返す。
func (s *FileStore) Describe() string {
	return s.path
}

// Read はファイルを読み込む。存在しない場合は model.ErrArchiveNotFound を返す。
// JSONが壊れている場合もトークンは返す。
func (s *FileStore) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", model.ErrArchiveNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	token := contentToken(data)
	a, err := model.DecodeArchive(data)
	if err != nil {
		return nil, token, err
	}
	return a, token, nil
}

// Write はファイル内容のハッシュがExpectedと一致する場合のみ書き込む。
// Expectedが空の場合はファイルが存在しないときのみ作成する。
// 一時ファイルに書いてから置き換えるため、途中で失敗しても既存ファイルは壊れない。
func (s *FileStore) Write(ctx context.Context, w model.ArchiveWrite) (model.VersionToken, error) {
	data, err := model.EncodeArchive(w.Archive)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(s.path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	switch {
	case w.Expected.IsEmpty() && exists:
		return "", fmt.Errorf("%s already exists: %w", s.path, model.ErrWriteConflict)
	case !w.Expected.IsEmpty() && (!exists || contentToken(current) != w.Expected):
		return "", fmt.Errorf("%s changed since read: %w", s.path, model.ErrWriteConflict)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".archive-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if w.Expected.IsEmpty() {
		// 他プロセスとの競合でも上書きしないよう、リンクで新規作成する
		if err := os.Link(tmpName, s.path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return "", fmt.Errorf("%s already exists: %w", s.path, model.ErrWriteConflict)
			}
			return "", fmt.Errorf("failed to create %s: %w", s.path, err)
		}
	} else if err := os.Rename(tmpName, s.path); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	return contentToken(data), nil
}

func contentToken(data []byte) model.VersionToken {
	sum := sha256.Sum256(data)
	return model.VersionToken(hex.EncodeToString(sum[:]))
}
