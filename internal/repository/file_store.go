package repository

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
)

// TEKSnapshotName はTEKスナップショットのファイル名。
const TEKSnapshotName = "tek_file"

// scanNameEncoding はスキャン番号からファイル名を作る。パス区切りを含まないURL安全な文字のみを使う。
var scanNameEncoding = base64.RawURLEncoding

// FileStore は端末のデータディレクトリにTEKスナップショットとスキャン結果を保存する。
type FileStore struct {
	dir string
}

// NewFileStore はdirを作成してFileStoreを生成する。
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ScanFileName はスキャン番号のファイル名（リトルエンディアン4バイトのbase64）を返す。
func ScanFileName(scanin uint32) string {
	return scanNameEncoding.EncodeToString(binary.LittleEndian.AppendUint32(nil, scanin))
}

func parseScanFileName(name string) (uint32, bool) {
	b, err := scanNameEncoding.DecodeString(name)
	if err != nil || len(b) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// SaveTEKSnapshot はスナップショットを一時ファイル経由で置き換える。
func (s *FileStore) SaveTEKSnapshot(ctx context.Context, blob []byte) error {
	path := filepath.Join(s.dir, TEKSnapshotName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		slog.ErrorContext(ctx, "failed to write tek snapshot",
			"operation", "save_tek_snapshot",
			"error", err,
		)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.ErrorContext(ctx, "failed to replace tek snapshot",
			"operation", "save_tek_snapshot",
			"error", err,
		)
		return err
	}
	return nil
}

// LoadTEKSnapshot はスナップショットを読み込む。存在しない場合はdomain.ErrSnapshotNotFoundを返す。
func (s *FileStore) LoadTEKSnapshot(ctx context.Context) ([]byte, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, TEKSnapshotName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read tek snapshot",
			"operation", "load_tek_snapshot",
			"error", err,
		)
		return nil, err
	}
	return blob, nil
}

// SaveScan はスキャン結果を20バイトレコードの連続として追記する。空の場合は何も書かない。
func (s *FileStore) SaveScan(ctx context.Context, scanin uint32, pairs []domain.DataPair) error {
	if len(pairs) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, ScanFileName(scanin)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open scan file",
			"operation", "save_scan",
			"scanin", scanin,
			"error", err,
		)
		return err
	}
	if _, err := f.Write(tracer.MarshalDataPairs(pairs)); err != nil {
		f.Close()
		slog.ErrorContext(ctx, "failed to write scan file",
			"operation", "save_scan",
			"scanin", scanin,
			"error", err,
		)
		return err
	}
	return f.Close()
}

// ListScans は保存済みのスキャン番号を昇順で返す。
func (s *FileStore) ListScans(ctx context.Context) ([]uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list data directory",
			"operation", "list_scans",
			"error", err,
		)
		return nil, err
	}

	var scanins []uint32
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if scanin, ok := parseScanFileName(entry.Name()); ok {
			scanins = append(scanins, scanin)
		}
	}
	sort.Slice(scanins, func(i, j int) bool { return scanins[i] < scanins[j] })
	return scanins, nil
}

// LoadScan はスキャン結果を読み込む。
func (s *FileStore) LoadScan(ctx context.Context, scanin uint32) ([]domain.DataPair, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, ScanFileName(scanin)))
	if err != nil {
		slog.ErrorContext(ctx, "failed to read scan file",
			"operation", "load_scan",
			"scanin", scanin,
			"error", err,
		)
		return nil, err
	}
	return tracer.UnmarshalDataPairs(blob)
}

// DeleteScansBefore はスキャン番号がscaninより小さいファイルを削除し、削除件数を返す。
func (s *FileStore) DeleteScansBefore(ctx context.Context, scanin uint32) (int, error) {
	scanins, err := s.ListScans(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, n := range scanins {
		if n >= scanin {
			break
		}
		if err := os.Remove(filepath.Join(s.dir, ScanFileName(n))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.ErrorContext(ctx, "failed to delete scan file",
				"operation", "delete_scans_before",
				"scanin", n,
				"error", err,
			)
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
