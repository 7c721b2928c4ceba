package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"exposure-tracer/internal/infra"
	"exposure-tracer/internal/repository"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/internal/usecase"
	"exposure-tracer/migrations"
)

// deviceDBName はDATABASE_URL未設定時に端末の接触記録を保存するファイル名。
const deviceDBName = "tracer.db"

func schedule() (tracer.Schedule, error) {
	return tracer.NewSchedule(cfg.ENINMinutes, cfg.ScanMinutes, cfg.TEKMinutes)
}

func scanRetention() time.Duration {
	return time.Duration(cfg.ScanRetentionDays) * 24 * time.Hour
}

// newSealer はKMS_KEY_NAMEまたはAGE_IDENTITYからスナップショットの封印方式を選ぶ。
// どちらも未設定の場合はnilを返し、スナップショットは平文で保存される。
func newSealer(ctx context.Context) (usecase.Sealer, func(), error) {
	switch {
	case cfg.KMSKeyName != "":
		client, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}, nil
	case cfg.AgeIdentity != "":
		sealer, err := infra.NewAgeSealer(cfg.AgeIdentity)
		if err != nil {
			return nil, nil, err
		}
		return sealer, func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func openFileStore(dir string) (*repository.FileStore, error) {
	if dir == "" {
		dir = cfg.DataDir
	}
	store, err := repository.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("opening data dir: %w", err)
	}
	return store, nil
}

// openDatabase はDATABASE_URLに接続する。未設定の場合はデータディレクトリのSQLiteを使う。
func openDatabase() (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dsn = "sqlite://" + filepath.Join(cfg.DataDir, deviceDBName)
	}
	db, err := infra.NewDB(dsn, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openDeviceDB は端末用のデータベースを開き、未適用のマイグレーションを適用する。
func openDeviceDB(ctx context.Context) (*gorm.DB, error) {
	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	svc := usecase.NewMigrationService(repository.NewMigrationRepository(db), db, migrations.FS)
	if _, err := svc.ApplyMigrations(ctx); err != nil {
		return nil, fmt.Errorf("preparing device database: %w", err)
	}
	return db, nil
}

func newKeyServerClient() (*infra.KeyServerClient, error) {
	return infra.NewKeyServerClient(cfg.KeyServerURL)
}

// newExposureService は端末側の接触確認サービスを組み立てる。
func newExposureService(ctx context.Context) (*usecase.ExposureService, func(), error) {
	sched, err := schedule()
	if err != nil {
		return nil, nil, err
	}
	store, err := openFileStore("")
	if err != nil {
		return nil, nil, err
	}
	db, err := openDeviceDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	client, err := newKeyServerClient()
	if err != nil {
		return nil, nil, err
	}
	sealer, closeSealer, err := newSealer(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc := usecase.NewExposureService(usecase.ExposureConfig{
		Schedule:      sched,
		Capacity:      cfg.TEKCapacity,
		ScanRetention: scanRetention(),
	}, store, store, sealer, client, repository.NewExposureRepository(db), infra.SystemClock{})
	return svc, closeSealer, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
