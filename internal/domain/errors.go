package domain

import "errors"

var (
	// ErrInvalidSchedule はTEK間隔がEN間隔の整数倍でないなど、スケジュール設定が不正な場合のエラー。
	ErrInvalidSchedule = errors.New("invalid interval schedule")

	// ErrNoTEK はTEKが一度も生成されていない場合のエラー。
	ErrNoTEK = errors.New("no temporary exposure key")

	// ErrSnapshotNotFound は永続化されたTEKスナップショットが存在しない場合のエラー。
	ErrSnapshotNotFound = errors.New("tek snapshot not found")

	// ErrInvalidSnapshot はTEKスナップショットの形式が不正な場合のエラー。
	ErrInvalidSnapshot = errors.New("invalid tek snapshot")

	// ErrInvalidRecord は固定長レコードの形式が不正な場合のエラー。
	ErrInvalidRecord = errors.New("invalid record")

	// ErrCaseIDNotFound は指定されたケースIDが存在しない場合のエラー。
	ErrCaseIDNotFound = errors.New("case id not found")

	// ErrCaseIDExpired は指定されたケースIDの有効期限が切れている場合のエラー。
	ErrCaseIDExpired = errors.New("case id expired")

	// ErrInvalidCaseID はケースIDの形式が不正な場合のエラー。
	ErrInvalidCaseID = errors.New("invalid case id")

	// ErrInvalidKeyCount はアップロードされたTEKの件数が不正な場合のエラー。
	ErrInvalidKeyCount = errors.New("invalid key count")

	// ErrInvalidCount は一度に発行するケースIDの件数が範囲外の場合のエラー。
	ErrInvalidCount = errors.New("invalid count")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
