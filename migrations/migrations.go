// Package migrations はキーサーバーと端末のデータベーススキーマを埋め込む。
package migrations

import "embed"

// FS は {version}_{name}.sql 形式のマイグレーションファイル。
// SQLiteとMySQLの両方で実行できる構文のみを使う。
//
//go:embed *.sql
var FS embed.FS
