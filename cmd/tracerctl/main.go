// Package main は端末側とキーサーバー管理用のCLIツールのエントリポイント。
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"exposure-tracer/config"
	"exposure-tracer/internal/infra"
)

var (
	output string

	cfg *config.Config
	tp  *sdktrace.TracerProvider
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tracerctl",
		Short:        "Exposure tracer device and keyserver CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .envファイルを読み込む（存在しない場合は無視）
			_ = godotenv.Load()

			var err error
			if cfg, err = config.Load(); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if tp, err = infra.InitTracer(cmd.Context(), cfg); err != nil {
				return fmt.Errorf("initializing tracer: %w", err)
			}
			// 標準出力はコマンドの結果に使うためログは標準エラーへ
			infra.SetupLogger(os.Stderr, cfg)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if err := infra.ShutdownTracer(tp); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")

	// サブコマンド登録
	rootCmd.AddCommand(beaconCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(exposuresCmd())
	rootCmd.AddCommand(caseIDCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracerctl version %s\n", infra.Version)
		},
	}
}
