package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/infra"
	"exposure-tracer/internal/repository"
	"exposure-tracer/internal/usecase"
)

// exposureView は接触記録の出力形式。
type exposureView struct {
	RPI                string `json:"rpi"`
	ENIntervalNumber   uint32 `json:"enin"`
	ScanIntervalNumber uint32 `json:"scanin"`
	TxPower            int8   `json:"tx_power"`
	DetectedAt         string `json:"detected_at"`
}

func toExposureViews(exposures []*domain.Exposure) []exposureView {
	views := make([]exposureView, len(exposures))
	for i, e := range exposures {
		views[i] = exposureView{
			RPI:                e.RPI.String(),
			ENIntervalNumber:   e.ENIntervalNumber,
			ScanIntervalNumber: e.ScanIntervalNumber,
			TxPower:            e.Metadata.TxPower(),
			DetectedAt:         e.DetectedAt.Format(time.RFC3339),
		}
	}
	return views
}

func printExposures(cmd *cobra.Command, exposures []*domain.Exposure) error {
	views := toExposureViews(exposures)
	if output == "json" {
		return printJSON(cmd.OutOrStdout(), views)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RPI\tENIN\tSCANIN\tTX_POWER\tDETECTED_AT")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", v.RPI, v.ENIntervalNumber, v.ScanIntervalNumber, v.TxPower, v.DetectedAt)
	}
	return w.Flush()
}

// checkCmd はキーサーバーの診断キーと保存済みのスキャンを照合するコマンド。
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fetch diagnosis keys and match them against recorded scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeSealer, err := newExposureService(ctx)
			if err != nil {
				return err
			}
			defer closeSealer()

			result, err := svc.CheckExposures(ctx)
			if err != nil {
				return fmt.Errorf("exposure check failed: %w", err)
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"keys_checked":  result.KeysChecked,
					"pairs_checked": result.PairsChecked,
					"new_exposures": toExposureViews(result.NewExposures),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d key(s) against %d observation(s): %d new exposure(s).\n",
				result.KeysChecked, result.PairsChecked, len(result.NewExposures))
			if len(result.NewExposures) == 0 {
				return nil
			}
			return printExposures(cmd, result.NewExposures)
		},
	}
}

// reportCmd はTEKスナップショットの鍵をケースIDとともにアップロードするコマンド。
func reportCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Upload this device's TEKs with a case ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			code, err := usecase.NormalizeCaseCode(caseID)
			if err != nil {
				return fmt.Errorf("invalid --case-id %q: %w", caseID, err)
			}

			svc, closeSealer, err := newExposureService(ctx)
			if err != nil {
				return err
			}
			defer closeSealer()

			n, err := svc.ReportDiagnosis(ctx, code)
			if err != nil {
				return fmt.Errorf("report failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reported %d key(s).\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&caseID, "case-id", "", "Case ID issued by the health authority (required)")
	cmd.MarkFlagRequired("case-id")
	return cmd
}

// exposuresCmd は記録済みの接触を表示するコマンド。
func exposuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exposures",
		Short: "List recorded exposures",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDeviceDB(ctx)
			if err != nil {
				return err
			}

			// 一覧表示はキーサーバーとスキャンを使わない
			svc := usecase.NewExposureService(usecase.ExposureConfig{}, nil, nil, nil, nil, repository.NewExposureRepository(db), infra.SystemClock{})
			exposures, err := svc.ListExposures(ctx)
			if err != nil {
				return fmt.Errorf("listing exposures: %w", err)
			}
			if len(exposures) == 0 && output != "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "No exposures recorded.")
				return nil
			}
			return printExposures(cmd, exposures)
		},
	}
}
