package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exposure-tracer/internal/domain"
)

// caseIDCmd はキーサーバーのケースIDを管理するコマンド。
func caseIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caseid",
		Short: "Manage keyserver case IDs",
	}
	cmd.AddCommand(caseIDCreateCmd())
	cmd.AddCommand(caseIDListCmd())
	return cmd
}

func printCaseIDs(cmd *cobra.Command, caseIDs []*domain.CaseID) error {
	if output == "json" {
		views := make([]map[string]string, len(caseIDs))
		for i, c := range caseIDs {
			views[i] = map[string]string{
				"code":       c.Code,
				"created_at": c.CreatedAt.Format(time.RFC3339),
				"expires_at": c.ExpiresAt(cfg.CaseIDTTL).Format(time.RFC3339),
			}
		}
		return printJSON(cmd.OutOrStdout(), views)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CASE_ID\tCREATED_AT\tEXPIRES_AT")
	for _, c := range caseIDs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Code, c.CreatedAt.Format(time.RFC3339), c.ExpiresAt(cfg.CaseIDTTL).Format(time.RFC3339))
	}
	return w.Flush()
}

func caseIDCreateCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue new case IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newKeyServerClient()
			if err != nil {
				return err
			}
			caseIDs, err := client.CreateCaseIDs(cmd.Context(), count)
			if err != nil {
				return fmt.Errorf("creating case ids: %w", err)
			}
			return printCaseIDs(cmd, caseIDs)
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Number of case IDs to issue")
	return cmd
}

func caseIDListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active case IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newKeyServerClient()
			if err != nil {
				return err
			}
			caseIDs, err := client.ListCaseIDs(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing case ids: %w", err)
			}
			return printCaseIDs(cmd, caseIDs)
		},
	}
}
