// Package cmd provides command-line interface commands for Bastion.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"bastion/compliance"
	"bastion/config"
	"bastion/core"
	"bastion/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reportStart  string
	reportEnd    string
	reportDBPath string
)

const reportTimeout = time.Minute

// NewReportCmd builds the offline compliance report command. It reads
// persisted evidence from the audit database and prints the report as
// JSON, without requiring a running server.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <framework>",
		Short: "Generate a compliance report from the audit database",
		Long: `Generate a compliance evidence report for one framework (SOX, PCI_DSS,
GDPR, or ISO27001) over persisted audit evidence. The period defaults to
the trailing 24 hours; --start and --end accept RFC 3339 timestamps.`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}
	cmd.Flags().StringVar(&reportStart, "start", "", "period start (RFC 3339)")
	cmd.Flags().StringVar(&reportEnd, "end", "", "period end (RFC 3339)")
	cmd.Flags().StringVar(&reportDBPath, "db", "", "audit database path (defaults to configured storage.sqlite_path)")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	framework, ok := core.ParseFramework(args[0])
	if !ok {
		return fmt.Errorf("unknown framework %q", args[0])
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if reportStart != "" {
		if start, err = time.Parse(time.RFC3339, reportStart); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	if reportEnd != "" {
		if end, err = time.Parse(time.RFC3339, reportEnd); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}
	if end.Before(start) {
		return fmt.Errorf("--end must not precede --start")
	}

	dbPath := reportDBPath
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dbPath = cfg.Storage.SQLitePath
	}

	store, err := storage.Open(storage.Config{Enabled: true, SQLitePath: dbPath}, zap.NewNop().Sugar())
	if err != nil {
		return fmt.Errorf("open audit database: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	records, err := store.EvidenceBetween(ctx, framework, start, end)
	if err != nil {
		return err
	}

	report := compliance.BuildReport(framework, start, end, records)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
