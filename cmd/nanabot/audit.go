package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"nanabot/internal/audit"
	"nanabot/internal/config"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the relay audit journal",
	}

	var (
		limit  int
		dbPath string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := auditDBPath(dbPath)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no audit journal at %s (enable audit.enabled): %w", path, err)
			}
			store, err := audit.NewSQLiteStore(path, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tOUTCOME\tREASON\tCHANNEL\tAUTHOR\tMESSAGE\tLATENCY\tERROR")
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Outcome, dash(e.Reason),
					dash(e.ChannelID), dash(e.AuthorID), dash(e.MessageID), e.LatencyMs, dash(e.Error))
			}
			return w.Flush()
		},
	}
	tail.Flags().IntVarP(&limit, "lines", "n", 20, "number of entries")
	tail.Flags().StringVar(&dbPath, "db", "", "journal path (default: audit.dbPath)")
	cmd.AddCommand(tail)
	return cmd
}

// auditDBPath resolves the journal path without requiring a valid config.
func auditDBPath(flag string) string {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	if v := os.Getenv(config.EnvAuditDB); v != "" {
		return config.ExpandPath(v)
	}
	if p := resolveConfigPath(); p != "" {
		if cfg, err := config.ReadFile(p); err == nil && cfg.Audit.DBPath != "" {
			return config.ExpandPath(cfg.Audit.DBPath)
		}
	}
	return config.ExpandPath(config.Defaults().Audit.DBPath)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
