package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"nanabot/internal/audit"
	"nanabot/internal/channel"
	"nanabot/internal/config"
	"nanabot/internal/transform"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your nanabot setup",
		Long: `Verifies configuration, transform rules, the ingress port, and the audit
database. With --online it also checks the bot token and channels against Discord.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("nanabot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config source
			if cfgPath == "" {
				printWarn("Config file", "none, using environment only")
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++
			printPass("Relay route", cfg.Route().String())
			passed++

			// 3. Transform rules compile
			rules, err := transform.LoadRuleFile(cfg.Relay.RulesFile, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				printFail("Transform rules", err.Error())
				failed++
			} else {
				src := "built-in"
				if cfg.Relay.RulesFile != "" {
					src = cfg.Relay.RulesFile
				}
				printPass("Transform rules", fmt.Sprintf("%d rules (%s)", rules.Len(), src))
				passed++
			}

			// 4. Ingress port
			if cfg.Ingress.Enabled {
				if err := checkPort(cfg.Addr()); err != nil {
					printWarn("Ingress port", fmt.Sprintf("%s may be in use: %v", cfg.Addr(), err))
					warned++
				} else {
					printPass("Ingress port", cfg.Addr()+" available")
					passed++
				}
				if cfg.Ingress.Secret == "" {
					printWarn("Ingress secret", "not set, anyone who can reach the port can post logs")
					warned++
				}
			}

			// 5. Audit database writable
			if cfg.Audit.Enabled {
				if n, err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", fmt.Sprintf("%s (%d rows)", cfg.Audit.DBPath, n))
					passed++
				}
			}

			// 6. Discord
			if online {
				p, f := checkDiscord(cfg)
				passed += p
				failed += f
			} else {
				printWarn("Discord", "skipped (use --online to check the token and channels)")
				warned++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running nanabot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nnanabot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! nanabot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also check the token and channels against Discord")
	return cmd
}

func checkDiscord(cfg *config.Config) (passed, failed int) {
	gw, err := channel.NewDiscord(channel.DiscordConfig{Token: cfg.Discord.Token, Logger: logger})
	if err != nil {
		printFail("Discord token", err.Error())
		return 0, 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	name, err := gw.Self(ctx)
	if err != nil {
		printFail("Discord token", err.Error())
		return 0, 1
	}
	printPass("Discord token", "logged in as "+name)
	passed++

	check := func(label, id string) {
		if id == "" {
			return
		}
		ch, err := gw.GetChannel(ctx, id)
		if err != nil {
			printFail(label, fmt.Sprintf("%s: %v", id, err))
			failed++
			return
		}
		printPass(label, fmt.Sprintf("#%s (%s)", ch.Name, ch.ID))
		passed++
	}
	check("Target channel", cfg.Relay.TargetChannelID)
	if cfg.Ingress.Enabled {
		check("Log channel", cfg.Ingress.LogChannelID)
	}
	return passed, failed
}

// checkDatabase opens the audit journal the way serve does, which applies
// pending migrations, and reports how many rows it holds.
func checkDatabase(dbPath string) (int, error) {
	store, err := audit.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot read journal: %w", err)
	}
	return n, nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
