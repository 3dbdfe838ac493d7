package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"digitaltwin/internal/config"
	"digitaltwin/internal/knowledge"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the digital twin setup",
		Long: `Verifies configuration, provider credentials, the retrieval backend,
the store, the profile source and the HTTP port. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Digital Twin Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s (defaults + env)", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, _, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// Providers
			if cfg.Providers.Cloud.APIKey == "" {
				printFail("Cloud provider", fmt.Sprintf("%s: no API key configured", cfg.Providers.Cloud.Kind))
				failed++
			} else {
				printPass("Cloud provider", cfg.Providers.Cloud.Kind)
				passed++
			}
			if cfg.Providers.Preference == config.PreferLocal {
				printPass("Local provider", fmt.Sprintf("%s (%s), cloud fallback", cfg.Providers.Local.Kind, cfg.Providers.Local.Model))
				passed++
			}

			// Retrieval
			switch cfg.Retrieval.Backend {
			case config.BackendUpstash:
				if cfg.Retrieval.Upstash.URL == "" || cfg.Retrieval.Upstash.Token == "" {
					printFail("Retrieval", "upstash url/token missing")
					failed++
				} else {
					printPass("Retrieval", "upstash "+cfg.Retrieval.Upstash.URL)
					passed++
				}
			default:
				printPass("Retrieval", cfg.Retrieval.Backend)
				passed++
			}

			// Store
			if cfg.Store.Enabled {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Store", err.Error())
					failed++
				} else {
					printPass("Store", cfg.Store.DBPath)
					passed++
				}
			} else {
				printWarn("Store", "disabled (no query log, no sqlite sections)")
				warned++
			}

			// Profile source
			if cfg.General.ProfilePath != "" {
				chunks, err := knowledge.LoadProfile(cfg.General.ProfilePath, logger)
				if err != nil {
					printFail("Profile", err.Error())
					failed++
				} else {
					printPass("Profile", fmt.Sprintf("%s (%d chunks)", cfg.General.ProfilePath, len(chunks)))
					passed++
				}
			} else {
				printWarn("Profile", "general.profilePath not set")
				warned++
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("HTTP port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			fmt.Printf("\nReady. Run 'digitaltwin serve' to start.\n")
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-18s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-18s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-18s %s\n", check, detail)
}
