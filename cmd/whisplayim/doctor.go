package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"whisplayim/internal/config"
	"whisplayim/internal/device"
	"whisplayim/internal/domain"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your bridge installation",
		Long: `Verifies that the configuration, accounts, journal database, pairing log
directory, and device are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("whisplayim doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'whisplayim init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Accounts have device addresses
			accountCount := 0
			for _, id := range cfg.ListAccounts() {
				acct := cfg.Resolve(id)
				if !acct.Enabled {
					printWarn("Account: "+id, "disabled")
					warned++
					continue
				}
				if _, err := device.NormalizeBaseURL(acct.BaseURL); err != nil {
					printFail("Account: "+id, "no device address configured")
					failed++
					continue
				}
				accountCount++
				printPass("Account: "+id, acct.BaseURL)
				passed++
			}
			if accountCount == 0 {
				printFail("Accounts", "no enabled account has a device address")
				failed++
			}

			// 4. Pairing log directory
			if cfg.Pairing.Enabled {
				if info, err := os.Stat(cfg.Pairing.LogDir); err != nil {
					printWarn("Pairing logs", fmt.Sprintf("directory not found: %s (watch stays idle)", cfg.Pairing.LogDir))
					warned++
				} else if !info.IsDir() {
					printFail("Pairing logs", fmt.Sprintf("not a directory: %s", cfg.Pairing.LogDir))
					failed++
				} else {
					printPass("Pairing logs", cfg.Pairing.LogDir)
					passed++
				}
			}

			// 5. Journal database writable
			if cfg.Journal.Enabled {
				if err := checkDatabase(cfg.Journal.DBPath); err != nil {
					printFail("Journal DB", err.Error())
					failed++
				} else {
					printPass("Journal DB", cfg.Journal.DBPath)
					passed++
				}
			}

			// 6. Device reachability (enabled accounts with an address)
			for _, id := range cfg.ListAccounts() {
				acct := cfg.Resolve(id)
				if !acct.Enabled {
					continue
				}
				if _, err := device.NormalizeBaseURL(acct.BaseURL); err != nil {
					continue
				}
				if err := checkDevice(acct.BaseURL, acct.Token); err != nil {
					printWarn("Device: "+id, fmt.Sprintf("unreachable: %v", err))
					warned++
				} else {
					printPass("Device: "+id, "reachable")
					passed++
				}
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Port); err != nil {
					printWarn("Metrics port", fmt.Sprintf("port %d may be in use: %v", cfg.Metrics.Port, err))
					warned++
				} else {
					printPass("Metrics port", fmt.Sprintf(":%d available", cfg.Metrics.Port))
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the bridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe bridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The bridge is ready to run.\n")
			}
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

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

// checkDevice issues a minimal poll. A decodable-or-not 2xx both count as
// reachable; only transport failures are reported.
func checkDevice(baseURL, token string) error {
	client, err := device.NewClient(device.Config{
		Account: domain.Account{ID: "doctor", BaseURL: baseURL, Token: token, WaitSec: 1},
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	_, err = client.Poll(ctx)
	var derr *device.DecodeError
	if errors.As(err, &derr) {
		return nil
	}
	return err
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
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
