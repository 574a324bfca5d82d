package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"whisplayim/internal/config"
	"whisplayim/internal/device"

	"github.com/spf13/cobra"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: device → long poll → pairing → save config",
		Long:  "Guides you through the device address, long-poll tuning, and the pairing watch. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Device
	fmt.Println("\n--- Step 1: Device ---")
	fmt.Fprint(os.Stdout, "Device address (host:port, scheme optional)")
	addr, err := prompt(cfg.IP)
	if err != nil {
		return err
	}
	if addr == "" {
		return fmt.Errorf("a device address is required")
	}
	cfg.IP = addr
	if norm, err := device.NormalizeBaseURL(cfg.IP); err == nil {
		fmt.Fprintf(os.Stdout, "  Using device: %s\n", norm)
	}

	fmt.Fprint(os.Stdout, "Bearer token (empty for none)")
	tok, err := prompt(cfg.Token)
	if err != nil {
		return err
	}
	cfg.Token = tok

	// Step 2: Long poll
	fmt.Println("\n--- Step 2: Long poll ---")
	fmt.Fprint(os.Stdout, "Poll wait in seconds (1-300)")
	waitStr, err := prompt(strconv.Itoa(cfg.WaitSec))
	if err != nil {
		return err
	}
	if n, convErr := strconv.Atoi(waitStr); convErr == nil {
		cfg.WaitSec = n
	}

	fmt.Fprint(os.Stdout, "Emoji to attach to replies (empty for none)")
	emoji, err := prompt(cfg.Emoji)
	if err != nil {
		return err
	}
	cfg.Emoji = emoji

	// Step 3: Pairing watch
	fmt.Println("\n--- Step 3: Pairing watch ---")
	fmt.Fprint(os.Stdout, "Relay pairing alerts from gateway logs? (yes/no)")
	def := "yes"
	if !cfg.Pairing.Enabled {
		def = "no"
	}
	ans, err := prompt(def)
	if err != nil {
		return err
	}
	cfg.Pairing.Enabled = ans == "yes" || ans == "y"
	if cfg.Pairing.Enabled {
		fmt.Fprint(os.Stdout, "Gateway log directory")
		dir, err := prompt(cfg.Pairing.LogDir)
		if err != nil {
			return err
		}
		if dir != "" {
			cfg.Pairing.LogDir = dir
		}
		expanded := config.ExpandPath(cfg.Pairing.LogDir)
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		fmt.Fprintf(os.Stdout, "  Watching: %s\n", expanded)
	}

	// Save
	cfgDir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'whisplayim doctor' to verify, then 'whisplayim run'.")
	return nil
}
