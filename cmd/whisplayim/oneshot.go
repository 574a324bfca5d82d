package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whisplayim/internal/config"
	"whisplayim/internal/device"
	"whisplayim/internal/domain"
	"whisplayim/internal/inbound"
	"whisplayim/internal/journal"

	"github.com/spf13/cobra"
)

func pollCmd() *cobra.Command {
	var accountID string
	var waitSec int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single long poll and print normalized messages as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			acct := cfg.Resolve(accountID)
			if waitSec > 0 {
				acct.WaitSec = waitSec
			}
			client, err := device.NewClient(device.Config{Account: acct, Logger: logger})
			if err != nil {
				return fmt.Errorf("account %q: %w", acct.ID, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			payload, err := client.Poll(ctx)
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			msgs := inbound.Normalize(payload)
			if msgs == nil {
				msgs = []domain.InboundMessage{}
			}
			data, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id (default: top-level device)")
	cmd.Flags().IntVarP(&waitSec, "wait-sec", "w", 0, "override the long-poll wait for this call")
	return cmd
}

func sendCmd() *cobra.Command {
	var accountID, reply, emoji string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single reply to the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			acct := cfg.Resolve(accountID)
			if emoji != "" {
				acct.Emoji = emoji
			}
			client, err := device.NewClient(device.Config{Account: acct, Logger: logger})
			if err != nil {
				return fmt.Errorf("account %q: %w", acct.ID, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := client.Send(ctx, reply); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			logger.Info("reply sent", "account", acct.ID, "chars", len(reply))
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id (default: top-level device)")
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "reply text (required)")
	cmd.Flags().StringVarP(&emoji, "emoji", "e", "", "override the configured emoji")
	cmd.MarkFlagRequired("reply")
	return cmd
}

func statusCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resolved accounts and recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ids := cfg.ListAccounts()
			if accountID != "" {
				ids = []string{accountID}
			}
			for _, id := range ids {
				acct := cfg.Resolve(id)
				_, addrErr := device.NormalizeBaseURL(acct.BaseURL)
				logger.Info("account",
					"id", acct.ID,
					"device", acct.BaseURL,
					"configured", addrErr == nil,
					"enabled", acct.Enabled,
					"waitSec", acct.WaitSec)
			}

			if cfg.Journal.Enabled {
				store, err := journal.Open(cfg.Journal.DBPath, logger)
				if err != nil {
					logger.Warn("journal unavailable", "err", err)
					return nil
				}
				defer store.Close()
				events, err := store.Recent(context.Background(), accountID, 5)
				if err != nil {
					logger.Warn("journal read failed", "err", err)
					return nil
				}
				for _, e := range events {
					logger.Info("journal",
						"at", e.CreatedAt.Format(time.RFC3339),
						"account", e.Account,
						"kind", e.Kind,
						"body", e.Body)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "limit to one account")
	return cmd
}

func journalCmd() *cobra.Command {
	var accountID string
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled in config (journal.enabled)")
			}
			store, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return fmt.Errorf("journal store: %w", err)
			}
			defer store.Close()

			events, err := store.Recent(context.Background(), accountID, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("no events")
				return nil
			}
			for _, e := range events {
				body := e.Body
				if len(body) > 72 {
					body = body[:69] + "..."
				}
				fmt.Printf("%s  %-10s %-13s %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Account, e.Kind, body)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "filter to one account")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}
