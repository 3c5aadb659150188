package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JKgeneral1/IT-tgBot/internal/bridge"
	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	slackadapter "github.com/JKgeneral1/IT-tgBot/internal/chat/slack"
	tgadapter "github.com/JKgeneral1/IT-tgBot/internal/chat/telegram"
	"github.com/JKgeneral1/IT-tgBot/internal/config"
	"github.com/JKgeneral1/IT-tgBot/internal/db"
	"github.com/JKgeneral1/IT-tgBot/internal/dedupe"
	"github.com/JKgeneral1/IT-tgBot/internal/helpdesk"
	"github.com/JKgeneral1/IT-tgBot/internal/relay"
	"github.com/JKgeneral1/IT-tgBot/internal/status"
	"github.com/JKgeneral1/IT-tgBot/internal/statuscache"
	"github.com/JKgeneral1/IT-tgBot/internal/store"
	"github.com/JKgeneral1/IT-tgBot/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Long:  "Connects to the configured chat platform, relays messages to the helpdesk, and serves the lifecycle webhook.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	st, err := store.New(gormDB)
	if err != nil {
		return err
	}

	taxonomy, err := status.NewTaxonomy(status.TaxonomyOpts{
		OpenIDs:    cfg.Statuses.Open,
		PendingIDs: cfg.Statuses.Pending,
		ClosedIDs:  cfg.Statuses.Closed,
		ReopenTo:   cfg.Statuses.ReopenTo,
		Labels:     cfg.Statuses.Labels,
	})
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	desk, err := helpdesk.NewHTTPClient(helpdesk.HTTPClientOpts{
		BaseURL:   cfg.Helpdesk.BaseURL,
		APIKey:    cfg.Helpdesk.APIKey,
		AuthToken: cfg.Helpdesk.AuthToken,
		Timeout:   cfg.HelpdeskTimeout(),
	})
	if err != nil {
		return err
	}

	rel, err := relay.New(relay.Opts{
		Downloader: adapter,
		MaxBytes:   cfg.Attachments.MaxBytes,
		Attempts:   cfg.Attachments.Attempts,
	})
	if err != nil {
		return err
	}

	guard := dedupe.New(0, 0) // defaults

	engine, err := bridge.NewEngine(bridge.Opts{
		Store:      st,
		Cache:      statuscache.New(cfg.CacheTTL()),
		Guard:      guard,
		Desk:       desk,
		Adapter:    adapter,
		Relay:      rel,
		Taxonomy:   taxonomy,
		ChunkLimit: cfg.ChunkLimit,
		Out:        out,
	})
	if err != nil {
		return err
	}

	var reminder *bridge.Reminder
	if cfg.Reminder.Cron != "" {
		reminder, err = bridge.NewReminder(bridge.ReminderOpts{
			Store:      st,
			Adapter:    adapter,
			Cron:       cfg.Reminder.Cron,
			Age:        cfg.ReminderAge(),
			ChunkLimit: cfg.ChunkLimit,
			Out:        out,
		})
		if err != nil {
			return err
		}
	}

	daemon, err := bridge.NewDaemon(bridge.DaemonOpts{
		Engine:   engine,
		Adapter:  adapter,
		Reminder: reminder,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		err := webhook.Start(ctx, webhook.StartOpts{
			Engine:       engine,
			Guard:        guard,
			Secret:       cfg.Webhook.Secret,
			SecretHeader: cfg.Webhook.Header,
			Port:         cfg.Webhook.Port,
			Out:          out,
		})
		if err != nil {
			log.Printf("webhook server: %v", err)
			cancel()
		}
	}()

	// Give the webhook listener a beat to fail fast on a busy port.
	time.Sleep(100 * time.Millisecond)

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (chat.Adapter, error) {
	switch cfg.Platform {
	case "telegram":
		return tgadapter.New(tgadapter.Opts{Token: cfg.Telegram.Token})
	case "slack":
		return slackadapter.New(slackadapter.Opts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
