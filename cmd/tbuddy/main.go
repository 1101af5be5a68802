// Command tbuddy runs the Telegram translation bot: updates in, agent
// replies out, sessions relayed through Copilot Studio Direct Line.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/bootstrap"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/buildinfo"
	coreconfig "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/config"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/directline"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/prefs"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/relay"
	coretelegram "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := run(); err != nil {
		log.Fatalf("tbuddy: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	boot, err := bootstrap.Run(bootstrap.Options{
		Config:      cfg,
		WaitTimeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = boot.DB.Close()
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.App.Info("starting",
		slog.String("event", "start"),
		slog.String("version", buildinfo.Version),
		slog.String("commit", buildinfo.Commit),
	)

	store := prefs.NewPostgresStore(boot.DB)
	agent := directline.New(directline.Options{
		BaseURL:        cfg.DirectLine.BaseURL,
		Secret:         cfg.DirectLine.Secret,
		RequestTimeout: cfg.DirectLine.RequestTimeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sessions *relay.Registry
	runOpts := coretelegram.RunOptions{
		Config: cfg,
		NewRelay: func(sink *coretelegram.BotSink) (coretelegram.RelayService, error) {
			reg, err := relay.NewRegistry(relay.Options{
				Agent:        agent,
				Prefs:        store,
				Sink:         sink,
				PollInterval: cfg.Relay.PollInterval(),
				BackoffBase:  cfg.Relay.BackoffBase(),
				BackoffMax:   cfg.Relay.BackoffMax(),
				IdleTimeout:  cfg.Relay.IdleTimeout(),
				DedupSize:    cfg.Relay.DedupSize,
				DedupTTL:     cfg.Relay.DedupTTL(),
			})
			if err != nil {
				return nil, err
			}
			sessions = reg
			return reg, nil
		},
		OnStop: func(context.Context) error {
			if sessions != nil {
				sessions.Close()
			}
			return nil
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coretelegram.RunTelegram(gctx, runOpts)
	})
	g.Go(func() error {
		return watchDatabase(gctx, boot.DB)
	})
	return g.Wait()
}

// watchDatabase pings the pool periodically so connectivity loss shows up in
// logs before the next preference read fails.
func watchDatabase(ctx context.Context, db *sqlx.DB) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := db.PingContext(pingCtx)
			cancel()
			if err != nil {
				logger.DB.Warn("db ping failed",
					slog.String("event", "db.ping"),
					slog.String("err", err.Error()),
				)
			}
		}
	}
}
