// Package telegram composes the bot: transport, middleware, relay routes
// and the outbound dispatcher.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coreconfig "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/config"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	tghelpers "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/helpers"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/middleware"
	tgsender "github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/sender"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
	"log/slog"
)

// Middleware describes a global bot middleware registered via bot.Use.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
}

// Route declares a single bot handler bound to an endpoint.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config

	// NewRelay builds the session relay once the outbound sink exists;
	// the returned service backs every route.
	NewRelay func(sink *BotSink) (RelayService, error)

	DispatcherOptions tgsender.Options

	ExtraMiddlewares []Middleware
	ExtraRoutes      []Route

	DisableWebhookCleanup bool

	// OnStop runs after the bot stops, before the dispatcher drains.
	OnStop func(ctx context.Context) error
}

// RunTelegram composes and runs the bot until the context is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	if opts.NewRelay == nil {
		return fmt.Errorf("telegram: NewRelay is required")
	}
	cfg := opts.Config

	poller := BuildPoller(PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: cfg.Telegram.LongPollTimeoutSeconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
		},
	})

	buildStart := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: BuildHTTPClient(),
	})
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	dispatcher := tgsender.NewDispatcher(opts.DispatcherOptions)
	tghelpers.SetDispatcher(dispatcher)
	defer tghelpers.SetDispatcher(nil)

	sink := NewBotSink(bot, dispatcher)
	rly, err := opts.NewRelay(sink)
	if err != nil {
		dispatcher.Close()
		return fmt.Errorf("telegram: relay wiring failed: %w", err)
	}

	logMode(ctx, cfg, poller, time.Since(buildStart))
	if !opts.DisableWebhookCleanup && strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) {
		cleanupWebhook(cfg.Telegram.Token)
	}

	bot.Use(middleware.Recover)
	bot.Use(middleware.Logging)
	if cfg.RateLimit.IntervalMS > 0 {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		bot.Use(middleware.RateLimit(middleware.RateLimitOptions{
			PerUserRate: rate.Every(interval),
		}))
	}
	for _, mw := range opts.ExtraMiddlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}

	reg := NewRegistry()
	registerHandlers(reg, rly)
	for name, cmd := range reg.Commands() {
		bot.Handle(name, cmd.Handler)
	}
	bot.Handle(tele.OnText, onText(rly))
	for _, route := range opts.ExtraRoutes {
		if route.Endpoint != nil && route.Handler != nil {
			bot.Handle(route.Endpoint, route.Handler)
		}
	}
	InitBotCommands(bot, reg)

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.Background())
	}
	dispatcher.Close()

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func logMode(ctx context.Context, cfg *coreconfig.Config, poller tele.Poller, buildTook time.Duration) {
	switch p := poller.(type) {
	case *tele.Webhook:
		logger.TG.LogAttrs(ctx, slog.LevelInfo, "webhook mode",
			slog.String("event", "mode"),
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
	default:
		timeoutSec := cfg.Telegram.LongPollTimeoutSeconds
		if timeoutSec <= 0 {
			timeoutSec = 10
		}
		logger.TG.Info("polling mode",
			slog.String("event", "mode"),
			slog.String("mode", "polling"),
			slog.Int("timeout_seconds", timeoutSec),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
	}
}

// cleanupWebhook drops a stale webhook registration before long polling;
// Telegram rejects getUpdates while a webhook is set.
func cleanupWebhook(token string) {
	if err := deleteWebhook(token); err != nil {
		logger.TG.Warn("failed to delete webhook",
			slog.String("event", "delete_webhook"),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.TG.Info("webhook deleted",
		slog.String("event", "delete_webhook"),
	)
}

func deleteWebhook(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/deleteWebhook", token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("drop_pending_updates=false"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleteWebhook status: %s", resp.Status)
	}
	return nil
}
