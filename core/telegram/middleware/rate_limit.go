package middleware

import (
	"sync"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"log/slog"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures the inbound rate limit middleware.
type RateLimitOptions struct {
	// PerUserRate is the sustained updates-per-second budget per user.
	PerUserRate rate.Limit
	Burst       int
	// OnLimited runs when an update is dropped, e.g. to notify the user.
	OnLimited tele.HandlerFunc
}

// RateLimit drops updates from users exceeding their token-bucket budget.
// Every user message costs an agent round trip, so the inbound side is
// throttled before any session work happens.
func RateLimit(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Burst <= 0 {
		opts.Burst = 3
	}
	var (
		mu       sync.Mutex
		limiters = make(map[int64]*rate.Limiter)
	)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.PerUserRate <= 0 {
				return next(c)
			}

			mu.Lock()
			l, ok := limiters[user.ID]
			if !ok {
				l = rate.NewLimiter(opts.PerUserRate, opts.Burst)
				limiters[user.ID] = l
			}
			mu.Unlock()

			if !l.Allow() {
				attrs := []slog.Attr{
					slog.String("event", "tg.rate_limit"),
					slog.Int64("user_id", user.ID),
				}
				if chat := c.Chat(); chat != nil {
					attrs = append(attrs, slog.Int64("chat_id", chat.ID))
				}
				logger.TG.LogAttrs(logger.Background(), slog.LevelWarn, "rate limit", attrs...)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
