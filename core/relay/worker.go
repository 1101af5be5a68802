package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/directline"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/setup"
)

// Poll worker states, logged on every transition.
const (
	statePolling   = "polling"
	stateBackoff   = "backoff"
	stateIdle      = "timeout_idle"
	stateCancelled = "cancelled"
)

// runWorker is the per-session poll loop. It long-polls the conversation for
// new activities, delivers agent replies in order, and terminates on idle
// timeout, cancellation, or unrecoverable authorization failure. Transient
// fetch failures back off exponentially; a success resets the backoff.
func (r *Registry) runWorker(ctx context.Context, s *session) {
	logger.Relay.Debug("poll worker started",
		slog.String("event", "worker.start"),
		slog.Int64("chat_id", s.chatID),
		slog.String("state", statePolling),
	)

	var backoff time.Duration
	var attempt int
	reauthed := false

	for {
		select {
		case <-ctx.Done():
			logger.Relay.Debug("poll worker cancelled",
				slog.String("event", "worker.stop"),
				slog.Int64("chat_id", s.chatID),
				slog.String("state", stateCancelled),
			)
			return
		default:
		}

		if idle, stop := s.idleStop(time.Now(), r.opts.IdleTimeout); stop {
			logger.Relay.Info("poll worker idle, stopping",
				slog.String("event", "worker.stop"),
				slog.Int64("chat_id", s.chatID),
				slog.String("state", stateIdle),
				slog.Duration("duration", idle),
			)
			return
		}

		remote, watermark := s.remoteState()
		set, err := r.opts.Agent.FetchEvents(ctx, remote, watermark)
		switch {
		case err == nil:
			backoff = 0
			attempt = 0
			reauthed = false
			r.deliver(ctx, s, remote.ConversationID, set)
			if !sleepCtx(ctx, r.opts.PollInterval) {
				return
			}

		case ctx.Err() != nil:
			// Cancellation surfaced through the in-flight fetch.
			logger.Relay.Debug("poll worker cancelled",
				slog.String("event", "worker.stop"),
				slog.Int64("chat_id", s.chatID),
				slog.String("state", stateCancelled),
			)
			return

		case errors.Is(err, directline.ErrAuthExpired):
			if reauthed {
				logger.Relay.Error("re-authentication failed twice, dropping session",
					slog.String("event", "worker.auth_failed"),
					slog.Int64("chat_id", s.chatID),
					slog.String("session_id", remote.ConversationID),
				)
				r.dropSession(s)
				return
			}
			reauthed = true
			fresh, serr := r.opts.Agent.StartSession(ctx)
			if serr != nil {
				logger.Relay.Error("re-authentication failed, dropping session",
					slog.String("event", "worker.auth_failed"),
					slog.Int64("chat_id", s.chatID),
					slog.String("err", serr.Error()),
				)
				r.dropSession(s)
				return
			}
			s.swapRemote(fresh)
			logger.Relay.Info("session re-authenticated",
				slog.String("event", "session.reauth"),
				slog.Int64("chat_id", s.chatID),
				slog.String("session_id", fresh.ConversationID),
			)

		default:
			// Transient and malformed fetches share the backoff path; the
			// next successful fetch re-reads from the last good watermark.
			attempt++
			backoff = nextBackoff(backoff, r.opts.BackoffBase, r.opts.BackoffMax)
			logger.Relay.Warn("fetch failed, backing off",
				slog.String("event", "poll.backoff"),
				slog.Int64("chat_id", s.chatID),
				slog.String("state", stateBackoff),
				slog.Int("attempt", attempt),
				slog.Int64("backoff_ms", backoff.Milliseconds()),
				slog.String("err", err.Error()),
			)
			if !sleepCtx(ctx, backoff) {
				return
			}
		}
	}
}

// deliver forwards the batch's agent replies in order, exactly once, then
// advances the watermark. Undeliverable single events are dropped so one bad
// activity cannot stall the stream.
func (r *Registry) deliver(ctx context.Context, s *session, conversationID string, set directline.ActivitySet) {
	for _, act := range set.Activities {
		if !act.IsAgentMessage(UserPrefix) {
			continue
		}
		if act.ID == "" {
			logger.Relay.Warn("dropping activity without id",
				slog.String("event", "event.drop"),
				slog.Int64("chat_id", s.chatID),
			)
			continue
		}
		if !s.dedup.FilterNew(act.ID) {
			logger.Relay.Debug("dropping duplicate activity",
				slog.String("event", "event.drop"),
				slog.Int64("chat_id", s.chatID),
				slog.String("event_id", act.ID),
			)
			continue
		}
		if err := r.opts.Sink.Deliver(s.chatID, act.Text); err != nil {
			logger.Relay.Error("delivery failed",
				slog.String("event", "event.deliver"),
				slog.Int64("chat_id", s.chatID),
				slog.String("event_id", act.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		if names, ok := setup.Parse(act.Text); ok {
			r.confirmSetup(ctx, s, names)
		}
	}
	s.advanceWatermark(conversationID, set.Watermark)
}

// confirmSetup persists a parsed language confirmation. Later confirmations
// overwrite earlier ones. The setup flag flips only after a successful
// upsert: setup_complete must mean a stored record exists, so on a
// persistence failure the session stays in setup mode and the next
// confirmation retries.
func (r *Registry) confirmSetup(ctx context.Context, s *session, names []string) {
	codes := setup.Codes(names)
	if err := r.opts.Prefs.Upsert(ctx, s.chatID, codes, names, time.Now()); err != nil {
		logger.Relay.Warn("preference persist failed",
			slog.String("event", "setup.persist"),
			slog.Int64("chat_id", s.chatID),
			slog.String("err", err.Error()),
		)
		return
	}
	if s.markSetupComplete() {
		logger.Relay.Info("language setup confirmed",
			slog.String("event", "setup.confirmed"),
			slog.Int64("chat_id", s.chatID),
			slog.String("languages", strings.Join(names, ",")),
			slog.String("lang_codes", strings.Join(codes, ",")),
		)
	}
}

// dropSession removes a session the worker declared dead, unless a reset
// already replaced it.
func (r *Registry) dropSession(s *session) {
	r.mu.Lock()
	if r.sessions[s.chatID] == s {
		delete(r.sessions, s.chatID)
	}
	r.mu.Unlock()
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(cur, base, max time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// sleepCtx waits d or until cancellation; it reports false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
