// Package sender executes outbound Telegram calls asynchronously. Agent
// replies arrive from poll workers; pushing them through a bounded queue
// keeps worker loops from blocking on the Telegram API and gives one place
// to enforce per-chat send rates.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/telegram/netutil"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull indicates the queue is saturated and the job was rejected.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls the outbound dispatcher.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job including retries.
	MaxDuration time.Duration
	// PerChatRate caps sends per chat per second; Telegram throttles chats
	// independently, so the limiter is keyed by chat too.
	PerChatRate  rate.Limit
	PerChatBurst int
}

type job struct {
	ctx    context.Context
	chatID int64
	action string
	run    func() error
}

// Dispatcher executes outbound Telegram calls asynchronously with retries
// and per-chat rate limiting.
type Dispatcher struct {
	opts Options
	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64

	limitMu  sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewDispatcher starts a dispatcher; zeroed options get defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}
	if opts.PerChatRate <= 0 {
		opts.PerChatRate = rate.Limit(1)
	}
	if opts.PerChatBurst <= 0 {
		opts.PerChatBurst = 3
	}

	d := &Dispatcher{
		opts:     opts,
		jobs:     make(chan job, opts.QueueSize),
		stop:     make(chan struct{}),
		limiters: make(map[int64]*rate.Limiter),
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules run for asynchronous execution. The closure must be
// idempotent if retries are desired.
func (d *Dispatcher) Enqueue(ctx context.Context, chatID int64, action string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case d.jobs <- job{ctx: ctx, chatID: chatID, action: action, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that exhausted their retries.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops intake and waits for queued jobs to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.jobs)
		d.wg.Wait()
	})
}

func (d *Dispatcher) limiter(chatID int64) *rate.Limiter {
	d.limitMu.Lock()
	defer d.limitMu.Unlock()
	l, ok := d.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(d.opts.PerChatRate, d.opts.PerChatBurst)
		d.limiters[chatID] = l
	}
	return l
}

// Do runs the job synchronously under the same rate limiting and retry
// policy as queued jobs. Agent replies go through here so one chat's
// messages cannot be reordered by concurrent queue workers.
func (d *Dispatcher) Do(ctx context.Context, chatID int64, action string, run func() error) error {
	return d.execute(job{ctx: ctx, chatID: chatID, action: action, run: run})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		_ = d.execute(j)
	}
}

func (d *Dispatcher) execute(j job) error {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	if err := d.limiter(j.chatID).Wait(deadlineCtx); err != nil {
		d.fail(ctx, j, err, 0, time.Since(start))
		return err
	}

	var lastErr error
	attempts := d.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}

		err := j.run()
		if err == nil {
			logger.Debug(ctx, "tg.sender", "send.success", append(jobAttrs(ctx, j),
				slog.Int("attempt", attempt),
				slog.Duration("duration", logger.Took(start)),
			)...)
			return nil
		}
		lastErr = err

		delay, retryable := retryDelay(err, d.opts.RetryBackoff, attempt)
		if !retryable || attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			lastErr = deadlineCtx.Err()
			attempt = attempts
		case <-timer.C:
		}
	}

	d.fail(ctx, j, lastErr, attempts, time.Since(start))
	return lastErr
}

// retryDelay decides whether err is worth another attempt and how long to
// wait first. Telegram flood control dictates its own delay.
func retryDelay(err error, backoff time.Duration, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		after := time.Duration(flood.RetryAfter) * time.Second
		if after <= 0 {
			after = backoff
		}
		return after, true
	}
	if netutil.ShouldRetry(err) {
		return backoff * time.Duration(attempt), true
	}
	return 0, false
}

func (d *Dispatcher) fail(ctx context.Context, j job, err error, attempts int, elapsed time.Duration) {
	d.errs.Add(1)
	attrs := append(jobAttrs(ctx, j),
		slog.String("err", sanitizeErrorMessage(err)),
		slog.Duration("duration", logger.RoundMS(elapsed)),
	)
	if attempts > 0 {
		attrs = append(attrs, slog.Int("attempt", attempts))
	}
	logger.Error(ctx, "tg.sender", "send.fail", attrs...)
}

func jobAttrs(ctx context.Context, j job) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", j.action),
		slog.Int64("chat_id", j.chatID),
	}
	if rid := logger.RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	return attrs
}

// sanitizeErrorMessage keeps bot tokens out of logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
