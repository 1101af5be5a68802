package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/directline"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/prefs"
)

// AgentClient is the remote conversation surface the registry depends on.
// *directline.Client satisfies it; tests substitute fakes.
type AgentClient interface {
	StartSession(ctx context.Context) (directline.Session, error)
	PostMessage(ctx context.Context, sess directline.Session, userID, text string) error
	FetchEvents(ctx context.Context, sess directline.Session, watermark string) (directline.ActivitySet, error)
}

// OutputSink receives agent replies for delivery back to the chat. Deliver
// calls for one chat arrive in activity order from a single worker.
type OutputSink interface {
	Deliver(chatID int64, text string) error
	Typing(chatID int64)
}

// ErrClosed is returned once the registry is shutting down.
var ErrClosed = errors.New("relay: registry closed")

// restoreMessage primes a fresh conversation with previously confirmed
// languages so returning chats skip the setup dialogue.
func restoreMessage(names []string) string {
	return "My languages are: " + strings.Join(names, ", ")
}

// Options configures a Registry. Agent, Prefs and Sink are required; zero
// tunings fall back to defaults.
type Options struct {
	Agent AgentClient
	Prefs prefs.Store
	Sink  OutputSink

	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	IdleTimeout  time.Duration
	DedupSize    int
	DedupTTL     time.Duration
}

func (o *Options) normalize() error {
	if o.Agent == nil || o.Prefs == nil || o.Sink == nil {
		return errors.New("relay: agent, prefs and sink are required")
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	return nil
}

// Registry maps Telegram chats to live agent sessions. All lifecycle
// transitions for one chat run under that chat's lock, so concurrent
// updates cannot race a create against a reset.
type Registry struct {
	opts Options

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	sessions map[int64]*session
	locks    map[int64]*chatLock
	closed   bool
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry builds a Registry from options.
func NewRegistry(opts Options) (*Registry, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:     opts,
		baseCtx:  ctx,
		stop:     cancel,
		sessions: make(map[int64]*session),
		locks:    make(map[int64]*chatLock),
	}, nil
}

// lockChat serializes lifecycle operations for one chat without blocking
// other chats. The returned func releases the lock.
func (r *Registry) lockChat(chatID int64) func() {
	r.mu.Lock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &chatLock{}
		r.locks[chatID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, chatID)
		}
		r.mu.Unlock()
	}
}

// GetOrCreate returns the chat's session state, creating the session and
// starting its poll worker if none exists. The second result reports whether
// this call created the session.
func (r *Registry) GetOrCreate(ctx context.Context, chatID int64) (SessionState, bool, error) {
	s, created, _, err := r.getOrCreate(ctx, chatID)
	if err != nil {
		return SessionState{}, false, err
	}
	return s.snapshot(), created, nil
}

func (r *Registry) getOrCreate(ctx context.Context, chatID int64) (*session, bool, *prefs.Record, error) {
	unlock := r.lockChat(chatID)
	defer unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, nil, ErrClosed
	}
	s := r.sessions[chatID]
	r.mu.Unlock()

	now := time.Now()
	if s != nil {
		s.touch(now)
		r.ensureWorker(s)
		return s, false, nil, nil
	}

	rec, err := r.opts.Prefs.Get(ctx, chatID)
	if err != nil {
		// Persistence trouble must not block the conversation; the chat
		// just re-runs setup.
		logger.Relay.Warn("preference lookup failed",
			slog.String("event", "session.create"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		rec = nil
	}

	remote, err := r.opts.Agent.StartSession(ctx)
	if err != nil {
		return nil, false, nil, fmt.Errorf("create session for chat %d: %w", chatID, err)
	}

	s = &session{
		chatID:          chatID,
		dedup:           NewDedupCache(r.opts.DedupSize, r.opts.DedupTTL),
		remote:          remote,
		createdAt:       now,
		lastInteraction: now,
		setupComplete:   rec != nil,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false, nil, ErrClosed
	}
	r.sessions[chatID] = s
	r.mu.Unlock()

	r.startWorker(s)
	logger.Relay.Info("session created",
		slog.String("event", "session.create"),
		slog.Int64("chat_id", chatID),
		slog.String("session_id", remote.ConversationID),
		slog.Bool("setup_complete", s.isSetupComplete()),
	)
	return s, true, rec, nil
}

// ensureWorker restarts polling for a session whose worker terminated on
// idle timeout. Caller must hold the chat lock.
func (r *Registry) ensureWorker(s *session) {
	s.mu.Lock()
	active := s.pollingActive
	s.mu.Unlock()
	if !active {
		r.startWorker(s)
	}
}

// startWorker launches the poll loop goroutine. Caller must hold the chat
// lock so two workers are never started for one session. The wg.Add runs
// under r.mu against the closed flag, ordering it strictly before a
// concurrent Close's wg.Wait.
func (r *Registry) startWorker(s *session) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(r.baseCtx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.pollingActive = true
	s.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer close(done)
		defer s.clearPolling(done)
		r.runWorker(ctx, s)
	}()
}

// HandleIncoming relays one user message: it resolves the chat session,
// primes a fresh conversation with stored languages when they exist, and
// posts the text with a shared-prefix sender id. A single re-authentication
// is attempted if the conversation token has expired.
func (r *Registry) HandleIncoming(ctx context.Context, chatID, userID int64, text string) error {
	s, created, rec, err := r.getOrCreate(ctx, chatID)
	if err != nil {
		return err
	}
	uid := UserID(userID)

	if created && rec != nil && len(rec.LanguageNames) > 0 {
		if err := r.post(ctx, s, uid, restoreMessage(rec.LanguageNames)); err != nil {
			logger.Relay.Warn("context restore failed",
				slog.String("event", "session.restore"),
				slog.Int64("chat_id", chatID),
				slog.String("err", err.Error()),
			)
		} else {
			logger.Relay.Info("context restored",
				slog.String("event", "session.restore"),
				slog.Int64("chat_id", chatID),
				slog.String("languages", strings.Join(rec.LanguageNames, ",")),
			)
		}
	}

	if err := r.post(ctx, s, uid, text); err != nil {
		return err
	}
	r.opts.Sink.Typing(chatID)
	return nil
}

// post delivers one activity, retrying exactly once through a fresh
// conversation when the token has expired.
func (r *Registry) post(ctx context.Context, s *session, userID, text string) error {
	remote, _ := s.remoteState()
	err := r.opts.Agent.PostMessage(ctx, remote, userID, text)
	if err == nil || !errors.Is(err, directline.ErrAuthExpired) {
		return err
	}

	logger.Relay.Warn("session token expired, re-authenticating",
		slog.String("event", "session.reauth"),
		slog.Int64("chat_id", s.chatID),
		slog.String("session_id", remote.ConversationID),
	)
	fresh, serr := r.opts.Agent.StartSession(ctx)
	if serr != nil {
		return fmt.Errorf("re-authenticate chat %d: %w", s.chatID, serr)
	}
	s.swapRemote(fresh)
	return r.opts.Agent.PostMessage(ctx, fresh, userID, text)
}

// Reset tears down the chat's session and clears its stored languages. The
// next message starts from a blank conversation and a fresh setup dialogue.
func (r *Registry) Reset(ctx context.Context, chatID int64) error {
	unlock := r.lockChat(chatID)
	defer unlock()

	r.mu.Lock()
	s := r.sessions[chatID]
	delete(r.sessions, chatID)
	r.mu.Unlock()

	if s != nil {
		s.stop()
		logger.Relay.Info("session reset",
			slog.String("event", "session.reset"),
			slog.Int64("chat_id", chatID),
			slog.String("session_id", s.snapshot().SessionID),
		)
	}
	if err := r.opts.Prefs.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("reset chat %d: %w", chatID, err)
	}
	return nil
}

// Snapshot returns the chat's session state, if a session exists.
func (r *Registry) Snapshot(chatID int64) (SessionState, bool) {
	r.mu.Lock()
	s := r.sessions[chatID]
	r.mu.Unlock()
	if s == nil {
		return SessionState{}, false
	}
	return s.snapshot(), true
}

// Languages returns the stored language record for a chat, or nil.
func (r *Registry) Languages(ctx context.Context, chatID int64) (*prefs.Record, error) {
	return r.opts.Prefs.Get(ctx, chatID)
}

// Close cancels every poll worker and waits for them to drain. The registry
// rejects new sessions afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	n := len(r.sessions)
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
	logger.Relay.Info("registry closed",
		slog.String("event", "registry.close"),
		slog.Int("sessions", n),
	)
}
