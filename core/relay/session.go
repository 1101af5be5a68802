// Package relay owns the chat-to-agent session lifecycle: one remote
// conversation per Telegram chat, one poll worker per live session, and the
// bookkeeping that keeps replies exactly-once and in order.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/directline"
)

// UserPrefix marks activity sender ids the relay posts on behalf of chat
// members, so agent replies can be told apart from relayed user messages.
const UserPrefix = "tg-"

// UserID returns the remote sender id for a Telegram user.
func UserID(userID int64) string {
	return fmt.Sprintf("%s%d", UserPrefix, userID)
}

// SessionState is a point-in-time snapshot of a chat session, safe to use
// after the session itself has moved on.
type SessionState struct {
	ChatID            int64
	SessionID         string
	Watermark         string
	CreatedAt         time.Time
	LastInteractionAt time.Time
	PollingActive     bool
	SetupComplete     bool
}

// session is the mutable per-chat record. All fields below mu are guarded by
// it; the poll worker and registry paths both mutate through these methods.
type session struct {
	chatID int64
	dedup  *DedupCache

	mu              sync.Mutex
	remote          directline.Session
	watermark       string
	createdAt       time.Time
	lastInteraction time.Time
	pollingActive   bool
	setupComplete   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		ChatID:            s.chatID,
		SessionID:         s.remote.ConversationID,
		Watermark:         s.watermark,
		CreatedAt:         s.createdAt,
		LastInteractionAt: s.lastInteraction,
		PollingActive:     s.pollingActive,
		SetupComplete:     s.setupComplete,
	}
}

// touch records user activity, pushing back the idle deadline.
func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastInteraction = now
	s.mu.Unlock()
}

// idleStop atomically decides the worker's idle exit: when the session has
// been idle for timeout it clears pollingActive and reports true in the same
// critical section. A concurrent touch therefore lands either before the
// check (the worker keeps polling) or after the flag clear (the registry
// observes a dead worker and restarts one); there is no window where a
// touched session is left with a worker that decided to exit but still
// advertises itself as polling.
func (s *session) idleStop(now time.Time, timeout time.Duration) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idle := now.Sub(s.lastInteraction)
	if idle < timeout {
		return idle, false
	}
	s.pollingActive = false
	return idle, true
}

// remoteState returns the current conversation credentials and watermark
// as one consistent pair.
func (s *session) remoteState() (directline.Session, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.watermark
}

// advanceWatermark moves the cursor only if the fetch that produced it was
// made against the current conversation. A stale watermark from a fetch that
// raced a re-authentication must not clobber the fresh cursor.
func (s *session) advanceWatermark(conversationID, watermark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote.ConversationID == conversationID {
		s.watermark = watermark
	}
}

// swapRemote installs a fresh conversation after re-authentication. The
// watermark resets with it; cursors are per-conversation.
func (s *session) swapRemote(remote directline.Session) {
	s.mu.Lock()
	s.remote = remote
	s.watermark = ""
	s.mu.Unlock()
}

// markSetupComplete flips the setup flag and reports whether this call was
// the one that flipped it.
func (s *session) markSetupComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setupComplete {
		return false
	}
	s.setupComplete = true
	return true
}

func (s *session) isSetupComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupComplete
}

// clearPolling drops the polling flag on behalf of the worker owning done.
// A worker that lost the session to a restart must not clear the flag of
// its successor.
func (s *session) clearPolling(done chan struct{}) {
	s.mu.Lock()
	if s.done == done {
		s.pollingActive = false
	}
	s.mu.Unlock()
}

// stop cancels the poll worker and waits for it to exit. Safe to call on a
// session whose worker already terminated.
func (s *session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}
