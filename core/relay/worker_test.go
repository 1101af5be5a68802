package relay

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/directline"
	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/prefs"
)

func agentReply(id, text string) directline.Activity {
	return directline.Activity{
		ID:   id,
		Type: directline.ActivityTypeMessage,
		Text: text,
		From: directline.ChannelAccount{ID: "copilot-bot"},
	}
}

func TestWorkerDeliversOverlappingBatchesExactlyOnce(t *testing.T) {
	agent := &fakeAgent{}
	// The second window overlaps the first, as a long-poll retry would.
	agent.fetchFn = func(call int, _ directline.Session, watermark string) (directline.ActivitySet, error) {
		switch call {
		case 0:
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e1", "uno"), agentReply("e2", "dos")},
				Watermark:  "2",
			}, nil
		case 1:
			if watermark != "2" {
				t.Errorf("second fetch watermark = %q, want 2", watermark)
			}
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e2", "dos"), agentReply("e3", "tres")},
				Watermark:  "3",
			}, nil
		default:
			return directline.ActivitySet{Watermark: watermark}, nil
		}
	}
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), sink, nil)

	if _, _, err := reg.GetOrCreate(context.Background(), 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "three deliveries", func() bool { return len(sink.texts()) >= 3 })

	if got := sink.texts(); !reflect.DeepEqual(got, []string{"uno", "dos", "tres"}) {
		t.Fatalf("delivered = %v", got)
	}
	waitFor(t, "watermark advance", func() bool {
		st, ok := reg.Snapshot(10)
		return ok && st.Watermark == "3"
	})
}

func TestWorkerBacksOffAndRecovers(t *testing.T) {
	agent := &fakeAgent{}
	agent.fetchFn = func(call int, _ directline.Session, watermark string) (directline.ActivitySet, error) {
		if call < 2 {
			return directline.ActivitySet{}, fmt.Errorf("fetch: %w", directline.ErrRemoteUnavailable)
		}
		if call == 2 {
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e1", "back")},
				Watermark:  "1",
			}, nil
		}
		return directline.ActivitySet{Watermark: watermark}, nil
	}
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), sink, nil)

	if _, _, err := reg.GetOrCreate(context.Background(), 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "delivery after backoff", func() bool { return len(sink.texts()) == 1 })
	if got := sink.texts()[0]; got != "back" {
		t.Fatalf("delivered = %q", got)
	}
}

func TestWorkerReauthenticatesOnExpiredFetch(t *testing.T) {
	agent := &fakeAgent{}
	agent.fetchFn = func(_ int, sess directline.Session, watermark string) (directline.ActivitySet, error) {
		if sess.ConversationID == "conv-1" {
			return directline.ActivitySet{}, fmt.Errorf("fetch: %w", directline.ErrAuthExpired)
		}
		if watermark == "" {
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e1", "fresh")},
				Watermark:  "1",
			}, nil
		}
		return directline.ActivitySet{Watermark: watermark}, nil
	}
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), sink, nil)

	if _, _, err := reg.GetOrCreate(context.Background(), 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "delivery on fresh conversation", func() bool { return len(sink.texts()) == 1 })

	if got := agent.startCount(); got != 2 {
		t.Fatalf("start sessions = %d, want 2", got)
	}
	st, ok := reg.Snapshot(10)
	if !ok || st.SessionID != "conv-2" {
		t.Fatalf("snapshot = %+v, want conv-2", st)
	}
}

func TestWorkerDropsSessionWhenReauthKeepsFailing(t *testing.T) {
	agent := &fakeAgent{}
	agent.fetchFn = func(int, directline.Session, string) (directline.ActivitySet, error) {
		return directline.ActivitySet{}, fmt.Errorf("fetch: %w", directline.ErrAuthExpired)
	}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), &fakeSink{}, nil)

	if _, _, err := reg.GetOrCreate(context.Background(), 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "session drop", func() bool {
		_, ok := reg.Snapshot(10)
		return !ok
	})

	// The chat recovers on its next message with a brand-new session.
	st, created, err := reg.GetOrCreate(context.Background(), 10)
	if err != nil {
		t.Fatalf("get or create after drop: %v", err)
	}
	if !created || st.SessionID == "conv-1" {
		t.Fatalf("snapshot = %+v, want a fresh conversation", st)
	}
}

func TestWorkerStopsWhenIdleAndRestartsOnTraffic(t *testing.T) {
	agent := &fakeAgent{}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), &fakeSink{}, func(o *Options) {
		o.IdleTimeout = 20 * time.Millisecond
	})

	if _, _, err := reg.GetOrCreate(context.Background(), 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "idle stop", func() bool {
		st, ok := reg.Snapshot(10)
		return ok && !st.PollingActive
	})
	fetchesAtStop := agent.fetchCount()
	time.Sleep(15 * time.Millisecond)
	if got := agent.fetchCount(); got != fetchesAtStop {
		t.Fatalf("fetches after idle stop = %d, want %d", got, fetchesAtStop)
	}

	// A new message on the same chat revives polling without a new session.
	st, created, err := reg.GetOrCreate(context.Background(), 10)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if created || st.SessionID != "conv-1" {
		t.Fatalf("snapshot = %+v, want revived conv-1", st)
	}
	waitFor(t, "polling restart", func() bool {
		st, ok := reg.Snapshot(10)
		return ok && st.PollingActive
	})
}

func TestWorkerPersistsSetupConfirmation(t *testing.T) {
	agent := &fakeAgent{}
	agent.fetchFn = func(call int, _ directline.Session, watermark string) (directline.ActivitySet, error) {
		if call == 0 {
			return directline.ActivitySet{
				Activities: []directline.Activity{
					agentReply("e1", "Setup is complete! Now we speak English, Spanish, French."),
				},
				Watermark: "1",
			}, nil
		}
		return directline.ActivitySet{Watermark: watermark}, nil
	}
	store := prefs.NewMemoryStore()
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, store, sink, nil)
	ctx := context.Background()

	st, _, err := reg.GetOrCreate(ctx, 10)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if st.SetupComplete {
		t.Fatal("new chat should start in setup mode")
	}
	waitFor(t, "setup confirmation", func() bool {
		st, ok := reg.Snapshot(10)
		return ok && st.SetupComplete
	})

	rec, err := store.Get(ctx, 10)
	if err != nil || rec == nil {
		t.Fatalf("prefs = %v, %v", rec, err)
	}
	if !reflect.DeepEqual(rec.LanguageNames, []string{"English", "Spanish", "French"}) {
		t.Fatalf("names = %v", rec.LanguageNames)
	}
	if !reflect.DeepEqual(rec.LanguageCodes, []string{"en", "es", "fr"}) {
		t.Fatalf("codes = %v", rec.LanguageCodes)
	}
	// The confirmation itself still reaches the chat.
	if got := sink.texts(); len(got) != 1 {
		t.Fatalf("delivered = %v", got)
	}
}

func TestSetupPersistFailureKeepsSetupIncomplete(t *testing.T) {
	const confirmation = "Setup is complete! Now we speak English, Spanish."
	agent := &fakeAgent{}
	var again atomic.Bool
	agent.fetchFn = func(call int, _ directline.Session, watermark string) (directline.ActivitySet, error) {
		if call == 0 {
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e1", confirmation)},
				Watermark:  "1",
			}, nil
		}
		if again.CompareAndSwap(true, false) {
			return directline.ActivitySet{
				Activities: []directline.Activity{agentReply("e2", confirmation)},
				Watermark:  "2",
			}, nil
		}
		return directline.ActivitySet{Watermark: watermark}, nil
	}
	store := newFlakyStore()
	store.failUpsert.Store(true)
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, store, sink, nil)
	ctx := context.Background()

	if _, _, err := reg.GetOrCreate(ctx, 10); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	waitFor(t, "confirmation delivery", func() bool { return len(sink.texts()) == 1 })

	// The reply reached the chat, but with nothing stored the session must
	// stay in setup mode.
	st, ok := reg.Snapshot(10)
	if !ok {
		t.Fatal("no session")
	}
	if st.SetupComplete {
		t.Fatal("setup must not complete while no preference record is stored")
	}
	if rec, err := store.MemoryStore.Get(ctx, 10); err != nil || rec != nil {
		t.Fatalf("stored record = %v, %v; want nil, nil", rec, err)
	}

	// Once the store recovers, the next confirmation retries persistence.
	store.failUpsert.Store(false)
	again.Store(true)
	waitFor(t, "setup completion after store recovery", func() bool {
		st, ok := reg.Snapshot(10)
		return ok && st.SetupComplete
	})
	rec, err := store.MemoryStore.Get(ctx, 10)
	if err != nil || rec == nil {
		t.Fatalf("stored record = %v, %v", rec, err)
	}
	if !reflect.DeepEqual(rec.LanguageNames, []string{"English", "Spanish"}) {
		t.Fatalf("names = %v", rec.LanguageNames)
	}
}

func TestIdleStopDecidesAndClearsAtomically(t *testing.T) {
	base := time.Unix(1000, 0)
	s := &session{chatID: 10, lastInteraction: base, pollingActive: true}

	if _, stop := s.idleStop(base.Add(time.Second), 5*time.Second); stop {
		t.Fatal("fresh session must keep polling")
	}
	if st := s.snapshot(); !st.PollingActive {
		t.Fatal("flag must survive a negative idle check")
	}

	// Activity between checks pushes the deadline back.
	s.touch(base.Add(4 * time.Second))
	if _, stop := s.idleStop(base.Add(6*time.Second), 5*time.Second); stop {
		t.Fatal("touched session must keep polling")
	}

	idle, stop := s.idleStop(base.Add(10*time.Second), 5*time.Second)
	if !stop {
		t.Fatal("idle session must stop")
	}
	if idle != 6*time.Second {
		t.Fatalf("idle = %v, want 6s", idle)
	}
	if st := s.snapshot(); st.PollingActive {
		t.Fatal("stop decision must clear the flag in the same step")
	}
}

func TestStaleWorkerExitCannotMaskRestartedPolling(t *testing.T) {
	base := time.Unix(1000, 0)
	s := &session{chatID: 10, lastInteraction: base, pollingActive: true}
	oldDone := make(chan struct{})
	s.done = oldDone

	if _, stop := s.idleStop(base.Add(time.Minute), time.Second); !stop {
		t.Fatal("expected idle stop")
	}

	// Registry restarts polling before the old worker finishes unwinding.
	newDone := make(chan struct{})
	s.mu.Lock()
	s.done = newDone
	s.pollingActive = true
	s.mu.Unlock()

	s.clearPolling(oldDone)
	if st := s.snapshot(); !st.PollingActive {
		t.Fatal("a superseded worker must not clear its successor's flag")
	}
	s.clearPolling(newDone)
	if st := s.snapshot(); st.PollingActive {
		t.Fatal("the owning worker must clear the flag")
	}
}

func TestDeliverSkipsEchoesAndMalformedEvents(t *testing.T) {
	agent := &fakeAgent{}
	sink := &fakeSink{}
	reg := newTestRegistry(t, agent, prefs.NewMemoryStore(), sink, nil)
	s := &session{chatID: 10, dedup: NewDedupCache(8, time.Minute), setupComplete: true}
	s.remote = directline.Session{ConversationID: "conv-1"}

	set := directline.ActivitySet{
		Activities: []directline.Activity{
			{ID: "u1", Type: "message", Text: "hola", From: directline.ChannelAccount{ID: "tg-42"}},
			{Type: "message", Text: "no id", From: directline.ChannelAccount{ID: "copilot-bot"}},
			{ID: "t1", Type: "typing", From: directline.ChannelAccount{ID: "copilot-bot"}},
			agentReply("e1", "real reply"),
			agentReply("e1", "real reply"),
		},
		Watermark: "5",
	}
	reg.deliver(context.Background(), s, "conv-1", set)

	if got := sink.texts(); !reflect.DeepEqual(got, []string{"real reply"}) {
		t.Fatalf("delivered = %v", got)
	}
	if _, wm := s.remoteState(); wm != "5" {
		t.Fatalf("watermark = %q, want 5", wm)
	}

	// A watermark from a conversation that was swapped out must not stick.
	s.swapRemote(directline.Session{ConversationID: "conv-2"})
	reg.deliver(context.Background(), s, "conv-1", directline.ActivitySet{Watermark: "9"})
	if _, wm := s.remoteState(); wm != "" {
		t.Fatalf("watermark = %q, want empty after swap", wm)
	}
}
