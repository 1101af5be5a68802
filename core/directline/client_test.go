package directline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Options{
		BaseURL:        srv.URL,
		Secret:         "secret-1",
		RequestTimeout: 2 * time.Second,
		HTTPClient:     srv.Client(),
	})
	return client, srv
}

func TestStartSession(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tokens/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-1" {
			t.Errorf("authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"conversationId": "conv-1",
			"token":          "tok-1",
		})
	}))

	sess, err := client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if sess.ConversationID != "conv-1" || sess.Token != "tok-1" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestStartSessionRejectsPartialResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"conversationId": "conv-1"})
	}))

	_, err := client.StartSession(context.Background())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestPostMessageSendsActivity(t *testing.T) {
	var got Activity
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv-1/activities" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	sess := Session{ConversationID: "conv-1", Token: "tok-1"}
	if err := client.PostMessage(context.Background(), sess, "user-7", "hola"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if got.Type != ActivityTypeMessage || got.Text != "hola" || got.From.ID != "user-7" {
		t.Fatalf("activity = %+v", got)
	}
}

func TestFetchEventsWatermark(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("watermark"); got != "5" {
			t.Errorf("watermark = %q", got)
		}
		_ = json.NewEncoder(w).Encode(ActivitySet{
			Activities: []Activity{
				{ID: "a1", Type: "message", Text: "hi", From: ChannelAccount{ID: "bot"}},
			},
			Watermark: "6",
		})
	}))

	sess := Session{ConversationID: "conv-1", Token: "tok-1"}
	set, err := client.FetchEvents(context.Background(), sess, "5")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if set.Watermark != "6" || len(set.Activities) != 1 {
		t.Fatalf("set = %+v", set)
	}
}

func TestFetchEventsKeepsWatermarkOnEmptyResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ActivitySet{})
	}))

	sess := Session{ConversationID: "conv-1", Token: "tok-1"}
	set, err := client.FetchEvents(context.Background(), sess, "9")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if set.Watermark != "9" {
		t.Fatalf("watermark = %q, want 9", set.Watermark)
	}
	if len(set.Activities) != 0 {
		t.Fatalf("activities = %v", set.Activities)
	}
}

func TestErrorClassification(t *testing.T) {
	var status atomic.Int64
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	sess := Session{ConversationID: "conv-1", Token: "tok-1"}

	cases := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrAuthExpired},
		{http.StatusForbidden, ErrAuthExpired},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrRemoteUnavailable},
		{http.StatusBadGateway, ErrRemoteUnavailable},
	}
	for _, tc := range cases {
		status.Store(int64(tc.code))
		_, err := client.FetchEvents(context.Background(), sess, "")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.code, err, tc.want)
		}
	}

	status.Store(http.StatusInternalServerError)
	if err := client.PostMessage(context.Background(), sess, "u", "x"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Errorf("post err = %v", err)
	}
	if !Transient(classifyStatus("GET /x", http.StatusTooManyRequests)) {
		t.Error("429 should be transient")
	}
	if Transient(classifyStatus("GET /x", http.StatusUnauthorized)) {
		t.Error("401 should not be transient")
	}
}

func TestMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	sess := Session{ConversationID: "conv-1", Token: "tok-1"}
	_, err := client.FetchEvents(context.Background(), sess, "")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestIsAgentMessage(t *testing.T) {
	const prefix = "tg-"
	cases := []struct {
		act  Activity
		want bool
	}{
		{Activity{Type: "message", Text: "hi", From: ChannelAccount{ID: "copilot-bot"}}, true},
		{Activity{Type: "message", Text: "hi", From: ChannelAccount{ID: "tg-100"}}, false},
		{Activity{Type: "message", Text: "hi", From: ChannelAccount{ID: "tg-200"}}, false},
		{Activity{Type: "typing", From: ChannelAccount{ID: "copilot-bot"}}, false},
		{Activity{Type: "message", From: ChannelAccount{ID: "copilot-bot"}}, false},
	}
	for i, tc := range cases {
		if got := tc.act.IsAgentMessage(prefix); got != tc.want {
			t.Errorf("case %d: IsAgentMessage = %v, want %v", i, got, tc.want)
		}
	}
}
