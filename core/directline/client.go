// Package directline wraps the Copilot Studio Direct Line v3 session API:
// start a conversation, post user activities, long-poll for agent activities.
// Every call is a single attempt; retry policy belongs to the caller.
package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Anna-Liutenko/tbuddy-translation-TG-tool/core/logger"
	"log/slog"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	// maxResponseBytes bounds a single API response body.
	maxResponseBytes = 1 << 20
)

// Options configures a Client.
type Options struct {
	// BaseURL is the Direct Line v3 API root, without trailing slash.
	BaseURL string
	// Secret authorizes the token-generate call.
	Secret string
	// RequestTimeout bounds every API call, including the server-side
	// long-poll hold on activity fetches. Zero means 35s.
	RequestTimeout time.Duration
	// HTTPClient overrides the default tuned client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one Direct Line deployment. It is safe for concurrent use.
type Client struct {
	baseURL string
	secret  string
	timeout time.Duration
	http    *http.Client
}

// New builds a Client from options.
func New(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = buildHTTPClient(timeout)
	}
	return &Client{
		baseURL: opts.BaseURL,
		secret:  opts.Secret,
		timeout: timeout,
		http:    hc,
	}
}

// buildHTTPClient returns an HTTP client tuned for long-poll calls: the
// overall timeout must exceed the server-side hold, so there is no
// ResponseHeaderTimeout.
func buildHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StartSession opens a new Direct Line conversation and returns its id and
// bearer token. Single attempt, no internal retry.
func (c *Client) StartSession(ctx context.Context) (Session, error) {
	start := time.Now()
	var sess Session
	err := c.do(ctx, http.MethodPost, c.baseURL+"/tokens/generate", c.secret, nil, &sess)
	if err != nil {
		logger.Agent.Error("start session failed",
			slog.String("event", "session.start"),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	if sess.ConversationID == "" || sess.Token == "" {
		return Session{}, fmt.Errorf("%w: token response missing conversation id or token", ErrMalformedResponse)
	}
	logger.Agent.Info("session started",
		slog.String("event", "session.start"),
		slog.String("session_id", sess.ConversationID),
		slog.Duration("duration", logger.Took(start)),
	)
	return sess, nil
}

// PostMessage sends a user text activity into the conversation. The agent's
// reply arrives later via FetchEvents, never as this call's response.
func (c *Client) PostMessage(ctx context.Context, sess Session, userID, text string) error {
	activity := Activity{
		Type: ActivityTypeMessage,
		From: ChannelAccount{ID: userID},
		Text: text,
	}
	endpoint := fmt.Sprintf("%s/conversations/%s/activities", c.baseURL, url.PathEscape(sess.ConversationID))
	start := time.Now()
	if err := c.do(ctx, http.MethodPost, endpoint, sess.Token, activity, nil); err != nil {
		logger.Agent.Error("post message failed",
			slog.String("event", "message.post"),
			slog.String("session_id", sess.ConversationID),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("post message: %w", err)
	}
	logger.Agent.Debug("message posted",
		slog.String("event", "message.post"),
		slog.String("session_id", sess.ConversationID),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// FetchEvents retrieves activities after the given watermark. The server may
// hold the request until data exists or its own timeout passes; an empty set
// with an unchanged watermark is a normal outcome, not an error.
func (c *Client) FetchEvents(ctx context.Context, sess Session, watermark string) (ActivitySet, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/activities", c.baseURL, url.PathEscape(sess.ConversationID))
	if watermark != "" {
		endpoint += "?watermark=" + url.QueryEscape(watermark)
	}
	var set ActivitySet
	if err := c.do(ctx, http.MethodGet, endpoint, sess.Token, nil, &set); err != nil {
		return ActivitySet{}, fmt.Errorf("fetch events: %w", err)
	}
	// A response without a watermark keeps the cursor where it was.
	if set.Watermark == "" {
		set.Watermark = watermark
	}
	return set, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, bearer string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(method+" "+req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrRemoteUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", ErrMalformedResponse, err)
	}
	return nil
}
