// Package transport provides the chat API client. A send operation either
// streams the answer over server-sent events, falling back to a single JSON
// request when the stream cannot be completed, or goes straight to the
// single request when the caller does not want fragments.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
)

// FragmentFunc receives answer fragments in arrival order while streaming.
type FragmentFunc func(fragment string)

// Client sends chat messages to the remote API. A Client is long-lived and
// holds only static configuration; every Send owns its own state, so a
// Client may be shared by overlapping calls. Callers that need ordered
// turns must serialize Send themselves.
type Client struct {
	config     Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	observer   Observer
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used by both transports. Its Timeout
// should be zero: attempts are bounded by Config.Timeout, and a client-wide
// timeout would also cut healthy streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithObserver sets the observer notified of operations and attempts.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a new Client.
func New(config Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	config = config.withDefaults()

	endpoint, err := endpointURL(config.BaseURL, config.Path)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:     config,
		endpoint:   endpoint,
		httpClient: &http.Client{},
		logger:     logger,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the client's static configuration with defaults applied.
func (c *Client) Config() Config {
	return c.config
}

// Endpoint returns the absolute URL of the chat endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send delivers req and returns the single ChatResponse for it.
//
// With a nil onFragment only the fallback request is issued. Otherwise the
// answer is streamed and each fragment is passed to onFragment as it
// arrives; if the stream fails for any reason the failure is logged and the
// same request is retried once as a fallback request with a fresh timeout.
// Only fallback failures reach the caller.
func (c *Client) Send(ctx context.Context, req chat.ChatRequest, onFragment FragmentFunc) (*chat.ChatResponse, error) {
	ctx, span := c.observer.Start(ctx, SpanSend)
	span.Annotate("streaming", onFragment != nil)
	span.Annotate("history_len", len(req.History))

	c.logger.Debug("sending chat message",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history_len", len(req.History)),
		zap.Bool("streaming", onFragment != nil),
		zap.String("message_preview", truncate(req.Message, 50)),
	)

	o := c.attempt(ctx, req, onFragment)
	resp, err := resolve(o)

	switch o := o.(type) {
	case streamedOutcome:
		span.Annotate("transport", KindStream)
	case fallbackOutcome:
		span.Annotate("transport", KindFallback)
		if o.streamErr != nil {
			span.Annotate("fallback_reason", o.streamErr.Error())
		}
	}

	if err != nil {
		c.logger.Error("chat message failed", zap.Error(err))
	} else {
		c.logger.Debug("chat message complete",
			zap.String("conversation_id", resp.ConversationID),
			zap.Int("answer_len", len(resp.Answer)),
		)
	}

	span.End(err)
	return resp, err
}

// attempt runs the transports in order and reports which one settled the
// operation.
func (c *Client) attempt(ctx context.Context, req chat.ChatRequest, onFragment FragmentFunc) outcome {
	if onFragment == nil {
		resp, err := c.fallback(ctx, req.Clone())
		return fallbackOutcome{response: resp, err: err}
	}

	resp, streamErr := c.stream(ctx, req.Clone(), onFragment)
	if streamErr == nil {
		return streamedOutcome{response: resp}
	}

	c.logger.Warn("streaming failed, falling back to single request", zap.Error(streamErr))

	resp, err := c.fallback(ctx, req.Clone())
	return fallbackOutcome{response: resp, err: err, streamErr: streamErr}
}

// attemptError classifies a failure of a single attempt. parent is the
// operation's context and attemptCtx the timeout-bounded context derived
// from it.
func (c *Client) attemptError(kind Kind, parent, attemptCtx context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s request cancelled: %w", kind, parent.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Transport: kind, After: c.config.Timeout}
	}
	return &ConnectionError{Transport: kind, Err: err}
}

func endpointURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}

	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
