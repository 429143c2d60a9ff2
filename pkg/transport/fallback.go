package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
)

const (
	maxDiagnosticBytes = 64 * 1024
	unknownErrorText   = "unknown error"
)

// fallback issues the single blocking chat request. It never reports
// fragments.
func (c *Client) fallback(ctx context.Context, req chat.ChatRequest) (resp *chat.ChatResponse, err error) {
	ctx, span := c.observer.Start(ctx, SpanFallback)
	defer func() { span.End(err) }()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s request cancelled: %w", KindFallback, ctx.Err())
	}

	if req.History == nil {
		req.History = []chat.Turn{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{Transport: KindFallback, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("sending chat request",
		zap.String("url", c.endpoint),
		zap.Int("body_size", len(body)),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.attemptError(KindFallback, ctx, attemptCtx, err)
	}
	defer httpResp.Body.Close()

	span.Annotate("status", httpResp.StatusCode)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &ServerError{
			Transport:  KindFallback,
			StatusCode: httpResp.StatusCode,
			Body:       readDiagnostic(httpResp.Body),
		}
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.attemptError(KindFallback, ctx, attemptCtx, err)
	}

	var out chat.ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ProtocolError{Transport: KindFallback, Reason: "malformed chat response", Err: err}
	}

	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}

	return &out, nil
}

// readDiagnostic returns the error text of a failed response, or a
// placeholder when the body cannot be read.
func readDiagnostic(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxDiagnosticBytes))
	if err != nil {
		return unknownErrorText
	}
	return string(data)
}
