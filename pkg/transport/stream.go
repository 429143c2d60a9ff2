package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
)

const eventStreamType = "text/event-stream"

// Server-sent event lines can carry a whole answer.
const maxEventLineSize = 1024 * 1024

var errStreamClosed = errors.New("stream closed before completion")

// stream runs the streaming attempt: it opens the event stream for req and
// feeds every event to a streamMachine until the machine reaches a terminal
// state, the connection fails, or the attempt times out.
func (c *Client) stream(ctx context.Context, req chat.ChatRequest, onFragment FragmentFunc) (resp *chat.ChatResponse, err error) {
	ctx, span := c.observer.Start(ctx, SpanStream)
	defer func() { span.End(err) }()

	streamURL, err := c.streamURL(req)
	if err != nil {
		return nil, err
	}

	// Cancelling the attempt context closes the connection, so the timer
	// and the connection are always released together.
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, &ConnectionError{Transport: KindStream, Err: err}
	}
	httpReq.Header.Set("Accept", eventStreamType)
	httpReq.Header.Set("Cache-Control", "no-cache")

	c.logger.Debug("opening event stream", zap.String("url", c.endpoint))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.attemptError(KindStream, ctx, attemptCtx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, &ServerError{
			Transport:  KindStream,
			StatusCode: httpResp.StatusCode,
			Body:       readDiagnostic(httpResp.Body),
		}
	}

	mediaType, _, _ := mime.ParseMediaType(httpResp.Header.Get("Content-Type"))
	if mediaType != eventStreamType {
		return nil, &ProtocolError{Transport: KindStream, Reason: "unexpected content type " + mediaType}
	}

	m := newStreamMachine(req.ConversationID, onFragment, c.logger)
	defer func() { span.Annotate("fragments", m.fragments) }()

	dec := newEventDecoder(httpResp.Body)
	for {
		ev, err := dec.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errStreamClosed
			}
			return nil, c.attemptError(KindStream, ctx, attemptCtx, err)
		}

		if ev.name != "" && ev.name != "message" {
			c.logger.Debug("skipping named stream event", zap.String("event", ev.name))
			continue
		}

		if err := m.advance(ev.data); err != nil {
			return nil, err
		}

		if m.state == stateCompleted {
			return m.response(), nil
		}
	}
}

func (c *Client) streamURL(req chat.ChatRequest) (string, error) {
	history := req.History
	if history == nil {
		history = []chat.Turn{}
	}

	encoded, err := json.Marshal(history)
	if err != nil {
		return "", &ProtocolError{Transport: KindStream, Reason: "encode history", Err: err}
	}

	q := url.Values{}
	q.Set("message", req.Message)
	q.Set("conversationId", req.ConversationID)
	q.Set("history", string(encoded))

	return c.endpoint + "?" + q.Encode(), nil
}

type streamState int

const (
	stateOpen streamState = iota
	stateAccumulating
	stateCompleted
	stateFailed
)

func (s streamState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateAccumulating:
		return "accumulating"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// streamMachine accumulates one streamed answer. It is advanced by the raw
// data of each inbound event and stops accepting events once it reaches
// stateCompleted or stateFailed.
type streamMachine struct {
	state          streamState
	answer         bytes.Buffer
	conversationID string
	fragments      int
	onFragment     FragmentFunc
	logger         *zap.Logger
}

func newStreamMachine(conversationID string, onFragment FragmentFunc, logger *zap.Logger) *streamMachine {
	return &streamMachine{
		state:          stateOpen,
		conversationID: conversationID,
		onFragment:     onFragment,
		logger:         logger,
	}
}

func (m *streamMachine) terminal() bool {
	return m.state == stateCompleted || m.state == stateFailed
}

// advance applies one event. Unparseable events are logged and leave the
// machine untouched; an event carrying an error moves it to stateFailed and
// returns the error.
func (m *streamMachine) advance(data []byte) error {
	if m.terminal() {
		return nil
	}

	var ev chat.StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		m.logger.Warn("ignoring unparseable stream event",
			zap.Error(err),
			zap.String("data", truncate(string(data), 100)),
		)
		return nil
	}

	if ev.Error != "" {
		m.state = stateFailed
		return &ProtocolError{Transport: KindStream, Reason: ev.Error}
	}

	if ev.ConversationID != "" {
		m.conversationID = ev.ConversationID
	}

	if ev.Answer != "" {
		m.answer.WriteString(ev.Answer)
		m.fragments++
		m.state = stateAccumulating
		if m.onFragment != nil {
			m.onFragment(ev.Answer)
		}
	}

	m.logger.Debug("stream event",
		zap.Stringer("state", m.state),
		zap.Bool("done", ev.Done),
		zap.String("fragment", truncate(ev.Answer, 50)),
	)

	if ev.Done {
		m.state = stateCompleted
	}

	return nil
}

func (m *streamMachine) response() *chat.ChatResponse {
	return &chat.ChatResponse{
		ConversationID: m.conversationID,
		Answer:         m.answer.String(),
	}
}

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	name string
	data []byte
}

// eventDecoder splits a text/event-stream body into events. Only the
// "event" and "data" fields are interpreted; comments and other fields are
// skipped.
type eventDecoder struct {
	scanner *bufio.Scanner
}

func newEventDecoder(r io.Reader) *eventDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)
	return &eventDecoder{scanner: scanner}
}

// next returns the next event with data. It returns io.EOF when the stream
// ends; a trailing event without its blank line is discarded.
func (d *eventDecoder) next() (sseEvent, error) {
	var (
		ev      sseEvent
		hasData bool
	)

	for d.scanner.Scan() {
		line := d.scanner.Bytes()

		if len(line) == 0 {
			if hasData {
				ev.data = bytes.TrimSuffix(ev.data, []byte("\n"))
				return ev, nil
			}
			ev = sseEvent{}
			continue
		}

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "data":
			ev.data = append(ev.data, value...)
			ev.data = append(ev.data, '\n')
			hasData = true
		case "event":
			ev.name = string(value)
		}
	}

	if err := d.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	return sseEvent{}, io.EOF
}
