package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/chat"
)

var _ = Describe("Client", func() {
	var (
		ctx       context.Context
		upstream  *fakeUpstream
		client    *Client
		fragments []string
		collect   FragmentFunc
	)

	newClient := func(timeout time.Duration, opts ...Option) *Client {
		c, err := New(Config{BaseURL: upstream.URL(), Timeout: timeout}, zap.NewNop(), opts...)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		upstream = newFakeUpstream()
		client = newClient(2 * time.Second)
		fragments = nil
		collect = func(f string) { fragments = append(fragments, f) }
	})

	AfterEach(func() {
		upstream.Close()
	})

	Describe("New", func() {
		It("applies the default path and timeout", func() {
			c, err := New(Config{BaseURL: "http://example.com/api/"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Config().Timeout).To(Equal(30 * time.Second))
			Expect(c.Endpoint()).To(Equal("http://example.com/api/chat"))
		})

		It("rejects a base URL without scheme or host", func() {
			_, err := New(Config{BaseURL: "localhost"}, nil)
			Expect(err).To(HaveOccurred())

			_, err = New(Config{BaseURL: ""}, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("streaming", func() {
		It("assembles fragments into one response", func() {
			upstream.stream = eventStream(
				`{"answer":"He"}`,
				`{"answer":"llo"}`,
				`{"done":true,"conversationId":"c1"}`,
			)

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(chat.ChatResponse{ConversationID: "c1", Answer: "Hello"}))
			Expect(fragments).To(Equal([]string{"He", "llo"}))
			Expect(upstream.PostBodies()).To(BeEmpty())
		})

		It("sends the request as query parameters", func() {
			upstream.stream = eventStream(`{"done":true}`)
			req := chat.ChatRequest{
				Message: "and now?",
				History: []chat.Turn{
					{Role: chat.RoleUser, Content: "hello"},
					{Role: chat.RoleAssistant, Content: "hi there"},
				},
			}

			_, err := client.Send(ctx, req, collect)
			Expect(err).NotTo(HaveOccurred())

			q := upstream.LastStreamQuery()
			Expect(q.Get("message")).To(Equal("and now?"))
			Expect(q.Has("conversationId")).To(BeTrue())
			Expect(q.Get("conversationId")).To(Equal(""))

			var history []chat.Turn
			Expect(json.Unmarshal([]byte(q.Get("history")), &history)).To(Succeed())
			Expect(history).To(Equal(req.History))
		})

		It("sends an empty history array when there is no history", func() {
			upstream.stream = eventStream(`{"done":true}`)

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstream.LastStreamQuery().Get("history")).To(Equal("[]"))
		})

		Describe("conversation identifier", func() {
			It("keeps the last non-empty identifier seen", func() {
				upstream.stream = eventStream(
					`{"conversationId":"a","answer":"x"}`,
					`{"conversationId":"","answer":"y"}`,
					`{"conversationId":"b"}`,
					`{"done":true}`,
				)

				resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi", ConversationID: "orig"}, collect)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.ConversationID).To(Equal("b"))
			})

			It("falls back to the request identifier", func() {
				upstream.stream = eventStream(`{"answer":"x"}`, `{"done":true}`)

				resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi", ConversationID: "orig"}, collect)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.ConversationID).To(Equal("orig"))
			})

			It("is empty when nothing provides one", func() {
				upstream.stream = eventStream(`{"answer":"x"}`, `{"done":true}`)

				resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.ConversationID).To(BeEmpty())
			})
		})

		It("ignores events that are not valid JSON", func() {
			upstream.stream = eventStream(
				`not json`,
				`{"answer":"ok"`,
				`{"answer":"fine"}`,
				`"a string"`,
				`{"done":true}`,
			)

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Answer).To(Equal("fine"))
			Expect(fragments).To(Equal([]string{"fine"}))
			Expect(upstream.PostBodies()).To(BeEmpty())
		})

		It("stops at the completion event", func() {
			upstream.stream = eventStream(
				`{"answer":"a"}`,
				`{"done":true}`,
				`{"answer":"late"}`,
				`{"error":"late"}`,
			)

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Answer).To(Equal("a"))
			Expect(fragments).To(Equal([]string{"a"}))
		})
	})

	Describe("falling back", func() {
		var fallbackReply chat.ChatResponse

		BeforeEach(func() {
			fallbackReply = chat.ChatResponse{ConversationID: "c2", Answer: "ok"}
			upstream.post = jsonReply(http.StatusOK, fallbackReply)
		})

		It("retries with the same request when the connection fails", func() {
			upstream.stream = droppedConnection
			req := chat.ChatRequest{
				Message:        "hi",
				ConversationID: "c0",
				History:        []chat.Turn{{Role: chat.RoleUser, Content: "earlier"}},
			}

			resp, err := client.Send(ctx, req, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
			Expect(fragments).To(BeEmpty())
			Expect(upstream.StreamCalls()).To(Equal(1))
			Expect(upstream.PostBodies()).To(Equal([]chat.ChatRequest{req}))
		})

		It("posts an empty history array", func() {
			upstream.stream = droppedConnection

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstream.PostBodies()).To(Equal([]chat.ChatRequest{{Message: "hi", History: []chat.Turn{}}}))
		})

		It("stops at an error event and falls back", func() {
			upstream.stream = eventStream(
				`{"answer":"par"}`,
				`{"error":"model overloaded"}`,
				`{"answer":"tial"}`,
				`{"done":true}`,
			)

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
			Expect(fragments).To(Equal([]string{"par"}))
			Expect(upstream.PostBodies()).To(HaveLen(1))
		})

		It("falls back when the stream endpoint returns an error status", func() {
			upstream.stream = textReply(http.StatusNotFound, "no streaming here")

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
		})

		It("falls back when the response is not an event stream", func() {
			upstream.stream = jsonReply(http.StatusOK, chat.ChatResponse{Answer: "wrong transport"})

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
		})

		It("falls back when the stream ends without completing", func() {
			upstream.stream = eventStream(`{"answer":"cut"}`)

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
			Expect(fragments).To(Equal([]string{"cut"}))
		})

		It("gives the fallback a fresh timeout after the stream times out", func() {
			client = newClient(300 * time.Millisecond)
			upstream.stream = stalledStream
			upstream.post = delayed(200*time.Millisecond, jsonReply(http.StatusOK, fallbackReply))

			start := time.Now()
			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())
			Expect(*resp).To(Equal(fallbackReply))
			Expect(time.Since(start)).To(BeNumerically(">", 300*time.Millisecond))
		})

		It("surfaces the fallback failure, not the stream failure", func() {
			upstream.stream = droppedConnection
			upstream.post = textReply(http.StatusBadGateway, "upstream down")

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)

			var serverErr *ServerError
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.Transport).To(Equal(KindFallback))
			Expect(serverErr.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("without a fragment callback", func() {
		It("never opens a stream", func() {
			upstream.stream = eventStream(`{"answer":"streamed"}`, `{"done":true}`)
			upstream.post = jsonReply(http.StatusOK, chat.ChatResponse{ConversationID: "c3", Answer: "posted"})

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Answer).To(Equal("posted"))
			Expect(upstream.StreamCalls()).To(Equal(0))
		})

		It("reports a server error with status and body", func() {
			upstream.post = textReply(http.StatusInternalServerError, "server error")

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, nil)
			Expect(err).To(MatchError(ErrNetwork))

			var serverErr *ServerError
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.StatusCode).To(Equal(500))
			Expect(serverErr.Body).To(Equal("server error"))
		})

		It("times out", func() {
			client = newClient(100 * time.Millisecond)
			upstream.post = delayed(2*time.Second, jsonReply(http.StatusOK, chat.ChatResponse{}))

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, nil)
			Expect(err).To(MatchError(ErrTimeout))

			var timeoutErr *TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(timeoutErr.Transport).To(Equal(KindFallback))
			Expect(timeoutErr.After).To(Equal(100 * time.Millisecond))
		})

		It("rejects a malformed response body", func() {
			upstream.post = textReply(http.StatusOK, "<html>")

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, nil)

			var protoErr *ProtocolError
			Expect(errors.As(err, &protoErr)).To(BeTrue())
			Expect(protoErr.Transport).To(Equal(KindFallback))
		})

		It("keeps the request identifier when the server omits one", func() {
			upstream.post = jsonReply(http.StatusOK, map[string]string{"answer": "ok"})

			resp, err := client.Send(ctx, chat.ChatRequest{Message: "hi", ConversationID: "mine"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.ConversationID).To(Equal("mine"))
		})

		It("reports a refused connection as a network error", func() {
			upstream.Close()

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, nil)
			Expect(err).To(MatchError(ErrNetwork))

			var connErr *ConnectionError
			Expect(errors.As(err, &connErr)).To(BeTrue())
		})
	})

	Describe("cancellation", func() {
		It("does not fall back once the caller's context is done", func() {
			upstream.stream = stalledStream
			upstream.post = jsonReply(http.StatusOK, chat.ChatResponse{Answer: "never"})

			cctx, cancel := context.WithCancel(ctx)
			time.AfterFunc(50*time.Millisecond, cancel)

			_, err := client.Send(cctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).To(MatchError(context.Canceled))
			Expect(upstream.PostBodies()).To(BeEmpty())
		})
	})

	Describe("observer", func() {
		It("reports the operation and each attempt", func() {
			obs := &recordingObserver{}
			client = newClient(2*time.Second, WithObserver(obs))
			upstream.stream = droppedConnection
			upstream.post = jsonReply(http.StatusOK, chat.ChatResponse{Answer: "ok"})

			_, err := client.Send(ctx, chat.ChatRequest{Message: "hi"}, collect)
			Expect(err).NotTo(HaveOccurred())

			Expect(obs.started()).To(Equal([]string{SpanSend, SpanStream, SpanFallback}))
			send := obs.span(SpanSend)
			Expect(send.attrs).To(HaveKeyWithValue("transport", KindFallback))
			Expect(send.attrs).To(HaveKey("fallback_reason"))
			Expect(send.ended).To(BeTrue())
			Expect(send.err).NotTo(HaveOccurred())
			Expect(obs.span(SpanStream).err).To(HaveOccurred())
		})
	})
})

type recordedSpan struct {
	name  string
	attrs map[string]any
	ended bool
	err   error
}

func (s *recordedSpan) Annotate(key string, value any) { s.attrs[key] = value }
func (s *recordedSpan) End(err error)                  { s.ended, s.err = true, err }

type recordingObserver struct {
	mu    sync.Mutex
	spans []*recordedSpan
}

func (o *recordingObserver) Start(ctx context.Context, name string) (context.Context, Span) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &recordedSpan{name: name, attrs: map[string]any{}}
	o.spans = append(o.spans, s)
	return ctx, s
}

func (o *recordingObserver) started() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.spans))
	for _, s := range o.spans {
		names = append(names, s.name)
	}
	return names
}

func (o *recordingObserver) span(name string) *recordedSpan {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.spans {
		if s.name == name {
			return s
		}
	}
	Fail("no span named " + name)
	return nil
}
