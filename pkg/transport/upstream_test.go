package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"github.com/papercomputeco/parley/pkg/chat"
)

// fakeUpstream is a scripted chat API. GET requests go to stream and POST
// requests to post; every call is recorded.
type fakeUpstream struct {
	server *httptest.Server

	stream http.HandlerFunc
	post   http.HandlerFunc

	mu            sync.Mutex
	streamQueries []url.Values
	postBodies    []chat.ChatRequest
}

func newFakeUpstream() *fakeUpstream {
	u := &fakeUpstream{}
	u.server = httptest.NewServer(http.HandlerFunc(u.serve))
	return u
}

func (u *fakeUpstream) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		u.mu.Lock()
		u.streamQueries = append(u.streamQueries, r.URL.Query())
		handler := u.stream
		u.mu.Unlock()
		if handler == nil {
			http.NotFound(w, r)
			return
		}
		handler(w, r)

	case http.MethodPost:
		var req chat.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		u.mu.Lock()
		u.postBodies = append(u.postBodies, req)
		handler := u.post
		u.mu.Unlock()
		if handler == nil {
			http.Error(w, "no fallback configured", http.StatusNotImplemented)
			return
		}
		handler(w, r)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (u *fakeUpstream) URL() string {
	return u.server.URL
}

func (u *fakeUpstream) Close() {
	u.server.Close()
}

func (u *fakeUpstream) StreamCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.streamQueries)
}

func (u *fakeUpstream) PostBodies() []chat.ChatRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]chat.ChatRequest(nil), u.postBodies...)
}

func (u *fakeUpstream) LastStreamQuery() url.Values {
	u.mu.Lock()
	defer u.mu.Unlock()
	Expect(u.streamQueries).NotTo(BeEmpty())
	return u.streamQueries[len(u.streamQueries)-1]
}

// eventStream returns a handler that writes each payload as one event.
func eventStream(payloads ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			w.(http.Flusher).Flush()
		}
	}
}

// stalledStream opens an event stream and never sends anything.
func stalledStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
	<-r.Context().Done()
}

// droppedConnection closes the TCP connection without responding.
func droppedConnection(w http.ResponseWriter, r *http.Request) {
	conn, _, err := w.(http.Hijacker).Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func jsonReply(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

func textReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func delayed(d time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
			next(w, r)
		case <-r.Context().Done():
		}
	}
}
