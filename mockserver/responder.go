package mockserver

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/papercomputeco/parley/pkg/chat"
)

// Reply is a complete answer, pre-split into the fragments the streaming
// endpoint sends.
type Reply struct {
	ConversationID string
	Fragments      []string
}

// Answer returns the full answer text.
func (r Reply) Answer() string {
	return strings.Join(r.Fragments, "")
}

// Responder produces the answer for a chat request.
type Responder interface {
	Respond(ctx context.Context, req chat.ChatRequest) (Reply, error)
}

// ResponderFunc adapts a function to a Responder.
type ResponderFunc func(ctx context.Context, req chat.ChatRequest) (Reply, error)

func (f ResponderFunc) Respond(ctx context.Context, req chat.ChatRequest) (Reply, error) {
	return f(ctx, req)
}

// EchoResponder repeats the user's message back, one word per fragment.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, req chat.ChatRequest) (Reply, error) {
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	return Reply{
		ConversationID: id,
		Fragments:      SplitWords("You said: " + req.Message),
	}, nil
}

// SplitWords splits s after each run of spaces, so that joining the parts
// gives back s.
func SplitWords(s string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i-1] == ' ' && s[i] != ' ' {
			parts = append(parts, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
