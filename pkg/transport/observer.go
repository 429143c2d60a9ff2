package transport

import "context"

// Observer receives span-style notifications about send operations and
// their transport attempts. Implementations must be safe for concurrent use
// since overlapping Send calls share the client's observer.
type Observer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// Span is one observed operation.
type Span interface {
	Annotate(key string, value any)
	End(err error)
}

// Span names used by the client.
const (
	SpanSend     = "chat.send"
	SpanStream   = "chat.stream"
	SpanFallback = "chat.fallback"
)

type nopObserver struct{}

func (nopObserver) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) Annotate(string, any) {}
func (nopSpan) End(error)            {}
