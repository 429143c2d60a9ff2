package observe

import (
	"context"

	"github.com/papercomputeco/parley/pkg/transport"
)

// Multi fans every span out to all of its observers.
type Multi []transport.Observer

func (m Multi) Start(ctx context.Context, name string) (context.Context, transport.Span) {
	spans := make(multiSpan, 0, len(m))
	for _, o := range m {
		var s transport.Span
		ctx, s = o.Start(ctx, name)
		spans = append(spans, s)
	}
	return ctx, spans
}

type multiSpan []transport.Span

func (m multiSpan) Annotate(key string, value any) {
	for _, s := range m {
		s.Annotate(key, value)
	}
}

func (m multiSpan) End(err error) {
	for _, s := range m {
		s.End(err)
	}
}
