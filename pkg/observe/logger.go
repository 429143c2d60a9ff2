// Package observe provides transport.Observer implementations.
package observe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/parley/pkg/transport"
)

// Logger logs every span as it ends, with its annotations and duration.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a span-logging observer.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Start(ctx context.Context, name string) (context.Context, transport.Span) {
	return ctx, &logSpan{logger: l.logger, name: name, start: time.Now()}
}

type logSpan struct {
	logger *zap.Logger
	name   string
	start  time.Time

	mu     sync.Mutex
	fields []zap.Field
}

func (s *logSpan) Annotate(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields, zap.Any(key, value))
}

func (s *logSpan) End(err error) {
	s.mu.Lock()
	fields := append([]zap.Field{
		zap.String("span", s.name),
		zap.Duration("duration", time.Since(s.start)),
	}, s.fields...)
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("span failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("span finished", fields...)
}
