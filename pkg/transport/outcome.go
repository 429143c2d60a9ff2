package transport

import "github.com/papercomputeco/parley/pkg/chat"

// outcome is how a send operation settled: either the stream completed, or
// the fallback request ran (because no fragments were wanted, or because the
// stream failed). It collapses to one result in resolve.
type outcome interface {
	isOutcome()
}

type streamedOutcome struct {
	response *chat.ChatResponse
}

type fallbackOutcome struct {
	response *chat.ChatResponse
	err      error

	// streamErr is the swallowed stream failure, nil when streaming was
	// never attempted.
	streamErr error
}

func (streamedOutcome) isOutcome() {}
func (fallbackOutcome) isOutcome() {}

func resolve(o outcome) (*chat.ChatResponse, error) {
	switch o := o.(type) {
	case streamedOutcome:
		return o.response, nil
	case fallbackOutcome:
		if o.err != nil {
			return nil, o.err
		}
		return o.response, nil
	default:
		panic("transport: unknown outcome")
	}
}
