package mockserver

import "time"

// Config is the mock server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// Path of the chat endpoint (default "/chat")
	Path string

	// FragmentDelay is slept before each streamed fragment to mimic a
	// model generating tokens.
	FragmentDelay time.Duration

	// DisableStreaming makes the streaming endpoint return 404 so that
	// clients must fall back to the single request.
	DisableStreaming bool
}
