package transport

import "time"

const (
	DefaultPath    = "/chat"
	DefaultTimeout = 30 * time.Second
)

// Config is the static configuration of a Client. It is read once at
// construction and never changes for the life of the client.
type Config struct {
	// BaseURL of the remote chat API (e.g., "http://localhost:8080")
	BaseURL string

	// Path of the chat endpoint, shared by both transports. Defaults to "/chat".
	Path string

	// Timeout bounds each transport attempt independently. Defaults to 30s.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
