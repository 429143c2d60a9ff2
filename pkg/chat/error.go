// Package chat provides the wire representations exchanged with the remote
// conversational API, shared by the transport client, the local history and
// the mock server.
package chat

// ErrorResponse represents an error payload returned by the chat API.
type ErrorResponse struct {
	Error string `json:"error"`
}
