package chat

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn represents a single message in the conversation history.
// History sent upstream never carries timestamps.
type Turn struct {
	Role    Role   `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message text
}
