package domain

// Response types sent back to a client after an inbound frame.
const (
	ResponseValidationError   = "validation_error"
	ResponseServerError       = "server_error"
	ResponseRegisterSuccess   = "register_success"
	ResponseUnregisterSuccess = "unregister_success"
)

// ServerResponse is the reply frame for client actions.
type ServerResponse struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
