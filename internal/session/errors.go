package session

import (
	"fmt"
	"net/http"
)

// ProvisionError is returned when the backend rejects a session
// request. Status 503 means the voice capability is unavailable; 402
// means the wallet's token balance is insufficient. Both get distinct
// user-facing messages rather than a generic failure.
type ProvisionError struct {
	Status  int
	Message string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("voice session provisioning failed (status %d): %s", e.Status, e.Message)
}

// UserMessage returns the message to surface to the user.
func (e *ProvisionError) UserMessage() string {
	switch e.Status {
	case http.StatusServiceUnavailable:
		if e.Message != "" {
			return e.Message
		}
		return "Voice service is not available right now"
	case http.StatusPaymentRequired:
		if e.Message != "" {
			return e.Message
		}
		return "Insufficient token balance for a voice session"
	default:
		if e.Message != "" {
			return e.Message
		}
		return "Failed to start voice session"
	}
}

// TransportError is a channel-level failure (dial, read, unexpected
// disconnect).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("voice channel %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is an application-level error event reported over the
// channel.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server reported error: %s", e.Message)
}
