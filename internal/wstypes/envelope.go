// Package wstypes defines the frames exchanged over the realtime channel.
package wstypes

import "encoding/json"

// Event names carried in Envelope.Event.
const (
	// EventRegister is sent by the client after connecting, carrying its user id.
	EventRegister = "register"
	// EventRegistered acknowledges a register frame.
	EventRegistered = "registered"
	// EventNewNotification carries a freshly created notification.
	EventNewNotification = "new_notification"
	// EventError reports a rejected client frame.
	EventError = "error"
)

// Envelope is the JSON frame used in both directions: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload is the body of a client "register" frame.
type RegisterPayload struct {
	UserID uint `json:"userId"`
}

// ErrorPayload is the body of a server "error" frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode builds a frame for event with payload marshalled as data.
func Encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
