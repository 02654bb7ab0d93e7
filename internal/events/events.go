// Package events carries request lifecycle events from the request service to
// notification dispatch.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"donor-finder/internal/models"
)

// ErrBusClosed is returned when publishing to a stopped bus.
var ErrBusClosed = errors.New("event bus closed")

// ErrQueueFull is returned when the local queue cannot take another event.
var ErrQueueFull = errors.New("event queue full")

// RequestEvent records one persisted lifecycle step of a Request.
type RequestEvent struct {
	RequestID  uint                    `json:"requestId"`
	PatientID  uint                    `json:"patientId"`
	DonorID    uint                    `json:"donorId"`
	Status     models.RequestStatus    `json:"status"`
	Kind       models.NotificationType `json:"kind"`
	BloodGroup models.BloodGroup       `json:"bloodGroup"`
	Message    string                  `json:"message,omitempty"`
	OccurredAt time.Time               `json:"occurredAt"`
}

// DedupKey identifies the notification this event produces.
func (e RequestEvent) DedupKey() string {
	return models.NotificationDedupKey(e.RequestID, e.Kind)
}

// Key is the partition key used by brokers: all steps of a request stay ordered.
func (e RequestEvent) Key() []byte {
	return []byte(fmt.Sprintf("%d", e.RequestID))
}

// Encode serialises e for the wire.
func (e RequestEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRequestEvent parses a wire payload.
func DecodeRequestEvent(data []byte) (RequestEvent, error) {
	var e RequestEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return RequestEvent{}, fmt.Errorf("decode request event: %w", err)
	}
	if e.RequestID == 0 || e.Kind == "" {
		return RequestEvent{}, fmt.Errorf("decode request event: missing requestId or kind")
	}
	return e, nil
}

// Publisher hands events to whatever delivers them to the Handler.
type Publisher interface {
	Publish(ctx context.Context, event RequestEvent) error
	Close()
}

// Handler processes one event. Returning an error asks for a retry.
type Handler func(ctx context.Context, event RequestEvent) error

// RetryPolicy bounds handler retries.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Run calls fn until it succeeds, attempts are exhausted or ctx is done.
// The backoff doubles after each failure.
func (p RetryPolicy) Run(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
