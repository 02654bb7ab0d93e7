package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"donor-finder/internal/models"
)

func sampleEvent(id uint) RequestEvent {
	return RequestEvent{
		RequestID:  id,
		PatientID:  1,
		DonorID:    2,
		Status:     models.RequestStatusPending,
		Kind:       models.NotificationRequestSent,
		BloodGroup: models.BloodGroupOPos,
		OccurredAt: time.Now().UTC(),
	}
}

func TestRequestEventDecode(t *testing.T) {
	e := sampleEvent(10)
	data, err := e.Encode()
	require.NoError(t, err)

	got, err := DecodeRequestEvent(data)
	require.NoError(t, err)
	assert.Equal(t, e.RequestID, got.RequestID)
	assert.Equal(t, "10:request_sent", got.DedupKey())
	assert.Equal(t, []byte("10"), got.Key())

	_, err = DecodeRequestEvent([]byte(`{"requestId":0}`))
	assert.Error(t, err)
	_, err = DecodeRequestEvent([]byte(`garbage`))
	assert.Error(t, err)
}

func TestRetryPolicyRun(t *testing.T) {
	calls := 0
	err := RetryPolicy{Attempts: 3, Backoff: time.Millisecond}.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryPolicy{Attempts: 2, Backoff: time.Millisecond}.Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestLocalBusDeliversAndRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := map[uint]int{}
	handled := []uint{}

	handler := func(_ context.Context, e RequestEvent) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[e.RequestID]++
		if e.RequestID == 2 && attempts[e.RequestID] == 1 {
			return errors.New("first try fails")
		}
		handled = append(handled, e.RequestID)
		return nil
	}

	bus := NewLocalBus(8, handler, RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, zap.NewNop(), nil)
	bus.Start(context.Background())

	for i := uint(1); i <= 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), sampleEvent(i)))
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint{1, 2, 3}, handled)
	assert.Equal(t, 2, attempts[2])

	assert.ErrorIs(t, bus.Publish(context.Background(), sampleEvent(4)), ErrBusClosed)
}

func TestLocalBusQueueFull(t *testing.T) {
	block := make(chan struct{})
	handler := func(context.Context, RequestEvent) error {
		<-block
		return nil
	}
	bus := NewLocalBus(1, handler, RetryPolicy{Attempts: 1}, zap.NewNop(), nil)
	// no worker yet: the single slot fills up
	require.NoError(t, bus.Publish(context.Background(), sampleEvent(1)))
	assert.ErrorIs(t, bus.Publish(context.Background(), sampleEvent(2)), ErrQueueFull)

	bus.Start(context.Background())
	close(block)
	bus.Close()
}
