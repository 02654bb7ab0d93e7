package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePartition replays a fixed log of messages for one partition and honours
// Seek the way librdkafka does: the next Poll resumes at the sought offset.
type fakePartition struct {
	log       []*kafka.Message
	next      int
	committed []kafka.Offset
	seeks     []kafka.Offset
	cancel    context.CancelFunc
}

func newFakePartition(cancel context.CancelFunc, topic string, offsets ...kafka.Offset) *fakePartition {
	f := &fakePartition{cancel: cancel}
	for _, off := range offsets {
		f.log = append(f.log, &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: off},
			Value:          []byte(off.String()),
		})
	}
	return f
}

func (f *fakePartition) Poll(int) kafka.Event {
	if f.next >= len(f.log) {
		f.cancel()
		return nil
	}
	msg := f.log[f.next]
	f.next++
	return msg
}

func (f *fakePartition) CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error) {
	f.committed = append(f.committed, m.TopicPartition.Offset)
	return nil, nil
}

func (f *fakePartition) Seek(tp kafka.TopicPartition, _ int) error {
	f.seeks = append(f.seeks, tp.Offset)
	for i, m := range f.log {
		if m.TopicPartition.Offset == tp.Offset {
			f.next = i
			return nil
		}
	}
	return errors.New("offset out of range")
}

func (f *fakePartition) Assign([]kafka.TopicPartition) error { return nil }
func (f *fakePartition) Unassign() error                     { return nil }

func TestPollLoopRedeliversFailedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	part := newFakePartition(cancel, "donor-request-events", 5, 6)

	var handled []kafka.Offset
	failed := false
	handler := func(_ context.Context, msg *kafka.Message) error {
		handled = append(handled, msg.TopicPartition.Offset)
		if msg.TopicPartition.Offset == 5 && !failed {
			failed = true
			return errors.New("notification store unavailable")
		}
		return nil
	}

	require.NoError(t, pollLoop(ctx, part, handler, 0, zap.NewNop()))
	assert.Equal(t, []kafka.Offset{5, 5, 6}, handled)
	assert.Equal(t, []kafka.Offset{5}, part.seeks)
	// offset 6 is only committed after 5 succeeded
	assert.Equal(t, []kafka.Offset{5, 6}, part.committed)
}

func TestPollLoopStopsWhenSeekFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	part := newFakePartition(cancel, "donor-request-events", 3, 4)
	failing := func(context.Context, *kafka.Message) error { return errors.New("boom") }

	err := pollLoop(ctx, &seekFailing{fakePartition: part}, failing, 0, zap.NewNop())
	assert.Error(t, err)
	assert.Empty(t, part.committed)
}

type seekFailing struct {
	*fakePartition
}

func (s *seekFailing) Seek(kafka.TopicPartition, int) error {
	return errors.New("partition not assigned")
}

func TestPollLoopReturnsOnFatalError(t *testing.T) {
	fatal := kafka.NewError(kafka.ErrFatal, "fatal", true)
	client := &eventsClient{events: []kafka.Event{fatal}}
	err := pollLoop(context.Background(), client, func(context.Context, *kafka.Message) error { return nil }, 0, zap.NewNop())
	require.Error(t, err)
}

type eventsClient struct {
	fakePartition
	events []kafka.Event
}

func (e *eventsClient) Poll(int) kafka.Event {
	if len(e.events) == 0 {
		return nil
	}
	ev := e.events[0]
	e.events = e.events[1:]
	return ev
}
