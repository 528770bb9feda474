package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStreams replays batches, then cancels the consumer.
type fakeStreams struct {
	mu      sync.Mutex
	batches [][]redis.XStream
	errs    []error
	cancel  context.CancelFunc

	groups []string
	reads  [][]string
	acked  []string
}

func (f *fakeStreams) next() ([]redis.XStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.batches) == 0 {
		f.cancel()
		return nil, context.Canceled
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeStreams) XRead(_ context.Context, streams []string, lastIDs []string, _ int64, _ time.Duration) ([]redis.XStream, error) {
	f.mu.Lock()
	f.reads = append(f.reads, append(append([]string{}, streams...), lastIDs...))
	f.mu.Unlock()
	return f.next()
}

func (f *fakeStreams) XReadGroup(_ context.Context, group, consumer string, streams []string, lastIDs []string, _ int64, _ time.Duration) ([]redis.XStream, error) {
	f.mu.Lock()
	f.reads = append(f.reads, append(append([]string{group, consumer}, streams...), lastIDs...))
	f.mu.Unlock()
	return f.next()
}

func (f *fakeStreams) XAck(_ context.Context, _, _ string, ids ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return int64(len(ids)), nil
}

func (f *fakeStreams) XGroupCreateMkStream(_ context.Context, stream, group, _ string) error {
	f.groups = append(f.groups, stream+"/"+group)
	return nil
}

func batch(stream string, ids ...string) []redis.XStream {
	msgs := make([]redis.XMessage, len(ids))
	for i, id := range ids {
		msgs[i] = redis.XMessage{ID: id, Values: map[string]any{"kind": "entity_saved", "data": `{"id":` + id[:1] + `}`}}
	}
	return []redis.XStream{{Stream: stream, Messages: msgs}}
}

func TestNewStreamConsumerValidates(t *testing.T) {
	_, err := NewStreamConsumer(nil, StreamConsumerConfig{Stream: "s"})
	require.Error(t, err)
	_, err = NewStreamConsumer(&fakeStreams{}, StreamConsumerConfig{})
	require.Error(t, err)
	_, err = NewStreamConsumer(&fakeStreams{}, StreamConsumerConfig{Stream: "s", Group: "g"})
	require.Error(t, err)

	sc, err := NewStreamConsumer(&fakeStreams{}, StreamConsumerConfig{Stream: "s"})
	require.NoError(t, err)
	assert.Equal(t, "0", sc.config.LastID)
	assert.Equal(t, int64(100), sc.config.Count)
	assert.Equal(t, 5*time.Second, sc.config.Block)
}

func TestGroupConsumerAcksHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeStreams{
		cancel:  cancel,
		batches: [][]redis.XStream{batch("events", "1-0", "2-0", "3-0")},
		errs:    []error{redis.Nil},
	}
	sc, err := NewStreamConsumer(fake, StreamConsumerConfig{
		Stream: "events", Group: "flatx", Consumer: "c1", Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var seen []string
	err = sc.Run(ctx, func(_ context.Context, msg Message) error {
		seen = append(seen, msg.ID)
		assert.Equal(t, "entity_saved", msg.GetString("kind"))
		if msg.ID == "2-0" {
			return errors.New("boom")
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"events/flatx"}, fake.groups)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, seen)
	assert.Equal(t, []string{"1-0", "3-0"}, fake.acked, "failed messages stay pending")
	assert.Equal(t, []string{"flatx", "c1", "events", ">"}, fake.reads[0])
}

func TestPlainConsumerAdvancesLastID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeStreams{
		cancel:  cancel,
		batches: [][]redis.XStream{batch("events", "1-0", "2-0"), batch("events", "3-0")},
	}
	sc, err := NewStreamConsumer(fake, StreamConsumerConfig{Stream: "events", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	err = sc.Run(ctx, func(context.Context, Message) error { return nil })
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, fake.reads, 3)
	assert.Equal(t, []string{"events", "0"}, fake.reads[0])
	assert.Equal(t, []string{"events", "2-0"}, fake.reads[1])
	assert.Equal(t, []string{"events", "3-0"}, fake.reads[2])
	assert.Empty(t, fake.acked)
}

func TestConsumerRetriesReadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeStreams{
		cancel:  cancel,
		errs:    []error{errors.New("connection reset")},
		batches: [][]redis.XStream{batch("events", "1-0")},
	}
	sc, err := NewStreamConsumer(fake, StreamConsumerConfig{
		Stream: "events", RetryInterval: time.Millisecond, Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var seen int
	err = sc.Run(ctx, func(context.Context, Message) error { seen++; return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, seen)
}

func TestMessageFields(t *testing.T) {
	m := Message{Values: map[string]any{"kind": "store_added", "data": []byte(`{"storeId":3}`)}}
	assert.Equal(t, "store_added", m.GetString("kind"))
	assert.Equal(t, []byte(`{"storeId":3}`), m.GetData())
	assert.Empty(t, m.GetString("missing"))
	assert.Nil(t, (&Message{}).GetData())
}

func TestStreamArgsAndBusyGroup(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "0", "$"}, streamArgs([]string{"a", "b"}, []string{"0", "$"}))
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(nil))
	assert.False(t, isBusyGroup(errors.New("NOGROUP")))
}
