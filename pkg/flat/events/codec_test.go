package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/redis"
)

func TestEnvelopeKeepsAttributeSnapshots(t *testing.T) {
	ev := AttributeChanged{
		EntityType: entities.Product,
		Before:     catalog.Attribute{ID: 93, EntityType: entities.Product, Code: "color", BackendType: catalog.BackendInt, IsFilterable: true},
		After:      catalog.Attribute{ID: 93, EntityType: entities.Product, Code: "color", BackendType: catalog.BackendInt, IsFilterable: true, UsedInListing: true},
	}
	b, err := MarshalEnvelope(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"attribute_changed"`)

	got, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeOptionalStore(t *testing.T) {
	got, err := Decode(KindEntityStatusChanged, []byte(`{"entityType":"catalog_product","id":5,"status":2}`))
	require.NoError(t, err)
	assert.Nil(t, got.(EntityStatusChanged).StoreID)

	got, err = Decode(KindEntityStatusChanged, []byte(`{"entityType":"catalog_product","id":5,"status":2,"storeId":3}`))
	require.NoError(t, err)
	require.NotNil(t, got.(EntityStatusChanged).StoreID)
	assert.Equal(t, catalog.StoreID(3), *got.(EntityStatusChanged).StoreID)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("price_rule_applied", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode(KindEntitySaved, []byte(`{"id":`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownKind)

	got, err := Decode(KindImportCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, ImportCompleted{}, got)
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	var order []string
	bus := NewBus(HandlerFunc(func(context.Context, DomainEvent) error {
		order = append(order, "first")
		return assert.AnError
	}))
	bus.Subscribe(HandlerFunc(func(_ context.Context, ev DomainEvent) error {
		order = append(order, "second:"+string(ev.Kind()))
		return nil
	}))

	err := bus.Publish(context.Background(), StoreAdded{StoreID: 1})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"first", "second:store_added"}, order)
}

type memAppender struct {
	stream string
	values []map[string]any
}

func (m *memAppender) XAdd(_ context.Context, stream string, values map[string]any) (string, error) {
	m.stream = stream
	m.values = append(m.values, values)
	return "1-0", nil
}

func TestPublisherAndStreamHandler(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	id, err := NewPublisher(app, "").Publish(ctx, EntitySaved{EntityType: entities.Product, ID: 42})
	require.NoError(t, err)
	assert.Equal(t, "1-0", id)
	assert.Equal(t, DefaultStream, app.stream)

	var got []DomainEvent
	h := StreamHandler(HandlerFunc(func(_ context.Context, ev DomainEvent) error {
		got = append(got, ev)
		return nil
	}), zaptest.NewLogger(t))

	require.NoError(t, h(ctx, redis.Message{ID: "1-0", Values: app.values[0]}))
	assert.Equal(t, []DomainEvent{EntitySaved{EntityType: entities.Product, ID: 42}}, got)

	require.NoError(t, h(ctx, redis.Message{ID: "2-0", Values: map[string]any{"kind": "price_rule_applied", "data": "{}"}}),
		"unknown kinds are acknowledged")
	require.NoError(t, h(ctx, redis.Message{ID: "3-0", Values: map[string]any{"kind": "entity_saved", "data": "{"}}),
		"undecodable entries are acknowledged")
	assert.Len(t, got, 1)

	failing := StreamHandler(HandlerFunc(func(context.Context, DomainEvent) error { return errors.New("db down") }), nil)
	require.Error(t, failing(ctx, redis.Message{ID: "4-0", Values: app.values[0]}), "handler failures stay pending")
}
