package events

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/types"
)

func sampleEvent() types.ChangeEvent {
	return types.ChangeEvent{
		EventID:   "ev-1",
		Kind:      types.KindItem,
		Parent:    "cat-1",
		Action:    types.ActionReordered,
		Origin:    "node-a",
		EmittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFrameCarriesEvent(t *testing.T) {
	ev := sampleEvent()
	ev.EntityID = "item-9"

	data, err := Encode(ev)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, ev.EmittedAt.Equal(got.EmittedAt))
	got.EmittedAt = ev.EmittedAt
	assert.Equal(t, ev, got)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	ev := sampleEvent()
	ev.Kind = "table"
	data, err := Encode(ev)
	require.NoError(t, err)

	_, err = Decode(data)
	require.ErrorIs(t, err, types.ErrInvalid)
}

func TestProcessDeliversOnceAndDropsDuplicates(t *testing.T) {
	var delivered []types.ChangeEvent
	bus := NewRedisBus(nil, SinkFunc(func(ev types.ChangeEvent) {
		delivered = append(delivered, ev)
	}), "node-a", zerolog.Nop())

	payload, err := sampleEvent().MarshalBinary()
	require.NoError(t, err)
	msg := &redis.Message{Channel: "collection:item:cat-1", Payload: string(payload)}

	require.NoError(t, bus.process(msg))
	require.NoError(t, bus.process(msg))

	require.Len(t, delivered, 1)
	assert.Equal(t, "cat-1", delivered[0].Parent)
	assert.Equal(t, types.ActionReordered, delivered[0].Action)
}

func TestProcessRejectsMismatchedChannel(t *testing.T) {
	bus := NewRedisBus(nil, nil, "node-a", zerolog.Nop())

	payload, err := sampleEvent().MarshalBinary()
	require.NoError(t, err)

	err = bus.process(&redis.Message{Channel: "collection:menu:cat-1", Payload: string(payload)})
	require.Error(t, err)
}

func TestProcessRejectsGarbage(t *testing.T) {
	bus := NewRedisBus(nil, nil, "node-a", zerolog.Nop())
	require.Error(t, bus.process(&redis.Message{Channel: "collection:item:x", Payload: "{"}))
	require.Error(t, bus.process(&redis.Message{Channel: "collection:item:x", Payload: "{}"}))
}

func TestTopic(t *testing.T) {
	bus := NewRedisBus(nil, nil, "", zerolog.Nop())
	assert.Equal(t, "collection:menu:r1", bus.Topic(types.ParentKey{Kind: types.KindMenu, Parent: "r1"}))
}
