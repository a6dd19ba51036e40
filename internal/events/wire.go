package events

import (
	"fmt"
	"time"

	proto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/menu-sync/internal/types"
)

// Encode renders an event as a protobuf Struct, the binary frame format of
// the websocket gateway.
func Encode(ev types.ChangeEvent) ([]byte, error) {
	fields := map[string]any{
		"event_id":   ev.EventID,
		"kind":       string(ev.Kind),
		"parent":     ev.Parent,
		"action":     string(ev.Action),
		"emitted_at": ev.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.EntityID != "" {
		fields["entity_id"] = ev.EntityID
	}
	if ev.Origin != "" {
		fields["origin"] = ev.Origin
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build event frame: %w", err)
	}
	return proto.Marshal(msg)
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (types.ChangeEvent, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return types.ChangeEvent{}, fmt.Errorf("decode event frame: %w", err)
	}

	str := func(key string) string {
		return msg.GetFields()[key].GetStringValue()
	}

	ev := types.ChangeEvent{
		EventID:  str("event_id"),
		Parent:   str("parent"),
		Action:   types.Action(str("action")),
		EntityID: str("entity_id"),
		Origin:   str("origin"),
	}
	kind, err := types.ParseKind(str("kind"))
	if err != nil {
		return types.ChangeEvent{}, err
	}
	ev.Kind = kind

	if raw := str("emitted_at"); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return types.ChangeEvent{}, fmt.Errorf("decode event time: %w", err)
		}
		ev.EmittedAt = at
	}
	return ev, nil
}
