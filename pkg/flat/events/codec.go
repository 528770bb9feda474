package events

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4/json"
)

// ErrUnknownKind is returned when decoding a kind this build does not know.
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form of an event.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode renders the payload of ev.
func Encode(ev DomainEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("encode nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return data, nil
}

// Decode parses the payload of an event of the given kind.
func Decode(kind Kind, data []byte) (DomainEvent, error) {
	switch kind {
	case KindAttributeChanged:
		return decodeAs[AttributeChanged](kind, data)
	case KindEntityStatusChanged:
		return decodeAs[EntityStatusChanged](kind, data)
	case KindWebsiteAssignmentAdded:
		return decodeAs[WebsiteAssignmentAdded](kind, data)
	case KindWebsiteAssignmentRemoved:
		return decodeAs[WebsiteAssignmentRemoved](kind, data)
	case KindEntitySaved:
		return decodeAs[EntitySaved](kind, data)
	case KindStoreAdded:
		return decodeAs[StoreAdded](kind, data)
	case KindStoreEdited:
		return decodeAs[StoreEdited](kind, data)
	case KindStoreDeleted:
		return decodeAs[StoreDeleted](kind, data)
	case KindStoreGroupWebsiteChanged:
		return decodeAs[StoreGroupWebsiteChanged](kind, data)
	case KindImportCompleted:
		return decodeAs[ImportCompleted](kind, data)
	case KindVisibilityDimensionChanged:
		return decodeAs[VisibilityDimensionChanged](kind, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeAs[T DomainEvent](kind Kind, data []byte) (DomainEvent, error) {
	var ev T
	if len(data) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}

// MarshalEnvelope renders ev with its kind.
func MarshalEnvelope(ev DomainEvent) ([]byte, error) {
	data, err := Encode(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Kind: ev.Kind(), Data: data})
}

// UnmarshalEnvelope parses an event rendered by MarshalEnvelope.
func UnmarshalEnvelope(b []byte) (DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return Decode(env.Kind, env.Data)
}
