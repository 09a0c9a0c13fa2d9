package event

import (
	"encoding/json"
	"fmt"
)

// MarshalEvents encodes events as the canonical JSON array form: each
// element carries a leading "type" tag followed by the variant fields. This
// is the exact byte sequence the session encrypts at finalize and the form
// snapshots persist, so it must stay deterministic for a given event slice.
func MarshalEvents(events []Event) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(events))
	for i, e := range events {
		b, err := marshalOne(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		items = append(items, b)
	}
	return json.Marshal(items)
}

// UnmarshalEvents decodes the canonical JSON array form. An unknown type
// tag is an error, never silently skipped.
func UnmarshalEvents(data []byte) ([]Event, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}

	events := make([]Event, 0, len(items))
	for i, raw := range items {
		e, err := unmarshalOne(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// marshalOne wraps a variant with its leading type tag. The embedded
// variant struct flattens into the same object, so encoded events are
// self-describing from the first bytes.
func marshalOne(e Event) (json.RawMessage, error) {
	switch v := e.(type) {
	case *Stroke:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Stroke
		}{KindStroke, v})
	case *LayerAdded:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*LayerAdded
		}{KindLayerAdded, v})
	case *LayerModified:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*LayerModified
		}{KindLayerModified, v})
	case *LayerDeleted:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*LayerDeleted
		}{KindLayerDeleted, v})
	case *Import:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*Import
		}{KindImport, v})
	case *PluginUsed:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*PluginUsed
		}{KindPluginUsed, v})
	case *FilterApplied:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*FilterApplied
		}{KindFilterApplied, v})
	case *SessionControl:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*SessionControl
		}{KindSessionControl, v})
	case *UndoRedo:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*UndoRedo
		}{KindUndoRedo, v})
	default:
		return nil, fmt.Errorf("unhandled event kind %T", e)
	}
}

func unmarshalOne(raw json.RawMessage) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var e Event
	switch head.Type {
	case KindStroke:
		e = &Stroke{}
	case KindLayerAdded:
		e = &LayerAdded{}
	case KindLayerModified:
		e = &LayerModified{}
	case KindLayerDeleted:
		e = &LayerDeleted{}
	case KindImport:
		e = &Import{}
	case KindPluginUsed:
		e = &PluginUsed{}
	case KindFilterApplied:
		e = &FilterApplied{}
	case KindSessionControl:
		e = &SessionControl{}
	case KindUndoRedo:
		e = &UndoRedo{}
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}

	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return e, nil
}
