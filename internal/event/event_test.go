// Package event tests for the variant model and canonical codec.
package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// oneOfEach returns a sample of every variant. Tests iterate this to keep
// the codec honest about covering the whole closed set.
func oneOfEach() []Event {
	return []Event{
		&Stroke{X: 120.5, Y: 340.25, Pressure: 0.82, BrushName: "b) Basic-1", Timestamp: testTime},
		&LayerAdded{LayerID: "layer-2", LayerType: "paintlayer", Timestamp: testTime.Add(time.Second)},
		&LayerModified{LayerID: "layer-2", Timestamp: testTime.Add(2 * time.Second)},
		&LayerDeleted{LayerID: "layer-1", Timestamp: testTime.Add(3 * time.Second)},
		&Import{FileHash: "sha256:abc123", ImportType: "reference_image", FileSize: 204800, Timestamp: testTime.Add(4 * time.Second)},
		&PluginUsed{PluginName: "G'MIC", PluginType: "FILTER_SUITE", Timestamp: testTime.Add(5 * time.Second)},
		&FilterApplied{FilterName: "gaussian_blur", Parameters: map[string]string{"radius": "4"}, Timestamp: testTime.Add(6 * time.Second)},
		&SessionControl{Action: "start", Timestamp: testTime},
		&UndoRedo{Action: "undo", Timestamp: testTime.Add(7 * time.Second)},
	}
}

// =============================================================================
// Variant accessor tests
// =============================================================================

func TestEvent_Kinds(t *testing.T) {
	want := []Kind{
		KindStroke, KindLayerAdded, KindLayerModified, KindLayerDeleted,
		KindImport, KindPluginUsed, KindFilterApplied, KindSessionControl,
		KindUndoRedo,
	}
	events := oneOfEach()
	require.Len(t, events, len(want))
	for i, e := range events {
		assert.Equal(t, want[i], e.Kind())
	}
}

func TestEvent_Time(t *testing.T) {
	e := &Stroke{X: 1, Y: 2, Pressure: 0.5, Timestamp: testTime}
	assert.True(t, e.Time().Equal(testTime))
}

func TestEvent_Describe(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{&Stroke{X: 10, Y: 20}, "stroke at (10.0, 20.0)"},
		{&LayerAdded{LayerID: "bg"}, "layer added: bg"},
		{&LayerModified{LayerID: "bg"}, "layer modified: bg"},
		{&LayerDeleted{LayerID: "bg"}, "layer deleted: bg"},
		{&Import{ImportType: "texture"}, "import: texture"},
		{&PluginUsed{PluginName: "smudge"}, "plugin used: smudge"},
		{&FilterApplied{FilterName: "sharpen"}, "filter applied: sharpen"},
		{&SessionControl{Action: "pause"}, "session control: pause"},
		{&UndoRedo{Action: "redo"}, "undo/redo: redo"},
	}
	for _, tt := range tests {
		t.Run(string(tt.event.Kind()), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Describe())
		})
	}
}

// =============================================================================
// Codec tests
// =============================================================================

func TestMarshalEvents_RoundTrip(t *testing.T) {
	original := oneOfEach()

	encoded, err := MarshalEvents(original)
	require.NoError(t, err)

	decoded, err := UnmarshalEvents(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(original))

	for i := range original {
		assert.Equal(t, original[i].Kind(), decoded[i].Kind(), "kind at %d", i)
		assert.True(t, original[i].Time().Equal(decoded[i].Time()), "time at %d", i)
	}

	// Re-encoding the decoded slice must reproduce the exact bytes: the
	// session hashes ciphertext over this encoding, so it cannot drift.
	reencoded, err := MarshalEvents(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestMarshalEvents_TagLeadsEachElement(t *testing.T) {
	encoded, err := MarshalEvents(oneOfEach())
	require.NoError(t, err)

	var items []json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &items))
	for i, raw := range items {
		assert.True(t, strings.HasPrefix(string(raw), `{"type":"`),
			"element %d does not lead with a type tag: %s", i, raw)
	}
}

func TestMarshalEvents_Empty(t *testing.T) {
	encoded, err := MarshalEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(encoded))

	decoded, err := UnmarshalEvents(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestMarshalEvents_OptionalFieldsOmitted(t *testing.T) {
	encoded, err := MarshalEvents([]Event{
		&Stroke{X: 1, Y: 2, Pressure: 0.3, Timestamp: testTime},
		&Import{FileHash: "sha256:ff", ImportType: "photo", Timestamp: testTime},
	})
	require.NoError(t, err)

	s := string(encoded)
	assert.NotContains(t, s, "brush_name")
	assert.NotContains(t, s, "file_size")
}

func TestUnmarshalEvents_PayloadFields(t *testing.T) {
	in := []Event{
		&Stroke{X: 5.5, Y: 6.5, Pressure: 1.0, BrushName: "ink", Timestamp: testTime},
		&FilterApplied{FilterName: "posterize", Parameters: map[string]string{"levels": "3", "mode": "rgb"}, Timestamp: testTime},
	}
	encoded, err := MarshalEvents(in)
	require.NoError(t, err)

	out, err := UnmarshalEvents(encoded)
	require.NoError(t, err)
	require.Len(t, out, 2)

	stroke, ok := out[0].(*Stroke)
	require.True(t, ok, "expected *Stroke, got %T", out[0])
	assert.Equal(t, 5.5, stroke.X)
	assert.Equal(t, 6.5, stroke.Y)
	assert.Equal(t, 1.0, stroke.Pressure)
	assert.Equal(t, "ink", stroke.BrushName)

	filter, ok := out[1].(*FilterApplied)
	require.True(t, ok, "expected *FilterApplied, got %T", out[1])
	assert.Equal(t, "posterize", filter.FilterName)
	assert.Equal(t, map[string]string{"levels": "3", "mode": "rgb"}, filter.Parameters)
}

func TestUnmarshalEvents_UnknownTag(t *testing.T) {
	_, err := UnmarshalEvents([]byte(`[{"type":"Telekinesis","timestamp":"2026-03-14T09:26:53Z"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestUnmarshalEvents_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "not json at all"},
		{"object not array", `{"type":"Stroke"}`},
		{"bad element", `[42]`},
		{"bad timestamp", `[{"type":"Stroke","x":1,"y":2,"pressure":0.5,"timestamp":"yesterday"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEvents([]byte(tt.in))
			assert.Error(t, err)
		})
	}
}
