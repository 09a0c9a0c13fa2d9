// Package event defines the authoring-session event model and its canonical
// JSON encoding.
//
// An Event is one observed fact about how an artwork was made: a brush
// stroke, a layer operation, an import, a plugin invocation, and so on.
// The set of variants is closed; every consumer switches over all of them
// and treats an unknown variant as an error so that adding a variant forces
// attention at each consumption site.
package event

import (
	"fmt"
	"time"
)

// Kind identifies an event variant. The values double as the "type" tag in
// the canonical JSON encoding.
type Kind string

const (
	KindStroke         Kind = "Stroke"
	KindLayerAdded     Kind = "LayerAdded"
	KindLayerModified  Kind = "LayerModified"
	KindLayerDeleted   Kind = "LayerDeleted"
	KindImport         Kind = "ImportEvent"
	KindPluginUsed     Kind = "PluginUsed"
	KindFilterApplied  Kind = "FilterApplied"
	KindSessionControl Kind = "SessionControl"
	KindUndoRedo       Kind = "UndoRedo"
)

// Event is the closed interface over all session event variants.
type Event interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Time returns when the event occurred.
	Time() time.Time
	// Describe returns a short human-readable description for logs.
	Describe() string

	isEvent()
}

// Stroke is a single brush or pen stroke sample.
type Stroke struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Pressure  float64   `json:"pressure"`
	BrushName string    `json:"brush_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Stroke) Kind() Kind      { return KindStroke }
func (e *Stroke) Time() time.Time { return e.Timestamp }
func (e *Stroke) Describe() string {
	return fmt.Sprintf("stroke at (%.1f, %.1f)", e.X, e.Y)
}
func (e *Stroke) isEvent() {}

// LayerAdded records creation of a new layer.
type LayerAdded struct {
	LayerID   string    `json:"layer_id"`
	LayerType string    `json:"layer_type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *LayerAdded) Kind() Kind       { return KindLayerAdded }
func (e *LayerAdded) Time() time.Time  { return e.Timestamp }
func (e *LayerAdded) Describe() string { return "layer added: " + e.LayerID }
func (e *LayerAdded) isEvent()         {}

// LayerModified records a change to an existing layer.
type LayerModified struct {
	LayerID   string    `json:"layer_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *LayerModified) Kind() Kind       { return KindLayerModified }
func (e *LayerModified) Time() time.Time  { return e.Timestamp }
func (e *LayerModified) Describe() string { return "layer modified: " + e.LayerID }
func (e *LayerModified) isEvent()         {}

// LayerDeleted records removal of a layer.
type LayerDeleted struct {
	LayerID   string    `json:"layer_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *LayerDeleted) Kind() Kind       { return KindLayerDeleted }
func (e *LayerDeleted) Time() time.Time  { return e.Timestamp }
func (e *LayerDeleted) Describe() string { return "layer deleted: " + e.LayerID }
func (e *LayerDeleted) isEvent()         {}

// Import records external content brought into the document. FileSize is
// zero when the host did not report one.
type Import struct {
	FileHash   string    `json:"file_hash"`
	ImportType string    `json:"import_type"`
	FileSize   int64     `json:"file_size,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *Import) Kind() Kind       { return KindImport }
func (e *Import) Time() time.Time  { return e.Timestamp }
func (e *Import) Describe() string { return "import: " + e.ImportType }
func (e *Import) isEvent()         {}

// PluginUsed records invocation of a plugin or extension. PluginType is a
// free-form classifier string supplied by the host; the AI detection rules
// match substrings of it.
type PluginUsed struct {
	PluginName string    `json:"plugin_name"`
	PluginType string    `json:"plugin_type"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *PluginUsed) Kind() Kind       { return KindPluginUsed }
func (e *PluginUsed) Time() time.Time  { return e.Timestamp }
func (e *PluginUsed) Describe() string { return "plugin used: " + e.PluginName }
func (e *PluginUsed) isEvent()         {}

// FilterApplied records application of an image filter with its parameters.
type FilterApplied struct {
	FilterName string            `json:"filter_name"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func (e *FilterApplied) Kind() Kind       { return KindFilterApplied }
func (e *FilterApplied) Time() time.Time  { return e.Timestamp }
func (e *FilterApplied) Describe() string { return "filter applied: " + e.FilterName }
func (e *FilterApplied) isEvent()         {}

// SessionControl records lifecycle actions such as start, pause, resume, end.
type SessionControl struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *SessionControl) Kind() Kind       { return KindSessionControl }
func (e *SessionControl) Time() time.Time  { return e.Timestamp }
func (e *SessionControl) Describe() string { return "session control: " + e.Action }
func (e *SessionControl) isEvent()         {}

// UndoRedo records an undo or redo action.
type UndoRedo struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *UndoRedo) Kind() Kind       { return KindUndoRedo }
func (e *UndoRedo) Time() time.Time  { return e.Timestamp }
func (e *UndoRedo) Describe() string { return "undo/redo: " + e.Action }
func (e *UndoRedo) isEvent()         {}
