package proof

import (
	"time"

	"github.com/dabhunt/krita-certified-human-made/internal/event"
)

// EventSummary is the privacy boundary of a proof: aggregate counts and
// durations survive, per-event detail (coordinates, pressure, parameters,
// timestamps) does not. Field order is fixed; the summary is part of the
// canonical signed bytes.
type EventSummary struct {
	TotalEvents           uint64   `json:"total_events"`
	StrokeCount           uint64   `json:"stroke_count"`
	LayerCount            uint64   `json:"layer_count"`
	SessionDurationSecs   uint64   `json:"session_duration_secs"`
	ActiveDrawingTimeSecs uint64   `json:"active_drawing_time_secs"`
	PluginsUsed           []string `json:"plugins_used"`
	ImportsCount          uint64   `json:"imports_count"`
	UndoRedoCount         uint64   `json:"undo_redo_count"`
}

// Summarize aggregates an event history. wallClock is the session span,
// active the host-reported drawing time. PluginsUsed keeps distinct plugin
// names in first-use order so the summary is deterministic for a given
// history.
func Summarize(events []event.Event, wallClock, active time.Duration) EventSummary {
	s := EventSummary{
		TotalEvents: uint64(len(events)),
		PluginsUsed: make([]string, 0),
	}

	seenPlugins := make(map[string]bool)
	for _, e := range events {
		switch v := e.(type) {
		case *event.Stroke:
			s.StrokeCount++
		case *event.LayerAdded:
			s.LayerCount++
		case *event.LayerModified, *event.LayerDeleted:
			// in the total only
		case *event.Import:
			s.ImportsCount++
		case *event.PluginUsed:
			if !seenPlugins[v.PluginName] {
				seenPlugins[v.PluginName] = true
				s.PluginsUsed = append(s.PluginsUsed, v.PluginName)
			}
		case *event.FilterApplied:
			// in the total only
		case *event.SessionControl:
			// in the total only
		case *event.UndoRedo:
			s.UndoRedoCount++
		}
	}

	if wallClock > 0 {
		s.SessionDurationSecs = uint64(wallClock / time.Second)
	}
	if active > 0 {
		s.ActiveDrawingTimeSecs = uint64(active / time.Second)
	}
	return s
}
