// Package classify derives a workflow classification and a confidence
// score from a session's event history.
//
// Classification is deliberately simple and rule-based: it must be
// explainable to a human disputing a proof, so there is no statistical
// model anywhere in this package. Both functions are pure.
package classify

import (
	"math"
	"strings"
	"time"

	"github.com/dabhunt/krita-certified-human-made/internal/event"
)

// Classification labels how an artwork was produced.
type Classification string

const (
	// PureHumanMade: no AI tooling and no imported content observed.
	PureHumanMade Classification = "PureHumanMade"
	// Referenced: imported content was present during the session.
	Referenced Classification = "Referenced"
	// AIAssisted: an AI-flavored plugin ran during the session.
	AIAssisted Classification = "AIAssisted"
	// Traced is reserved for tracing detection; no rule emits it yet.
	Traced Classification = "Traced"
	// MixedWorkflow is reserved for combined workflows; no rule emits it yet.
	MixedWorkflow Classification = "MixedWorkflow"
	// Unknown is the fallback when the history is too thin to judge.
	Unknown Classification = "Unknown"
)

// aiToken is matched as a case-sensitive substring of the host-supplied
// plugin type, so "AI_GENERATION" and "OPENAI" match while "Paint" and
// "ai" do not. Hosts are expected to report uppercase plugin type tags.
const aiToken = "AI"

// Confidence adjustment thresholds.
const (
	fewEvents     = 10
	typicalEvents = 50
	shortSession  = 60 * time.Second
	undoRateLow   = 0.05
	undoRateHigh  = 0.20
)

// Valid reports whether c is a member of the classification set.
func (c Classification) Valid() bool {
	switch c {
	case PureHumanMade, Referenced, AIAssisted, Traced, MixedWorkflow, Unknown:
		return true
	}
	return false
}

// Description returns a short human explanation of the label.
func (c Classification) Description() string {
	switch c {
	case PureHumanMade:
		return "Created entirely by hand without references or AI assistance"
	case Referenced:
		return "Created by hand with reference images"
	case AIAssisted:
		return "Created with AI-powered tools or plugins"
	case Traced:
		return "Created by tracing imported content"
	case MixedWorkflow:
		return "Created with a mix of techniques"
	case Unknown:
		return "Insufficient data to classify the workflow"
	}
	return "Unrecognized classification"
}

// BaseConfidence returns the starting confidence for the label, before
// history-based adjustments.
func (c Classification) BaseConfidence() float64 {
	switch c {
	case PureHumanMade:
		return 0.95
	case Referenced:
		return 0.90
	case AIAssisted:
		return 0.98
	case Traced:
		return 0.85
	case MixedWorkflow:
		return 0.80
	}
	return 0.0
}

// Classify applies the rule set to an event history. AI plugin use
// dominates imports, which dominate the pure-hand default; an empty
// history is Unknown.
func Classify(events []event.Event) Classification {
	if len(events) == 0 {
		return Unknown
	}

	hasImport := false
	for _, e := range events {
		switch v := e.(type) {
		case *event.PluginUsed:
			if strings.Contains(v.PluginType, aiToken) {
				return AIAssisted
			}
		case *event.Import:
			hasImport = true
		}
	}

	if hasImport {
		return Referenced
	}
	return PureHumanMade
}

// Confidence scores how well the history supports the label, in [0, 1].
// The base per-label confidence shrinks for thin histories and very short
// sessions, and grows slightly when the undo/redo rate sits in the band
// typical of a human revising their own work.
func Confidence(c Classification, events []event.Event, wallClock time.Duration) float64 {
	score := c.BaseConfidence()

	total := len(events)
	switch {
	case total < fewEvents:
		score *= 0.5
	case total < typicalEvents:
		score *= 0.8
	}

	if wallClock < shortSession {
		score *= 0.7
	}

	if total > 0 {
		undoRedo := 0
		for _, e := range events {
			if _, ok := e.(*event.UndoRedo); ok {
				undoRedo++
			}
		}
		rate := float64(undoRedo) / float64(total)
		if undoRedo > 0 && rate > undoRateLow && rate < undoRateHigh {
			score *= 1.1
		}
	}

	return math.Min(1.0, math.Max(0.0, score))
}

// Evaluate classifies a history and scores it in one call.
func Evaluate(events []event.Event, wallClock time.Duration) (Classification, float64) {
	c := Classify(events)
	return c, Confidence(c, events, wallClock)
}
