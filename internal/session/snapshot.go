package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dabhunt/krita-certified-human-made/internal/event"
)

// Snapshot is the crash-recovery image of an in-progress session. It
// deliberately carries no key material: a restored session signs with a
// fresh keypair, and only the proof it eventually finalizes matters.
type Snapshot struct {
	SessionID         string          `json:"session_id"`
	StartTime         time.Time       `json:"start_time"`
	Events            json.RawMessage `json:"events"`
	Metadata          Metadata        `json:"metadata"`
	Config            Config          `json:"config"`
	ActiveDrawingSecs int64           `json:"active_drawing_secs"`
	CapturedAt        time.Time       `json:"captured_at"`
}

// Snapshot captures the session state for later restore and clears the
// checkpoint-due flag. Finalized sessions cannot be snapshotted.
func (s *Session) Snapshot() (*Snapshot, error) {
	if err := s.guardMutable(); err != nil {
		return nil, err
	}

	serialized, err := event.MarshalEvents(s.events)
	if err != nil {
		return nil, fmt.Errorf("session: snapshot: %w", err)
	}

	s.checkpointDue = false
	return &Snapshot{
		SessionID:         s.id.String(),
		StartTime:         s.startTime,
		Events:            serialized,
		Metadata:          s.Metadata(),
		Config:            s.config,
		ActiveDrawingSecs: int64(s.activeDrawing / time.Second),
		CapturedAt:        time.Now().UTC(),
	}, nil
}

// Restore rebuilds a live session from a snapshot. Identity, history,
// metadata, and limits come back; keys do not. The restored session
// generates a fresh keypair, so its public key differs from whatever the
// crashed process held.
func Restore(snap *Snapshot) (*Session, error) {
	if snap == nil {
		return nil, errors.New("session: restore: nil snapshot")
	}
	id, err := uuid.Parse(snap.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session: restore: bad session id: %w", err)
	}

	var events []event.Event
	if len(snap.Events) > 0 {
		events, err = event.UnmarshalEvents(snap.Events)
		if err != nil {
			return nil, fmt.Errorf("session: restore: %w", err)
		}
	}

	restored, err := newSession(snap.Config)
	if err != nil {
		return nil, err
	}
	restored.id = id
	restored.startTime = snap.StartTime
	restored.events = events
	restored.metadata = snap.Metadata
	restored.activeDrawing = time.Duration(snap.ActiveDrawingSecs) * time.Second

	restored.logger.Info("session restored",
		"session_id", restored.id,
		"events", len(events),
		"captured_at", snap.CapturedAt)
	return restored, nil
}
