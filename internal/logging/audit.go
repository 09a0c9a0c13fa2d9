package logging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventSessionCreated    AuditEventType = "session_created"
	AuditEventSessionRestored   AuditEventType = "session_restored"
	AuditEventEventLimitReached AuditEventType = "event_limit_reached"
	AuditEventProofFinalized    AuditEventType = "proof_finalized"
	AuditEventProofArchived     AuditEventType = "proof_archived"
	AuditEventSnapshotSaved     AuditEventType = "snapshot_saved"
	AuditEventVerificationRun   AuditEventType = "verification_run"
	AuditEventArchiveIntegrity  AuditEventType = "archive_integrity"
)

// AuditEvent is one line of the JSONL audit trail.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	SessionID string         `json:"session_id,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"` // "success" or "failure"
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditLogger appends security-relevant events to a JSONL file. The
// zero value (and NopAudit) silently drops events, so callers never
// need to nil-check before logging.
type AuditLogger struct {
	mu sync.Mutex
	w  *FileRotator
}

// NewAuditLogger opens the audit trail at path, creating parent
// directories as needed.
func NewAuditLogger(path string) (*AuditLogger, error) {
	rotator, err := NewFileRotator(path, defaultMaxAuditBytes, defaultMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("logging: audit: %w", err)
	}
	return &AuditLogger{w: rotator}, nil
}

// NopAudit returns an audit logger that discards everything.
func NopAudit() *AuditLogger {
	return &AuditLogger{}
}

// Log writes one audit event, filling in the timestamp and result when
// the caller left them empty.
func (a *AuditLogger) Log(event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.w == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Result == "" {
		event.Result = "success"
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("logging: marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("logging: write audit event: %w", err)
	}
	return nil
}

// LogSessionCreated records the start of a capture session.
func (a *AuditLogger) LogSessionCreated(sessionID string, details map[string]any) error {
	return a.Log(AuditEvent{
		EventType: AuditEventSessionCreated,
		SessionID: sessionID,
		Action:    "session_created",
		Details:   details,
	})
}

// LogSessionRestored records a session rebuilt from a snapshot.
func (a *AuditLogger) LogSessionRestored(sessionID string, eventCount int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventSessionRestored,
		SessionID: sessionID,
		Action:    "session_restored",
		Details:   map[string]any{"event_count": eventCount},
	})
}

// LogEventLimitReached records a session hitting its event cap.
func (a *AuditLogger) LogEventLimitReached(sessionID string, limit int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventEventLimitReached,
		SessionID: sessionID,
		Action:    "event_rejected",
		Result:    "failure",
		Details:   map[string]any{"limit": limit},
	})
}

// LogProofFinalized records a successful finalize.
func (a *AuditLogger) LogProofFinalized(sessionID, classification string, confidence float64) error {
	return a.Log(AuditEvent{
		EventType: AuditEventProofFinalized,
		SessionID: sessionID,
		Action:    "proof_finalized",
		Details: map[string]any{
			"classification": classification,
			"confidence":     confidence,
		},
	})
}

// LogProofArchived records a proof saved to the archive chain.
func (a *AuditLogger) LogProofArchived(sessionID string, err error) error {
	event := AuditEvent{
		EventType: AuditEventProofArchived,
		SessionID: sessionID,
		Action:    "proof_archived",
	}
	if err != nil {
		event.Result = "failure"
		event.Error = err.Error()
	}
	return a.Log(event)
}

// LogSnapshotSaved records a crash-recovery snapshot write.
func (a *AuditLogger) LogSnapshotSaved(sessionID string, eventCount int) error {
	return a.Log(AuditEvent{
		EventType: AuditEventSnapshotSaved,
		SessionID: sessionID,
		Action:    "snapshot_saved",
		Details:   map[string]any{"event_count": eventCount},
	})
}

// LogVerificationRun records a proof verification and its outcome.
func (a *AuditLogger) LogVerificationRun(proofPath string, passed bool, details map[string]any) error {
	result := "success"
	if !passed {
		result = "failure"
	}
	return a.Log(AuditEvent{
		EventType: AuditEventVerificationRun,
		Action:    "verification_run",
		Result:    result,
		Details:   mergeDetails(details, "proof_path", proofPath),
	})
}

// LogArchiveIntegrity records the outcome of an archive chain walk.
func (a *AuditLogger) LogArchiveIntegrity(err error) error {
	event := AuditEvent{
		EventType: AuditEventArchiveIntegrity,
		Action:    "integrity_check",
	}
	if err != nil {
		event.Result = "failure"
		event.Error = err.Error()
	}
	return a.Log(event)
}

// Sync flushes buffered audit events to disk.
func (a *AuditLogger) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	return a.w.Sync()
}

// Close closes the audit trail. Further events are dropped.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	err := a.w.Close()
	a.w = nil
	return err
}

func mergeDetails(details map[string]any, key, value string) map[string]any {
	if details == nil {
		details = make(map[string]any)
	}
	details[key] = value
	return details
}
