// Package session implements the capture side of the pipeline: an
// append-only event log owned by one artwork, with session-exclusive
// keys, that finalizes exactly once into a portable signed proof.
//
// A Session is a single-owner object: the host drives it from one
// goroutine and it performs no internal locking. Wrap it yourself if you
// must share it.
package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dabhunt/krita-certified-human-made/internal/classify"
	"github.com/dabhunt/krita-certified-human-made/internal/crypto"
	"github.com/dabhunt/krita-certified-human-made/internal/event"
	"github.com/dabhunt/krita-certified-human-made/internal/phash"
	"github.com/dabhunt/krita-certified-human-made/internal/proof"
	"github.com/dabhunt/krita-certified-human-made/internal/signer"
)

var (
	ErrAlreadyFinalized  = errors.New("session: already finalized")
	ErrEventLimitReached = errors.New("session: event limit reached")
)

// Config bounds a recording session.
type Config struct {
	// MaxEvents caps the log; recording past it fails for every variant.
	MaxEvents int `json:"max_events"`
	// AutoCheckpointThreshold marks a snapshot as due every N events.
	AutoCheckpointThreshold int `json:"auto_checkpoint_threshold"`
	// PrivacyMode drops stroke coordinates and pressure at record time.
	PrivacyMode bool `json:"privacy_mode"`
}

// DefaultConfig returns the limits used when the host supplies none.
func DefaultConfig() Config {
	return Config{
		MaxEvents:               50_000,
		AutoCheckpointThreshold: 100,
		PrivacyMode:             false,
	}
}

// Validate rejects configurations that would wedge a session.
func (c Config) Validate() error {
	if c.MaxEvents <= 0 {
		return errors.New("session: max events must be positive")
	}
	if c.AutoCheckpointThreshold <= 0 {
		return errors.New("session: checkpoint threshold must be positive")
	}
	return nil
}

// Metadata describes the document and host environment. The AI tracking
// fields (AIToolsUsed, AIToolsList, AIPluginsDetected) are owned by the
// session itself: plugin events set them and SetMetadata cannot clear them.
type Metadata struct {
	DocumentName      string   `json:"document_name,omitempty"`
	CanvasWidth       uint32   `json:"canvas_width,omitempty"`
	CanvasHeight      uint32   `json:"canvas_height,omitempty"`
	KritaVersion      string   `json:"krita_version,omitempty"`
	OSInfo            string   `json:"os_info,omitempty"`
	AIToolsUsed       bool     `json:"ai_tools_used"`
	AIToolsList       []string `json:"ai_tools_list,omitempty"`
	AIPluginsDetected bool     `json:"ai_plugins_detected"`
}

// Session is an in-progress recording. Both keys are generated at
// construction, never replaced, and wiped when finalize returns; one
// keypair lives and dies with one session.
type Session struct {
	id            uuid.UUID
	startTime     time.Time
	events        []event.Event
	metadata      Metadata
	config        Config
	encKey        *crypto.EncryptionKey
	signKey       ed25519.PrivateKey
	pubKey        ed25519.PublicKey
	finalized     bool
	activeDrawing time.Duration
	checkpointDue bool
	logger        *slog.Logger
}

// New creates a session with default limits.
func New() (*Session, error) {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a session with host-supplied limits. Key
// generation failure fails construction; a session never exists without
// its keys.
func NewWithConfig(cfg Config) (*Session, error) {
	s, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created",
		"session_id", s.id,
		"max_events", cfg.MaxEvents,
		"privacy_mode", cfg.PrivacyMode)
	return s, nil
}

// newSession builds the struct and generates both keys; restore and the
// public constructors share it.
func newSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	encKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	pubKey, signKey, err := signer.Generate()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Session{
		id:        uuid.New(),
		startTime: time.Now().UTC(),
		config:    cfg,
		encKey:    encKey,
		signKey:   signKey,
		pubKey:    pubKey,
		logger:    slog.Default().With("component", "session"),
	}, nil
}

// SetLogger replaces the logger. Nil keeps the current one.
func (s *Session) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// guardMutable is the single finalization check every mutator runs.
func (s *Session) guardMutable() error {
	if s.finalized {
		return ErrAlreadyFinalized
	}
	return nil
}

// record funnels every variant through the same guards: finalized
// sessions reject all mutation, and the event limit holds for every
// recording path.
func (s *Session) record(e event.Event) error {
	if err := s.guardMutable(); err != nil {
		return err
	}
	if len(s.events) >= s.config.MaxEvents {
		s.logger.Warn("event limit reached",
			"session_id", s.id,
			"limit", s.config.MaxEvents,
			"dropped", e.Kind())
		return ErrEventLimitReached
	}

	s.events = append(s.events, e)
	if len(s.events)%s.config.AutoCheckpointThreshold == 0 {
		s.checkpointDue = true
		s.logger.Debug("checkpoint due",
			"session_id", s.id,
			"events", len(s.events))
	}
	return nil
}

func (s *Session) now() time.Time {
	return time.Now().UTC()
}

// RecordStroke records one brush or pen sample. In privacy mode the
// coordinates and pressure are zeroed before they ever enter the log;
// the stroke still counts toward the summary.
func (s *Session) RecordStroke(x, y, pressure float64, brushName string) error {
	if s.config.PrivacyMode {
		x, y, pressure = 0, 0, 0
	}
	return s.record(&event.Stroke{
		X:         x,
		Y:         y,
		Pressure:  pressure,
		BrushName: brushName,
		Timestamp: s.now(),
	})
}

// RecordLayerAdded records creation of a layer.
func (s *Session) RecordLayerAdded(layerID, layerType string) error {
	return s.record(&event.LayerAdded{LayerID: layerID, LayerType: layerType, Timestamp: s.now()})
}

// RecordLayerModified records a change to a layer.
func (s *Session) RecordLayerModified(layerID string) error {
	return s.record(&event.LayerModified{LayerID: layerID, Timestamp: s.now()})
}

// RecordLayerDeleted records removal of a layer.
func (s *Session) RecordLayerDeleted(layerID string) error {
	return s.record(&event.LayerDeleted{LayerID: layerID, Timestamp: s.now()})
}

// RecordImport records external content entering the document. fileSize
// may be zero when the host does not know it.
func (s *Session) RecordImport(fileHash, importType string, fileSize int64) error {
	return s.record(&event.Import{
		FileHash:   fileHash,
		ImportType: importType,
		FileSize:   fileSize,
		Timestamp:  s.now(),
	})
}

// RecordPluginUsed records a plugin invocation. Plugin types carrying an
// AI or generation marker flip the session's AI metadata and add the
// plugin to the deduplicated tool list.
func (s *Session) RecordPluginUsed(name, pluginType string) error {
	if err := s.record(&event.PluginUsed{PluginName: name, PluginType: pluginType, Timestamp: s.now()}); err != nil {
		return err
	}

	if strings.Contains(pluginType, "AI") || strings.Contains(pluginType, "GENERATION") {
		s.metadata.AIToolsUsed = true
		s.metadata.AIPluginsDetected = true
		if !slices.Contains(s.metadata.AIToolsList, name) {
			s.metadata.AIToolsList = append(s.metadata.AIToolsList, name)
		}
		s.logger.Info("AI tool recorded",
			"session_id", s.id,
			"plugin", name,
			"plugin_type", pluginType)
	}
	return nil
}

// RecordFilterApplied records an image filter application.
func (s *Session) RecordFilterApplied(name string, params map[string]string) error {
	return s.record(&event.FilterApplied{FilterName: name, Parameters: params, Timestamp: s.now()})
}

// RecordSessionControl records a lifecycle action (start, pause, resume, end).
func (s *Session) RecordSessionControl(action string) error {
	return s.record(&event.SessionControl{Action: action, Timestamp: s.now()})
}

// RecordUndoRedo records an undo or redo.
func (s *Session) RecordUndoRedo(action string) error {
	return s.record(&event.UndoRedo{Action: action, Timestamp: s.now()})
}

// SetMetadata replaces the document metadata. The session-owned AI
// tracking fields survive the replacement.
func (s *Session) SetMetadata(m Metadata) error {
	if err := s.guardMutable(); err != nil {
		return err
	}
	m.AIToolsUsed = s.metadata.AIToolsUsed
	m.AIPluginsDetected = s.metadata.AIPluginsDetected
	m.AIToolsList = s.metadata.AIToolsList
	s.metadata = m
	return nil
}

// AddActiveDrawingTime accumulates host-measured active drawing time.
func (s *Session) AddActiveDrawingTime(d time.Duration) error {
	if err := s.guardMutable(); err != nil {
		return err
	}
	if d > 0 {
		s.activeDrawing += d
	}
	return nil
}

// SetActiveDrawingTime overwrites the active drawing time; restore paths
// use it to carry time across process restarts.
func (s *Session) SetActiveDrawingTime(d time.Duration) error {
	if err := s.guardMutable(); err != nil {
		return err
	}
	if d < 0 {
		d = 0
	}
	s.activeDrawing = d
	return nil
}

// ID returns the session identity.
func (s *Session) ID() uuid.UUID { return s.id }

// StartTime returns when the session was constructed (UTC).
func (s *Session) StartTime() time.Time { return s.startTime }

// EventCount returns the current log length.
func (s *Session) EventCount() int { return len(s.events) }

// Events returns a copy of the log slice. Events themselves are shared
// and must be treated as immutable.
func (s *Session) Events() []event.Event { return slices.Clone(s.events) }

// Metadata returns a copy of the current metadata.
func (s *Session) Metadata() Metadata {
	m := s.metadata
	m.AIToolsList = slices.Clone(m.AIToolsList)
	return m
}

// Config returns the session limits.
func (s *Session) Config() Config { return s.config }

// IsFinalized reports whether finalize has started.
func (s *Session) IsFinalized() bool { return s.finalized }

// CheckpointDue reports whether enough events accumulated since the last
// snapshot to warrant persisting one.
func (s *Session) CheckpointDue() bool { return s.checkpointDue }

// PublicKey returns the session's verifying key.
func (s *Session) PublicKey() ed25519.PublicKey {
	return slices.Clone(s.pubKey)
}

// PublicKeyBase64 returns the verifying key in the proof encoding.
func (s *Session) PublicKeyBase64() string {
	return signer.EncodePublicKey(s.pubKey)
}

// ActiveDrawingTime returns the host-reported active drawing total.
func (s *Session) ActiveDrawingTime() time.Duration { return s.activeDrawing }

// Duration is the wall-clock span of the recorded history: last event
// minus first event, or time since construction while the log is empty.
func (s *Session) Duration() time.Duration {
	if len(s.events) == 0 {
		return time.Since(s.startTime)
	}
	return s.events[len(s.events)-1].Time().Sub(s.events[0].Time())
}

// Finalize consumes the session and emits the signed proof: the event
// log is sealed under the session key, the artifact at artifactPath is
// bound by exact and perceptual hash (or the hashes are left pending
// when the path is empty), the history is classified, and the canonical
// tuple is signed.
//
// The session is finalized from the first step onward. A failure partway
// leaves it finalized and the attempt is not retryable; key material is
// wiped on every exit path.
func (s *Session) Finalize(artifactPath string) (*proof.Proof, error) {
	if err := s.guardMutable(); err != nil {
		return nil, err
	}
	s.finalized = true
	defer s.wipeKeys()

	serialized, err := event.MarshalEvents(s.events)
	if err != nil {
		return nil, fmt.Errorf("session: finalize: serialize events: %w", err)
	}

	blob, err := crypto.Encrypt(serialized, s.encKey)
	if err != nil {
		return nil, fmt.Errorf("session: finalize: encrypt events: %w", err)
	}

	// The proof carries only the hash of the sealed blob; the raw events
	// never leave the process in the clear.
	blobBytes, err := blob.Marshal()
	if err != nil {
		return nil, fmt.Errorf("session: finalize: %w", err)
	}
	encryptedEventsHash := crypto.SHA256Hex(blobBytes)

	fileHash := proof.FileHashPending
	perceptualHash := proof.PerceptualHashPending
	if artifactPath != "" {
		digest, err := crypto.SHA256FileHex(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("session: finalize: %w", err)
		}
		fileHash = proof.FileHashPrefix + digest

		fingerprint, err := phash.FromFile(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("session: finalize: %w", err)
		}
		perceptualHash = fingerprint.Base64()
	}

	wallClock := s.Duration()
	classification, confidence := classify.Evaluate(s.events, wallClock)
	summary := proof.Summarize(s.events, wallClock, s.activeDrawing)

	p, err := proof.Assemble(proof.AssembleInput{
		SessionID:           s.id,
		ArtistPublicKey:     s.pubKey,
		SigningKey:          s.signKey,
		Classification:      classification,
		Confidence:          confidence,
		Summary:             summary,
		EncryptedEventsHash: encryptedEventsHash,
		FileHash:            fileHash,
		PerceptualHash:      perceptualHash,
		DocumentName:        s.metadata.DocumentName,
	})
	if err != nil {
		return nil, fmt.Errorf("session: finalize: %w", err)
	}

	s.logger.Info("proof finalized",
		"session_id", s.id,
		"classification", classification,
		"confidence", confidence,
		"events", len(s.events),
		"artifact_bound", p.HasArtifactBinding())
	return p, nil
}

func (s *Session) wipeKeys() {
	if s.encKey != nil {
		s.encKey.Wipe()
	}
	if s.signKey != nil {
		signer.Wipe(s.signKey)
	}
}
