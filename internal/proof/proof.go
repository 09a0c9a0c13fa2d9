// Package proof defines the portable session proof: the immutable, signed
// record a verifier consumes. A proof binds the artifact (dual hashes),
// the workflow (classification, confidence, event summary), and the
// attestor (per-session public key) under one ED25519 signature over a
// canonical byte sequence.
package proof

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dabhunt/krita-certified-human-made/internal/classify"
	"github.com/dabhunt/krita-certified-human-made/internal/signer"
	"github.com/dabhunt/krita-certified-human-made/pkg/receipt"
)

// Version is the proof format version this package emits.
const Version = "1.0"

// Hash field formats and sentinels. A pending sentinel means the artifact
// was not on disk at finalize time; the binding can be checked only for
// populated hashes.
const (
	FileHashPrefix        = "sha256:"
	FileHashPending       = "sha256:pending"
	PerceptualHashPending = "phash:pending"
)

var (
	ErrUnsigned        = errors.New("proof: missing signature")
	ErrReceiptAttached = errors.New("proof: receipt already attached")
)

// Proof is the finalized session record. Once assembled it is never
// mutated; the single exception is attaching one external receipt, which
// sits outside the signed byte set.
type Proof struct {
	Version             string                  `json:"version"`
	SessionID           uuid.UUID               `json:"session_id"`
	ArtistPublicKey     string                  `json:"artist_public_key"`
	Classification      classify.Classification `json:"classification"`
	Confidence          float64                 `json:"confidence"`
	EventSummary        EventSummary            `json:"event_summary"`
	EncryptedEventsHash string                  `json:"encrypted_events_hash"`
	FileHash            string                  `json:"file_hash"`
	PerceptualHash      string                  `json:"perceptual_hash"`
	Signature           string                  `json:"signature"`
	Receipt             *receipt.Receipt        `json:"triple_timestamp_receipt,omitempty"`
	Timestamp           time.Time               `json:"timestamp"`
	DocumentName        string                  `json:"document_name,omitempty"`
}

// AssembleInput carries everything the assembler signs over, plus the
// session signing key. The key is used once here; the session wipes it
// after finalize returns.
type AssembleInput struct {
	SessionID           uuid.UUID
	ArtistPublicKey     ed25519.PublicKey
	SigningKey          ed25519.PrivateKey
	Classification      classify.Classification
	Confidence          float64
	Summary             EventSummary
	EncryptedEventsHash string
	FileHash            string
	PerceptualHash      string
	DocumentName        string

	// Timestamp is stamped as now (UTC) when zero. Tests pin it.
	Timestamp time.Time
}

// Assemble builds the canonical byte sequence, signs it, and emits the
// immutable proof.
func Assemble(in AssembleInput) (*Proof, error) {
	if len(in.SigningKey) != ed25519.PrivateKeySize {
		return nil, errors.New("proof: assemble: invalid signing key")
	}
	if len(in.ArtistPublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("proof: assemble: invalid public key")
	}
	if !in.Classification.Valid() {
		return nil, fmt.Errorf("proof: assemble: invalid classification %q", in.Classification)
	}
	if in.Confidence < 0.0 || in.Confidence > 1.0 {
		return nil, fmt.Errorf("proof: assemble: confidence %v out of range", in.Confidence)
	}
	if in.EncryptedEventsHash == "" || in.FileHash == "" || in.PerceptualHash == "" {
		return nil, errors.New("proof: assemble: missing hash field")
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	p := &Proof{
		Version:             Version,
		SessionID:           in.SessionID,
		ArtistPublicKey:     signer.EncodePublicKey(in.ArtistPublicKey),
		Classification:      in.Classification,
		Confidence:          in.Confidence,
		EventSummary:        in.Summary,
		EncryptedEventsHash: in.EncryptedEventsHash,
		FileHash:            in.FileHash,
		PerceptualHash:      in.PerceptualHash,
		Timestamp:           ts,
		DocumentName:        in.DocumentName,
	}

	canonical, err := p.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("proof: assemble: %w", err)
	}
	p.Signature = signer.EncodeSignature(signer.Sign(in.SigningKey, canonical))
	return p, nil
}

// CanonicalBytes returns the exact byte sequence the signature covers: a
// deterministic JSON array of the ten signed fields in fixed order. The
// signature and receipt are never part of it.
func (p *Proof) CanonicalBytes() ([]byte, error) {
	tuple := []any{
		p.Version,
		p.SessionID.String(),
		p.ArtistPublicKey,
		p.Classification,
		p.Confidence,
		p.EventSummary,
		p.EncryptedEventsHash,
		p.FileHash,
		p.PerceptualHash,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("canonical bytes: %w", err)
	}
	return b, nil
}

// VerifySignature checks the signature against the embedded artist key.
// A non-matching signature is (false, nil); malformed key or signature
// encodings are errors.
func (p *Proof) VerifySignature() (bool, error) {
	pub, err := signer.DecodePublicKey(p.ArtistPublicKey)
	if err != nil {
		return false, err
	}
	return p.VerifySignatureWithKey(pub)
}

// VerifySignatureWithKey checks the signature against a caller-supplied
// key, for verifiers pinning a known artist identity.
func (p *Proof) VerifySignatureWithKey(pub ed25519.PublicKey) (bool, error) {
	if p.Signature == "" {
		return false, ErrUnsigned
	}
	sig, err := signer.DecodeSignature(p.Signature)
	if err != nil {
		return false, err
	}
	canonical, err := p.CanonicalBytes()
	if err != nil {
		return false, err
	}
	return signer.Verify(pub, canonical, sig), nil
}

// AttachReceipt validates and attaches an external witness receipt. The
// receipt is informative: it is outside the signed bytes and its witness
// authenticity is not checked here, only its shape. One receipt per proof.
func (p *Proof) AttachReceipt(r *receipt.Receipt) error {
	if p.Receipt != nil {
		return ErrReceiptAttached
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("proof: attach receipt: %w", err)
	}
	p.Receipt = r
	return nil
}

// HasArtifactBinding reports whether the dual hashes were populated from a
// real artifact rather than left pending.
func (p *Proof) HasArtifactBinding() bool {
	return p.FileHash != FileHashPending && p.PerceptualHash != PerceptualHashPending
}

// ToJSON renders the transport form: one self-contained JSON document.
func (p *Proof) ToJSON() ([]byte, error) {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("proof: encode: %w", err)
	}
	return b, nil
}

// FromJSON parses a transport document and checks transport-level basics.
// Deep verification (signature, artifact binding, receipt shape) is the
// verify package's job.
func FromJSON(data []byte) (*Proof, error) {
	var p Proof
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("proof: decode: %w", err)
	}
	if p.Version != Version {
		return nil, fmt.Errorf("proof: decode: unsupported version %q", p.Version)
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return nil, fmt.Errorf("proof: decode: confidence %v out of range", p.Confidence)
	}
	if !strings.HasPrefix(p.FileHash, FileHashPrefix) {
		return nil, fmt.Errorf("proof: decode: malformed file_hash %q", p.FileHash)
	}
	return &p, nil
}

// Summary returns a one-line human description.
func (p *Proof) Summary() string {
	doc := p.DocumentName
	if doc == "" {
		doc = "untitled"
	}
	return fmt.Sprintf("%s: %s (%.0f%% confidence), %d events over %ds",
		doc, p.Classification, p.Confidence*100,
		p.EventSummary.TotalEvents, p.EventSummary.SessionDurationSecs)
}
