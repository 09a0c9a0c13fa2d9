// Package verify checks finalized proofs without daemon or network
// access. Every check is named and reported individually; a proof is
// valid only when no check fails.
package verify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dabhunt/krita-certified-human-made/internal/crypto"
	"github.com/dabhunt/krita-certified-human-made/internal/phash"
	"github.com/dabhunt/krita-certified-human-made/internal/proof"
	"github.com/dabhunt/krita-certified-human-made/internal/signer"
)

// DefaultMaxPerceptualDistance is the Hamming distance (bits out of 256)
// up to which a re-encoded artifact still counts as the bound one.
const DefaultMaxPerceptualDistance = 8

// CheckStatus represents the outcome of a single check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// Check names. Fixed strings; scripts key off them.
const (
	CheckFormat         = "format"
	CheckSummary        = "summary"
	CheckSignature      = "signature"
	CheckTrustedKey     = "trusted_key"
	CheckFileHash       = "file_hash"
	CheckPerceptualHash = "perceptual_hash"
	CheckReceipt        = "receipt"
)

// Check is the outcome of one verification step.
type Check struct {
	Name    string         `json:"name"`
	Status  CheckStatus    `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Report collects the results of a full verification run.
type Report struct {
	Valid          bool      `json:"valid"`
	SessionID      string    `json:"session_id,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Confidence     float64   `json:"confidence"`
	ArtifactBound  bool      `json:"artifact_bound"`
	CheckedAt      time.Time `json:"checked_at"`

	Checks []Check `json:"checks"`

	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Options configures a Verifier. Zero values mean no artifact to compare,
// no pinned key, and the default perceptual distance.
type Options struct {
	// ArtifactPath is the artwork file to compare against the proof's
	// hashes. Empty skips both hash checks.
	ArtifactPath string

	// TrustedKeyPath pins the artist key: the proof's embedded key must
	// match the one in this file. Empty skips the check.
	TrustedKeyPath string

	// MaxPerceptualDistance overrides DefaultMaxPerceptualDistance when
	// positive.
	MaxPerceptualDistance int
}

// Verifier runs the check pipeline against one proof at a time.
type Verifier struct {
	opts Options
}

// New builds a Verifier, filling in option defaults.
func New(opts Options) *Verifier {
	if opts.MaxPerceptualDistance <= 0 {
		opts.MaxPerceptualDistance = DefaultMaxPerceptualDistance
	}
	return &Verifier{opts: opts}
}

// Verify runs every applicable check. It never returns early: a failed
// signature still gets the artifact hashes checked, which is exactly
// what an examiner wants laid out.
func (v *Verifier) Verify(p *proof.Proof) *Report {
	report := &Report{CheckedAt: time.Now().UTC()}
	if p == nil {
		report.add(Check{Name: CheckFormat, Status: StatusFailed, Error: "no proof"})
		report.summarize()
		return report
	}

	report.SessionID = p.SessionID.String()
	report.Classification = string(p.Classification)
	report.Confidence = p.Confidence
	report.ArtifactBound = p.HasArtifactBinding()

	v.checkFormat(report, p)
	v.checkSummary(report, p)
	v.checkSignature(report, p)
	v.checkTrustedKey(report, p)
	v.checkFileHash(report, p)
	v.checkPerceptualHash(report, p)
	v.checkReceipt(report, p)

	report.summarize()
	return report
}

func (r *Report) add(check Check) {
	r.Checks = append(r.Checks, check)
}

func (r *Report) summarize() {
	for _, check := range r.Checks {
		switch check.Status {
		case StatusPassed:
			r.Passed++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
	r.Valid = r.Failed == 0
}

func (v *Verifier) checkFormat(report *Report, p *proof.Proof) {
	check := Check{Name: CheckFormat, Status: StatusPassed}
	switch {
	case p.Version != proof.Version:
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("unsupported proof version %q", p.Version)
	case p.SessionID == uuid.Nil:
		check.Status = StatusFailed
		check.Error = "missing session id"
	case p.Confidence < 0.0 || p.Confidence > 1.0:
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("confidence %v out of range", p.Confidence)
	case !p.Classification.Valid():
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("unknown classification %q", p.Classification)
	case p.Timestamp.IsZero():
		check.Status = StatusFailed
		check.Error = "missing timestamp"
	default:
		check.Message = fmt.Sprintf("proof v%s, finalized %s", p.Version, p.Timestamp.Format(time.RFC3339))
	}
	report.add(check)
}

func (v *Verifier) checkSummary(report *Report, p *proof.Proof) {
	check := Check{Name: CheckSummary, Status: StatusPassed}
	s := p.EventSummary

	counted := s.StrokeCount + s.LayerCount + s.ImportsCount + s.UndoRedoCount
	switch {
	case counted > s.TotalEvents:
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("component counts (%d) exceed total events (%d)", counted, s.TotalEvents)
	case uint64(len(s.PluginsUsed)) > s.TotalEvents:
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("%d plugins recorded across %d events", len(s.PluginsUsed), s.TotalEvents)
	default:
		check.Message = fmt.Sprintf("%d events summarized", s.TotalEvents)
		check.Details = map[string]any{
			"total_events": s.TotalEvents,
			"strokes":      s.StrokeCount,
			"plugins_used": len(s.PluginsUsed),
		}
	}
	report.add(check)
}

func (v *Verifier) checkSignature(report *Report, p *proof.Proof) {
	check := Check{Name: CheckSignature, Status: StatusPassed}

	ok, err := p.VerifySignature()
	switch {
	case err != nil:
		check.Status = StatusFailed
		check.Error = err.Error()
	case !ok:
		check.Status = StatusFailed
		check.Error = "signature does not verify over canonical bytes"
	default:
		check.Message = "ed25519 signature verifies"
	}
	report.add(check)
}

func (v *Verifier) checkTrustedKey(report *Report, p *proof.Proof) {
	check := Check{Name: CheckTrustedKey, Status: StatusPassed}

	if v.opts.TrustedKeyPath == "" {
		check.Status = StatusSkipped
		check.Message = "no trusted key pinned"
		report.add(check)
		return
	}

	trusted, err := signer.LoadPublicKey(v.opts.TrustedKeyPath)
	if err != nil {
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("cannot load trusted key: %v", err)
		report.add(check)
		return
	}
	embedded, err := signer.DecodePublicKey(p.ArtistPublicKey)
	if err != nil {
		check.Status = StatusFailed
		check.Error = fmt.Sprintf("malformed embedded key: %v", err)
		report.add(check)
		return
	}
	if !bytes.Equal(trusted, embedded) {
		check.Status = StatusFailed
		check.Error = "embedded key does not match pinned key"
		report.add(check)
		return
	}
	check.Message = "embedded key matches pinned key"
	report.add(check)
}

func (v *Verifier) checkFileHash(report *Report, p *proof.Proof) {
	check := Check{Name: CheckFileHash, Status: StatusPassed}

	switch {
	case p.FileHash == proof.FileHashPending:
		check.Status = StatusSkipped
		check.Message = "proof carries no file hash"
	case v.opts.ArtifactPath == "":
		check.Status = StatusSkipped
		check.Message = "no artifact provided"
	default:
		sum, err := crypto.SHA256FileHex(v.opts.ArtifactPath)
		if err != nil {
			check.Status = StatusFailed
			check.Error = fmt.Sprintf("cannot hash artifact: %v", err)
			break
		}
		computed := proof.FileHashPrefix + sum
		if computed != p.FileHash {
			check.Status = StatusFailed
			check.Error = "artifact hash does not match proof"
			check.Details = map[string]any{
				"expected": p.FileHash,
				"computed": computed,
			}
			break
		}
		check.Message = "artifact SHA-256 matches"
		check.Details = map[string]any{"hash": computed}
	}
	report.add(check)
}

func (v *Verifier) checkPerceptualHash(report *Report, p *proof.Proof) {
	check := Check{Name: CheckPerceptualHash, Status: StatusPassed}

	switch {
	case p.PerceptualHash == proof.PerceptualHashPending:
		check.Status = StatusSkipped
		check.Message = "proof carries no perceptual hash"
	case v.opts.ArtifactPath == "":
		check.Status = StatusSkipped
		check.Message = "no artifact provided"
	default:
		want, err := phash.FromBase64(p.PerceptualHash)
		if err != nil {
			check.Status = StatusFailed
			check.Error = fmt.Sprintf("malformed perceptual hash: %v", err)
			break
		}
		got, err := phash.FromFile(v.opts.ArtifactPath)
		if err != nil {
			check.Status = StatusFailed
			check.Error = fmt.Sprintf("cannot hash artifact: %v", err)
			break
		}
		distance := phash.Distance(want, got)
		check.Details = map[string]any{
			"distance":  distance,
			"threshold": v.opts.MaxPerceptualDistance,
		}
		if distance > v.opts.MaxPerceptualDistance {
			check.Status = StatusFailed
			check.Error = fmt.Sprintf("perceptual distance %d exceeds threshold %d", distance, v.opts.MaxPerceptualDistance)
			break
		}
		check.Message = fmt.Sprintf("perceptual distance %d within threshold %d", distance, v.opts.MaxPerceptualDistance)
	}
	report.add(check)
}

func (v *Verifier) checkReceipt(report *Report, p *proof.Proof) {
	check := Check{Name: CheckReceipt, Status: StatusPassed}

	if p.Receipt == nil {
		check.Status = StatusSkipped
		check.Message = "no receipt attached"
		report.add(check)
		return
	}
	if err := p.Receipt.Validate(); err != nil {
		check.Status = StatusFailed
		check.Error = err.Error()
		report.add(check)
		return
	}
	check.Message = "receipt shape validates"
	check.Details = map[string]any{"transparency_log_index": p.Receipt.TransparencyLogIndex}
	report.add(check)
}
