// Package receipt models the external triple-witness timestamp receipt
// that a separate submission process may attach to a finalized proof.
//
// The three witnesses are a public snippet host, a web archive snapshot,
// and a transparency log. This package is strictly passive: it validates
// the SHAPE of a receipt against the published schema and nothing more.
// It performs no network calls and makes no claim about witness
// authenticity; the receipt sits outside the proof's signed bytes.
package receipt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed receipt-v1.schema.json
var schemaJSON string

const schemaURL = "receipt-v1.schema.json"

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("receipt: add schema resource: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// Receipt is a well-formed triple-witness timestamp record. Timestamps are
// RFC 3339 strings exactly as the witness services reported them.
type Receipt struct {
	SnippetHostURL           string `json:"snippet_host_url"`
	SnippetHostCommitID      string `json:"snippet_host_commit_id"`
	SnippetHostTimestamp     string `json:"snippet_host_timestamp"`
	ArchiveSnapshotURL       string `json:"archive_snapshot_url"`
	ArchiveTimestamp         string `json:"archive_timestamp"`
	TransparencyLogURL       string `json:"transparency_log_url"`
	TransparencyLogIndex     uint64 `json:"transparency_log_index"`
	TransparencyLogTimestamp string `json:"transparency_log_timestamp"`
}

// Validate checks the receipt against the v1 schema: all three witnesses
// present, URLs absolute, timestamps RFC 3339.
func (r *Receipt) Validate() error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("receipt: marshal: %w", err)
	}
	return ValidateJSON(raw)
}

// ValidateJSON checks an arbitrary JSON document against the v1 schema.
// Verifiers use this on receipts embedded in third-party proofs.
func ValidateJSON(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("receipt: parse: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("receipt: invalid shape: %w", err)
	}
	return nil
}

// FromJSON parses and validates a receipt document.
func FromJSON(data []byte) (*Receipt, error) {
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("receipt: parse: %w", err)
	}
	return &r, nil
}

// ToJSON renders the receipt as a standalone document.
func (r *Receipt) ToJSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("receipt: encode: %w", err)
	}
	return b, nil
}

// String summarizes the witnesses for logs.
func (r *Receipt) String() string {
	return fmt.Sprintf("receipt{snippet=%s archive=%s log=%s[%d]}",
		r.SnippetHostURL, r.ArchiveSnapshotURL, r.TransparencyLogURL, r.TransparencyLogIndex)
}
