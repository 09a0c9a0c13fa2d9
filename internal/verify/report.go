package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Report output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Render writes the report to w in the requested format. An empty
// format means text.
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	case FormatText, "":
		return r.renderText(w)
	default:
		return fmt.Errorf("verify: unknown report format %q", format)
	}
}

func (r *Report) renderText(w io.Writer) error {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                     ARTWORK PROVENANCE VERIFICATION REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Result:          %s\n", resultString(r.Valid))
	if r.SessionID != "" {
		fmt.Fprintf(w, "Session:         %s\n", r.SessionID)
	}
	if r.Classification != "" {
		fmt.Fprintf(w, "Classification:  %s (%.1f%% confidence)\n", r.Classification, r.Confidence*100)
	}
	fmt.Fprintf(w, "Artifact Bound:  %s\n", yesNo(r.ArtifactBound))
	fmt.Fprintf(w, "Checked:         %s\n", r.CheckedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Checks ---")
	for _, check := range r.Checks {
		fmt.Fprintf(w, "[%s] %-16s %s\n", statusSymbol(check.Status), check.Name, check.Message)
		if check.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", check.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Summary ---")
	fmt.Fprintf(w, "Passed:   %d\n", r.Passed)
	fmt.Fprintf(w, "Failed:   %d\n", r.Failed)
	fmt.Fprintf(w, "Skipped:  %d\n", r.Skipped)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "================================================================================")
	return nil
}

// Summary generates a one-line summary of the report.
func (r *Report) Summary() string {
	var sb strings.Builder

	if r.Valid {
		sb.WriteString("[VALID]")
	} else {
		sb.WriteString("[INVALID]")
	}
	if r.Classification != "" {
		sb.WriteString(fmt.Sprintf(" %s (%.0f%% confidence)", r.Classification, r.Confidence*100))
	}
	sb.WriteString(fmt.Sprintf(" - %d/%d checks passed", r.Passed, r.Passed+r.Failed))
	if r.Failed > 0 {
		sb.WriteString(fmt.Sprintf(", %d failed", r.Failed))
	}
	if r.Skipped > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", r.Skipped))
	}
	return sb.String()
}

// FailedChecks returns the names of the checks that failed.
func (r *Report) FailedChecks() []string {
	var failed []string
	for _, check := range r.Checks {
		if check.Status == StatusFailed {
			failed = append(failed, check.Name)
		}
	}
	return failed
}

func resultString(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}

func statusSymbol(status CheckStatus) string {
	switch status {
	case StatusPassed:
		return "OK"
	case StatusFailed:
		return "!!"
	case StatusSkipped:
		return "--"
	default:
		return "  "
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
