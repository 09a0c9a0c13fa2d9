// Command chmverify is a standalone tool for verifying artwork session
// proofs.
//
// It never talks to a daemon or the network, making it suitable for:
// - Offline verification
// - Third-party audits
// - Automated verification pipelines
//
// Usage:
//
//	chmverify [flags] <proof.json>
//
// Examples:
//
//	# Structural and signature checks only
//	chmverify proof.json
//
//	# Check the proof against the artwork file it claims to bind
//	chmverify -artifact artwork.png proof.json
//
//	# Pin the artist key and emit JSON for scripting
//	chmverify -artifact artwork.png -pubkey artist.pub -format json proof.json
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dabhunt/krita-certified-human-made/internal/proof"
	"github.com/dabhunt/krita-certified-human-made/internal/verify"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Proof documents are small; anything bigger is not a proof.
const maxProofSize = 1 << 20

func main() {
	artifact := flag.String("artifact", "", "artwork file to compare against the proof's hashes")
	pubkey := flag.String("pubkey", "", "pinned artist public key file (raw, base64, or OpenSSH)")
	maxDistance := flag.Int("max-phash-distance", verify.DefaultMaxPerceptualDistance, "maximum perceptual hash distance accepted as a match")
	format := flag.String("format", "text", "output format: text, json")
	quiet := flag.Bool("quiet", false, "quiet mode - exit code only")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "chmverify - Verify artwork session proofs\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <proof.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  proof verifies\n")
		fmt.Fprintf(os.Stderr, "  1  proof does not verify\n")
		fmt.Fprintf(os.Stderr, "  2  usage or I/O error\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s proof.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -artifact artwork.png proof.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -artifact artwork.png -pubkey artist.pub -format json proof.json\n", os.Args[0])
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("chmverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Error: proof file required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	if *format != verify.FormatText && *format != verify.FormatJSON {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (use text or json)\n", *format)
		os.Exit(2)
	}

	p, err := loadProof(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	verifier := verify.New(verify.Options{
		ArtifactPath:          *artifact,
		TrustedKeyPath:        *pubkey,
		MaxPerceptualDistance: *maxDistance,
	})
	report := verifier.Verify(p)

	if !*quiet {
		if err := report.Render(os.Stdout, *format); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	if !report.Valid {
		os.Exit(1)
	}
}

// loadProof reads and parses a proof document, refusing oversized input.
func loadProof(path string) (*proof.Proof, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proof: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxProofSize+1))
	if err != nil {
		return nil, fmt.Errorf("read proof: %w", err)
	}
	if len(data) > maxProofSize {
		return nil, fmt.Errorf("proof file exceeds %d bytes", maxProofSize)
	}
	return proof.FromJSON(data)
}
