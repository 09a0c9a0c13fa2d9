// Command sessionsim drives a synthetic capture session through the full
// pipeline: recorded events, an optional rendered artwork, finalize,
// proof JSON on disk, and optionally the local archive.
//
// It exists so chmverify always has realistic inputs, and as living
// documentation of the API a host plugin calls.
//
// Usage:
//
//	go build -o sessionsim ./tools/sessionsim
//	./sessionsim -strokes 200 -artifact artwork.png -out proof.json
//
// Examples:
//
//	# Pure human session, unbound proof
//	./sessionsim
//
//	# AI-assisted session bound to a rendered PNG, archived locally
//	./sessionsim -ai -artifact artwork.png -archive ./chm-data
//
//	# Full host flow: limits, paths, and audit trail from a config file
//	./sessionsim -config chm.toml -artifact artwork.png
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dabhunt/krita-certified-human-made/internal/config"
	"github.com/dabhunt/krita-certified-human-made/internal/crypto"
	"github.com/dabhunt/krita-certified-human-made/internal/logging"
	"github.com/dabhunt/krita-certified-human-made/internal/session"
	"github.com/dabhunt/krita-certified-human-made/internal/store"
	"github.com/dabhunt/krita-certified-human-made/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "host config file (TOML/JSON/YAML); session limits, paths, and audit trail come from it")
	strokes := flag.Int("strokes", 120, "number of brush strokes to record")
	layers := flag.Int("layers", 3, "number of layers to add")
	undos := flag.Int("undo", 6, "number of undo/redo events")
	aiUse := flag.Bool("ai", false, "simulate an AI generation plugin call")
	importUse := flag.Bool("import", false, "simulate importing a reference image")
	privacy := flag.Bool("privacy", false, "enable privacy mode (strokes without coordinates)")
	seed := flag.Int64("seed", 42, "random seed for stroke placement")
	artifact := flag.String("artifact", "", "render a PNG here and bind the proof to it")
	out := flag.String("out", "", "proof output path (default proof.json, or the config's proof_dir)")
	archiveDir := flag.String("archive", "", "archive the proof in this data directory")
	auditPath := flag.String("audit", "", "append audit events to this JSONL file")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")

	flag.Parse()

	// Without -config the simulator stays self-contained: bare session
	// defaults, and no artist directories touched unless a flag names one.
	hostCfg := config.DefaultConfig()
	hostMode := *cfgPath != ""
	if hostMode {
		var err error
		hostCfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		if err := hostCfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		if err := hostCfg.EnsureDirectories(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	level, format, logFile := *logLevel, "text", ""
	if hostMode {
		if level == "" {
			level = hostCfg.Logging.Level
		}
		format = hostCfg.Logging.Format
		logFile = hostCfg.Logging.FilePath
	}
	logger, closer, err := logging.Setup(level, format, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	auditFile := *auditPath
	if auditFile == "" && hostMode {
		auditFile = hostCfg.Logging.AuditPath
	}
	audit := logging.NopAudit()
	if auditFile != "" {
		audit, err = logging.NewAuditLogger(auditFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		defer audit.Close()
	}

	dataDir := *archiveDir
	if dataDir == "" && hostMode {
		dataDir = hostCfg.Storage.DataDir
	}

	fmt.Println("Session Simulator")
	fmt.Println("=================")
	fmt.Println()

	scfg := session.DefaultConfig()
	if hostMode {
		scfg = hostCfg.SessionConfig()
	}
	if *privacy {
		scfg.PrivacyMode = true
	}

	s, err := session.NewWithConfig(scfg)
	if err != nil {
		fatal("create session: %v", err)
	}
	if err := s.SetMetadata(session.Metadata{
		DocumentName: "sessionsim.kra",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		KritaVersion: "5.2.6",
		OSInfo:       runtime.GOOS,
	}); err != nil {
		fatal("set metadata: %v", err)
	}
	audit.LogSessionCreated(s.ID().String(), map[string]any{
		"max_events":   scfg.MaxEvents,
		"privacy_mode": scfg.PrivacyMode,
	})
	fmt.Printf("Session:   %s\n", s.ID())

	rng := rand.New(rand.NewSource(*seed))
	record(s, rng, *strokes, *layers, *undos, *aiUse, *importUse)
	fmt.Printf("Events:    %d recorded\n", s.EventCount())

	var archive *store.Archive
	if dataDir != "" {
		archive, err = store.Open(dataDir)
		if err != nil {
			fatal("open archive: %v", err)
		}
		defer archive.Close()

		// Mid-session snapshot, the way a host plugin checkpoints.
		snap, err := s.Snapshot()
		if err != nil {
			fatal("snapshot: %v", err)
		}
		if err := archive.SaveSnapshot(snap); err != nil {
			fatal("save snapshot: %v", err)
		}
		audit.LogSnapshotSaved(s.ID().String(), s.EventCount())
		fmt.Printf("Snapshot:  saved to %s\n", dataDir)
	}

	if *artifact != "" {
		if err := renderArtifact(*artifact, rng, *strokes); err != nil {
			fatal("render artifact: %v", err)
		}
		fmt.Printf("Artifact:  %s\n", *artifact)
	}

	p, err := s.Finalize(*artifact)
	if err != nil {
		fatal("finalize: %v", err)
	}
	audit.LogProofFinalized(s.ID().String(), string(p.Classification), p.Confidence)

	outPath := *out
	if outPath == "" {
		outPath = "proof.json"
		if hostMode {
			outPath = filepath.Join(hostCfg.Storage.ProofDir, s.ID().String()+".json")
		}
	}
	data, err := p.ToJSON()
	if err != nil {
		fatal("encode proof: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		fatal("write proof: %v", err)
	}
	fmt.Printf("Proof:     %s\n", outPath)

	report := verify.New(verify.Options{
		ArtifactPath:          *artifact,
		TrustedKeyPath:        hostCfg.Verify.TrustedKeysPath,
		MaxPerceptualDistance: hostCfg.Verify.MaxPerceptualDistance,
	}).Verify(p)
	audit.LogVerificationRun(outPath, report.Valid, map[string]any{"checks": len(report.Checks)})
	if !report.Valid {
		fatal("self-check failed: %v", report.FailedChecks())
	}

	if archive != nil {
		err := archive.SaveProof(p)
		audit.LogProofArchived(s.ID().String(), err)
		if err != nil {
			fatal("archive proof: %v", err)
		}
		if err := archive.DeleteSnapshot(s.ID().String()); err != nil {
			fatal("delete snapshot: %v", err)
		}
		stats, err := archive.GetStats()
		if err != nil {
			fatal("archive stats: %v", err)
		}
		fmt.Printf("Archive:   %d proofs, chain head %s...\n", stats.ProofCount, stats.ChainHash[:16])
	}

	fmt.Println()
	fmt.Println("Result")
	fmt.Println("------")
	fmt.Println(p.Summary())
	fmt.Printf("Self-check: %s\n", report.Summary())
	if *artifact != "" {
		fmt.Printf("\nVerify with:\n  chmverify -artifact %s %s\n", *artifact, outPath)
	} else {
		fmt.Printf("\nVerify with:\n  chmverify %s\n", outPath)
	}
}

func record(s *session.Session, rng *rand.Rand, strokes, layers, undos int, aiUse, importUse bool) {
	brushes := []string{"pencil", "ink_pen", "watercolor", "airbrush"}

	for i := 0; i < layers; i++ {
		must(s.RecordLayerAdded(fmt.Sprintf("layer-%d", i+1), "paintlayer"))
	}
	if importUse {
		must(s.RecordImport(crypto.SHA256Hex([]byte("reference.jpg")), "reference", 245760))
	}
	for i := 0; i < strokes; i++ {
		brush := brushes[i%len(brushes)]
		must(s.RecordStroke(rng.Float64()*1920, rng.Float64()*1080, 0.3+rng.Float64()*0.7, brush))
		if i > 0 && i%50 == 0 {
			must(s.RecordFilterApplied("gaussian blur", map[string]string{"radius": "2.5"}))
		}
	}
	if aiUse {
		must(s.RecordPluginUsed("Stable Horde", "AI_GENERATION"))
	}
	for i := 0; i < undos; i++ {
		action := "undo"
		if i%2 == 1 {
			action = "redo"
		}
		must(s.RecordUndoRedo(action))
	}
	must(s.RecordSessionControl("save"))

	// Rough active-time model: a third of a second per stroke.
	must(s.AddActiveDrawingTime(time.Duration(strokes) * 300 * time.Millisecond))
}

// renderArtifact paints a deterministic pseudo-artwork: warm paper with
// dabs of paint scattered by the same RNG that placed the strokes.
func renderArtifact(path string, rng *rand.Rand, strokes int) error {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			shade := uint8(y / 8)
			img.Set(x, y, color.RGBA{R: 235 - shade, G: 230 - shade, B: 220 - shade, A: 255})
		}
	}
	for i := 0; i < strokes; i++ {
		cx := rng.Intn(256)
		cy := rng.Intn(256)
		c := color.RGBA{
			R: uint8(rng.Intn(90)),
			G: uint8(rng.Intn(90)),
			B: uint8(60 + rng.Intn(120)),
			A: 255,
		}
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < 256 && y >= 0 && y < 256 {
					img.Set(x, y, c)
				}
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func must(err error) {
	if err != nil {
		fatal("record event: %v", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
