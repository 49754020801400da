// Command firmscheck validates a NASA FIRMS area CSV offline. It runs the
// file through the same parser the polar adapter uses, checks every kept
// detection, and reports which satellite source the router would pick for
// each one.
//
// Usage:
//
//	go run ./cmd/firmscheck -csv testdata/viirs_turkey.csv
//	go run ./cmd/firmscheck -csv fires.csv -now 2025-08-01T12:00:00Z -expect-kept 42 -json out.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/adapter/firms"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/router"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	csvPath := flag.String("csv", "", "path to a FIRMS area CSV file")
	now := flag.String("now", "", "RFC3339 reference time for the future-timestamp check (default: current time)")
	expectKept := flag.Int("expect-kept", -1, "fail unless exactly this many rows are kept")
	jsonOut := flag.String("json", "", "write kept detections as JSON to this path")
	verbose := flag.Bool("v", false, "log dropped rows")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *now != "" {
		at, err := time.Parse(time.RFC3339, *now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: -now: %v\n", err)
			os.Exit(1)
		}
		domain.SetClock(clockwork.NewFakeClockAt(at))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if code := run(*csvPath, *expectKept, *jsonOut, logger); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath string, expectKept int, jsonOut string, logger *slog.Logger) int {
	fmt.Println("=== FIRMS CSV Validation ===")
	fmt.Println()

	f, err := os.Open(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open CSV: %v\n", err)
		return 1
	}
	defer f.Close()

	detections, stats, err := firms.ParseCSV(f, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse CSV: %v\n", err)
		return 1
	}

	phases := []*phase{
		checkParse(stats, expectKept),
		checkDetections(detections),
		checkIDs(detections),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d read, %d kept, %d dropped\n", stats.Rows, stats.Kept, stats.Dropped)
	printRouting(detections)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if jsonOut != "" {
		if err := writeJSON(jsonOut, detections); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: write JSON: %v\n", err)
			return 1
		}
		fmt.Printf("\nWrote %d detections to %s\n", len(detections), jsonOut)
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Parse ──

func checkParse(stats firms.ParseStats, expectKept int) *phase {
	p := &phase{name: "Phase 1: Parse (row accounting)"}
	if stats.Kept+stats.Dropped != stats.Rows {
		p.errorf("kept %d + dropped %d != rows %d", stats.Kept, stats.Dropped, stats.Rows)
	}
	if expectKept >= 0 && stats.Kept != expectKept {
		p.errorf("expected %d kept rows, got %d", expectKept, stats.Kept)
	}
	return p
}

// ── Phase 2: Detection fields ──

func checkDetections(detections []domain.Detection) *phase {
	p := &phase{name: "Phase 2: Detection fields"}
	now := domain.Now()
	for i, d := range detections {
		if !domain.ValidCoordinates(d.Location.Lat, d.Location.Lon) {
			p.errorf("detection %d: invalid coordinates %.4f, %.4f", i, d.Location.Lat, d.Location.Lon)
		}
		if d.Confidence < 0 || d.Confidence > 100 {
			p.errorf("detection %d: confidence %.1f out of range", i, d.Confidence)
		}
		wantStatus := domain.FireDetected
		if d.Confidence > 40 {
			wantStatus = domain.FireVerified
		}
		if d.Status != wantStatus {
			p.errorf("detection %d: status %s, want %s for confidence %.0f", i, d.Status, wantStatus, d.Confidence)
		}
		if d.DetectedAt.After(now) {
			p.errorf("detection %d: detected_at %s is in the future", i, d.DetectedAt.Format(time.RFC3339))
		}
		if d.SourceName == "" {
			p.errorf("detection %d: empty source name", i)
		}
		if d.RadiativePower != nil && *d.RadiativePower <= 0 {
			p.errorf("detection %d: non-positive FRP %.2f", i, *d.RadiativePower)
		}
	}
	return p
}

// ── Phase 3: Identity ──
// Repeated rows collapse to one stored detection; flag them so the count is
// not a surprise.

func checkIDs(detections []domain.Detection) *phase {
	p := &phase{name: "Phase 3: Deterministic IDs"}
	seen := make(map[string]int, len(detections))
	for i, d := range detections {
		id := domain.DetectionID(d.SourceName, d.Location.Lat, d.Location.Lon, d.DetectedAt)
		if id != d.ID {
			p.errorf("detection %d: id %s does not match derived %s", i, d.ID, id)
		}
		if first, ok := seen[id.String()]; ok {
			p.errorf("detection %d: duplicate of detection %d (%s)", i, first, id)
			continue
		}
		seen[id.String()] = i
	}
	return p
}

// ── Routing summary ──

func printRouting(detections []domain.Detection) {
	counts := map[string]int{}
	for _, d := range detections {
		info := router.Select(d.Location.Lat, d.Location.Lon)
		counts[fmt.Sprintf("%s / %s (%d min)", info.Name, info.Region, info.LatencyMinutes)]++
	}
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\nPreferred source by detection:")
	for _, k := range keys {
		fmt.Printf("  %-60s %d\n", k, counts[k])
	}
}

func writeJSON(path string, detections []domain.Detection) error {
	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
