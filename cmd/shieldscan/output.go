package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/infra"
)

var (
	infoColor    = color.New(color.FgBlue).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	alertColor   = color.New(color.FgRed, color.Bold).SprintFunc()
)

func levelLabel(level domain.ThreatLevel) string {
	label := strings.ToUpper(string(level))
	switch level {
	case domain.LevelClean:
		return successColor(label)
	case domain.LevelScanError:
		return infoColor(label)
	case domain.LevelLowRisk:
		return warningColor(label)
	case domain.LevelSuspicious, domain.LevelPua:
		return errorColor(label)
	case domain.LevelInfected:
		return alertColor(label)
	default:
		return label
	}
}

func printResult(w io.Writer, r domain.ScanResult, risk *domain.RiskVerdict, verbose bool) {
	target := r.Path
	if r.IsApp {
		target = fmt.Sprintf("%s (%s)", r.DisplayName, r.PackageID)
	}
	fmt.Fprintf(w, "[%s] %s", levelLabel(r.ThreatLevel), target)
	if r.ThreatName != "" {
		fmt.Fprintf(w, " - %s", r.ThreatName)
	}
	if risk != nil {
		fmt.Fprintf(w, " (score %d, %s)", risk.Score, risk.Severity)
	}
	fmt.Fprintln(w)

	if !verbose && risk == nil {
		return
	}
	for _, ind := range r.Indicators {
		fmt.Fprintf(w, "    %s/%s: %s", ind.Kind, ind.Severity, ind.Title)
		if ind.Evidence != "" {
			fmt.Fprintf(w, " [%s]", ind.Evidence)
		}
		fmt.Fprintln(w)
	}
}

// summary counts results per level.
type summary struct {
	Scanned int                        `json:"scanned"`
	Levels  map[domain.ThreatLevel]int `json:"levels"`
	Threats int                        `json:"threats"`
}

func summarize(results []domain.ScanResult) summary {
	s := summary{Scanned: len(results), Levels: map[domain.ThreatLevel]int{}}
	for _, r := range results {
		s.Levels[r.ThreatLevel]++
		if r.ThreatLevel.AtLeast(domain.LevelSuspicious) {
			s.Threats++
		}
	}
	return s
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintf(w, "\nScanned: %d\n", s.Scanned)
	if s.Threats == 0 {
		fmt.Fprintln(w, successColor("No threats found."))
		return
	}
	fmt.Fprintf(w, "%s %d\n", alertColor("Threats:"), s.Threats)
}

func printEntries(w io.Writer, entries []domain.QuarantineEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Quarantine is empty.")
		return
	}
	for _, e := range entries {
		name := e.ThreatName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s  %s  %-28s %s\n",
			shortID(e.ID),
			e.QuarantinedAt().Format(time.DateTime),
			name,
			e.OriginalPath)
	}
}

func printStats(w io.Writer, path string, st infra.SignatureStats) {
	fmt.Fprintf(w, "Database:   %s\n", path)
	fmt.Fprintf(w, "Signatures: %d\n", st.Signatures)
	fmt.Fprintf(w, "Patterns:   %d\n", st.Patterns)
	if st.UpdatedAt.IsZero() {
		fmt.Fprintln(w, "Updated:    never")
	} else {
		fmt.Fprintf(w, "Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
