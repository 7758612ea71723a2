// Package research grounds and checks generated content against web sources.
//
// Research is enrichment: callers other than fact-checking treat a failure
// here as "enrichment skipped" and carry on. Every failure this package
// returns matches errors.ErrResearchFailure so that downgrade is one check.
package research

import (
	"time"
)

// Mode selects how a topic is researched
type Mode string

const (
	ModePreGeneration  Mode = "pre-generation"
	ModePostGeneration Mode = "post-generation"
	ModeFactCheck      Mode = "fact-check"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModePreGeneration, ModePostGeneration, ModeFactCheck:
		return true
	}
	return false
}

// Source is one search result with its domain credibility
type Source struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Domain      string     `json:"domain"`
	Snippet     string     `json:"snippet"`
	Credibility float64    `json:"credibility"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Verdict is the outcome of checking one claim
type Verdict string

const (
	VerdictVerified     Verdict = "verified"
	VerdictDisputed     Verdict = "disputed"
	VerdictUnverifiable Verdict = "unverifiable"
)

// FactCheck is the verdict on one claim with the evidence counted for it
type FactCheck struct {
	Claim         string   `json:"claim"`
	Verdict       Verdict  `json:"verdict"`
	Confidence    float64  `json:"confidence"`
	Supporting    int      `json:"supporting"`
	Contradicting int      `json:"contradicting"`
	Sources       []Source `json:"sources,omitempty"`
}

// Request describes a research call
type Request struct {
	Topic      string
	Context    string
	Mode       Mode
	MaxSources int // 0 = gateway default
}

// Findings is what a research call produced
type Findings struct {
	Summary     string      `json:"summary"`
	Sources     []Source    `json:"sources"`
	FactChecks  []FactCheck `json:"fact_checks,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

// EnrichmentStatus tells apart "enriched" from "tried and gave up"
type EnrichmentStatus string

const (
	EnrichmentApplied EnrichmentStatus = "applied"
	EnrichmentSkipped EnrichmentStatus = "skipped"
)

// Enrichment records whether research contributed to a result.
// A skipped enrichment carries the reason so callers never mistake it for "no findings".
type Enrichment struct {
	Status      EnrichmentStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	SourceCount int              `json:"source_count,omitempty"`
}

// Applied builds an applied enrichment for f
func Applied(f *Findings) *Enrichment {
	n := 0
	if f != nil {
		n = len(f.Sources)
	}
	return &Enrichment{Status: EnrichmentApplied, SourceCount: n}
}

// Skipped builds a skipped enrichment from the error that caused it
func Skipped(err error) *Enrichment {
	reason := "research unavailable"
	if err != nil {
		reason = err.Error()
	}
	return &Enrichment{Status: EnrichmentSkipped, Reason: reason}
}
