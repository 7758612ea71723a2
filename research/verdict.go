package research

import (
	"strings"
	"unicode"
)

// Stance is how a snippet relates to a claim
type Stance int

const (
	StanceNeutral Stance = iota
	StanceSupporting
	StanceContradicting
)

// MinEvidence is the smallest count that can decide a verdict
const MinEvidence = 2

var contradictionMarkers = []string{
	"false", "myth", "debunked", "incorrect", "not true", "no evidence",
	"misleading", "inaccurate", "disputed", "contrary to", "misconception",
	"refuted", "unfounded", "erroneous", "overstated",
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "with": true, "from": true, "this": true,
	"have": true, "were": true, "been": true, "their": true, "which": true, "about": true,
	"into": true, "more": true, "than": true, "they": true, "will": true, "also": true,
	"shows": true, "show": true, "research": true, "studies": true, "study": true,
}

// Classify decides the stance of snippet toward claim.
// A snippet is only evidence when it shares enough significant terms with the claim;
// relevant snippets are contradicting when they carry a refutation marker.
func Classify(claim, snippet string) Stance {
	if !relevant(claim, snippet) {
		return StanceNeutral
	}
	lower := strings.ToLower(snippet)
	for _, marker := range contradictionMarkers {
		if strings.Contains(lower, marker) {
			return StanceContradicting
		}
	}
	return StanceSupporting
}

// Decide turns the evidence in sources into a FactCheck.
// A side needs at least MinEvidence snippets and a strict majority to win;
// confidence is the mean credibility of the winning side.
func Decide(claim string, sources []Source) FactCheck {
	fc := FactCheck{Claim: claim, Verdict: VerdictUnverifiable, Sources: sources}

	var supportCred, contraCred float64
	for _, src := range sources {
		switch Classify(claim, src.Snippet) {
		case StanceSupporting:
			fc.Supporting++
			supportCred += src.Credibility
		case StanceContradicting:
			fc.Contradicting++
			contraCred += src.Credibility
		}
	}

	switch {
	case fc.Supporting >= MinEvidence && fc.Supporting > fc.Contradicting:
		fc.Verdict = VerdictVerified
		fc.Confidence = supportCred / float64(fc.Supporting)
	case fc.Contradicting >= MinEvidence && fc.Contradicting > fc.Supporting:
		fc.Verdict = VerdictDisputed
		fc.Confidence = contraCred / float64(fc.Contradicting)
	}
	return fc
}

func relevant(claim, snippet string) bool {
	terms := significantTerms(claim)
	if len(terms) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, t := range significantTerms(snippet) {
		have[t] = true
	}
	matched := 0
	for _, t := range terms {
		if have[t] {
			matched++
		}
	}
	need := (len(terms) + 1) / 2
	if need > 3 {
		need = 3
	}
	return matched >= need
}

func significantTerms(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '%'
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len(w) < 4 && !containsDigit(w) {
			continue
		}
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
