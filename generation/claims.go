package generation

import (
	"regexp"
	"strings"
	"unicode"
)

// MinClaimWords drops fragments too short to research
const MinClaimWords = 3

var (
	percentPattern  = regexp.MustCompile(`\d+(\.\d+)?\s?(%|percent\b)`)
	currencyPattern = regexp.MustCompile(`[$€£¥]\s?\d|\b\d[\d,.]*\s?(dollars|euros|pounds|usd|eur|gbp)\b`)
	yearPattern     = regexp.MustCompile(`\b(1[5-9]\d\d|20\d\d)\b`)

	// copula and modal verbs make a sentence assertive enough for comprehensive checks
	definitivePattern = regexp.MustCompile(`\b(is|are|was|were|will|must|always|never|cannot)\b`)

	researchPhrases = []string{
		"research shows",
		"research suggests",
		"studies show",
		"study shows",
		"study found",
		"according to",
		"data shows",
		"data show",
		"evidence suggests",
		"scientists found",
		"statistics show",
		"experts say",
	}
)

// ExtractClaims returns the factual-looking sentences of text, in order, without
// duplicates and never more than depth.ClaimCap().
//
// A sentence is a claim when it carries a percentage, an amount of money, a year
// or a research phrase. Comprehensive depth also accepts definitive statements.
func ExtractClaims(text string, depth Depth) []string {
	limit := depth.ClaimCap()
	claims := make([]string, 0, limit)
	seen := make(map[string]bool)

	for _, sentence := range SplitSentences(text) {
		if len(claims) == limit {
			break
		}
		if len(strings.Fields(sentence)) < MinClaimWords {
			continue
		}
		lower := strings.ToLower(sentence)
		if !hasFactIndicator(lower) && !(depth == DepthComprehensive && definitivePattern.MatchString(lower)) {
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		claims = append(claims, sentence)
	}
	return claims
}

func hasFactIndicator(lower string) bool {
	if percentPattern.MatchString(lower) || currencyPattern.MatchString(lower) || yearPattern.MatchString(lower) {
		return true
	}
	for _, phrase := range researchPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// SplitSentences cuts text after '.', '!' or '?' when followed by whitespace or
// the end of text, so decimals such as 3.5 stay intact.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func firstSentence(text string) string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	s := sentences[0]
	if words := strings.Fields(s); len(words) > 20 {
		s = strings.Join(words[:20], " ")
	}
	return s
}
