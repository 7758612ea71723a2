package research

import (
	"net/url"
	"strings"
)

const (
	CredibilityHigh    = 0.9
	CredibilityMedium  = 0.7
	CredibilityLow     = 0.3
	CredibilityUnknown = 0.5
)

var highTier = map[string]bool{
	"nature.com":        true,
	"science.org":       true,
	"nih.gov":           true,
	"who.int":           true,
	"cdc.gov":           true,
	"nasa.gov":          true,
	"arxiv.org":         true,
	"ieee.org":          true,
	"acm.org":           true,
	"britannica.com":    true,
	"oecd.org":          true,
	"worldbank.org":     true,
	"un.org":            true,
	"thelancet.com":     true,
	"nejm.org":          true,
	"sciencedirect.com": true,
	"springer.com":      true,
}

var mediumTier = map[string]bool{
	"wikipedia.org":   true,
	"reuters.com":     true,
	"apnews.com":      true,
	"bbc.co.uk":       true,
	"bbc.com":         true,
	"nytimes.com":     true,
	"theguardian.com": true,
	"economist.com":   true,
	"ft.com":          true,
	"wsj.com":         true,
	"npr.org":         true,
	"forbes.com":      true,
	"hbr.org":         true,
	"techcrunch.com":  true,
	"wired.com":       true,
	"arstechnica.com": true,
	"khanacademy.org": true,
	"coursera.org":    true,
}

var lowTier = map[string]bool{
	"medium.com":    true,
	"quora.com":     true,
	"reddit.com":    true,
	"blogspot.com":  true,
	"wordpress.com": true,
	"tumblr.com":    true,
	"answers.com":   true,
	"facebook.com":  true,
	"twitter.com":   true,
	"x.com":         true,
	"tiktok.com":    true,
	"pinterest.com": true,
}

// Credibility scores a domain by its static tier.
// Subdomains inherit their parent's tier; .gov and .edu hosts are high.
func Credibility(domain string) float64 {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return CredibilityUnknown
	}
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") ||
		strings.Contains(host, ".gov.") || strings.Contains(host, ".ac.") {
		return CredibilityHigh
	}

	// walk a.b.example.com -> b.example.com -> example.com
	for candidate := host; candidate != ""; {
		switch {
		case highTier[candidate]:
			return CredibilityHigh
		case mediumTier[candidate]:
			return CredibilityMedium
		case lowTier[candidate]:
			return CredibilityLow
		}
		i := strings.IndexByte(candidate, '.')
		if i < 0 {
			break
		}
		candidate = candidate[i+1:]
	}
	return CredibilityUnknown
}

// DomainOf extracts the lower-cased host of rawURL without a www. prefix
func DomainOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
