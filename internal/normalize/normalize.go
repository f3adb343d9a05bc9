// internal/normalize/normalize.go
package normalize

import (
	"net/url"
	"strings"
	"unicode"
)

// legalSuffixes are trailing corporate designators stripped from brand names
// before identity comparison.
var legalSuffixes = map[string]bool{
	"llc":  true,
	"inc":  true,
	"ltd":  true,
	"corp": true,
	"co":   true,
	"gmbh": true,
	"ag":   true,
	"sa":   true,
	"plc":  true,
	"llp":  true,
	"bv":   true,
}

// Name canonicalizes a brand name for identity matching: lowercase, legal
// suffixes removed, punctuation stripped, whitespace collapsed.
func Name(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteRune(' ')
		}
		// Everything else (punctuation, symbols) is dropped.
	}

	words := strings.Fields(b.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}

	return strings.Join(words, " ")
}

// Domain canonicalizes a website for identity matching: scheme and path
// stripped, "www." removed, host lowercased, port dropped.
func Domain(raw string) string {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return ""
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		// Fall back to manual trimming for values url.Parse rejects.
		trimmed = strings.TrimPrefix(trimmed, "https://")
		trimmed = strings.TrimPrefix(trimmed, "http://")
		if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		return strings.TrimPrefix(trimmed, "www.")
	}

	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

// multiPartTLDs is a small set of second-level public suffixes where the
// registrable domain spans three labels (example.co.uk).
var multiPartTLDs = map[string]bool{
	"co.uk":  true,
	"org.uk": true,
	"ac.uk":  true,
	"com.au": true,
	"com.br": true,
	"co.jp":  true,
	"co.in":  true,
	"co.nz":  true,
}

// CitationDomain folds a citation URL to its registrable domain, keeping a
// meaningful subdomain when it is a language code or appears in keep. This is
// a display heuristic, not a general public-suffix algorithm, so the kept
// subdomains are configurable policy.
func CitationDomain(rawURL string, keep []string) string {
	host := Domain(rawURL)
	if host == "" {
		return ""
	}

	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}

	// Determine the registrable domain.
	registrable := strings.Join(labels[len(labels)-2:], ".")
	suffix2 := registrable
	if multiPartTLDs[suffix2] && len(labels) >= 3 {
		registrable = strings.Join(labels[len(labels)-3:], ".")
	}

	if host == registrable {
		return host
	}

	sub := strings.Join(labels[:len(labels)-len(strings.Split(registrable, "."))], ".")
	if keepSubdomain(sub, keep) {
		return sub + "." + registrable
	}
	return registrable
}

func keepSubdomain(sub string, keep []string) bool {
	if sub == "" {
		return false
	}
	// Language-prefix subdomains (en.wikipedia.org, de.example.com) stay.
	if len(sub) == 2 {
		for _, r := range sub {
			if r < 'a' || r > 'z' {
				return false
			}
		}
		return true
	}
	for _, k := range keep {
		if sub == k {
			return true
		}
	}
	return false
}
