package normalize_test

import (
	"testing"

	"github.com/brandbeacon/beacon-workflows/internal/normalize"
)

func TestName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple lowercase", "Acme", "acme"},
		{"strips llc", "Acme LLC", "acme"},
		{"strips inc with period", "Acme, Inc.", "acme"},
		{"strips ltd", "Acme Ltd", "acme"},
		{"strips corp", "ACME Corp", "acme"},
		{"keeps internal words", "Acme Holdings Group", "acme holdings group"},
		{"collapses whitespace", "  Acme   Analytics  ", "acme analytics"},
		{"drops punctuation", "Acme! (Analytics)", "acme analytics"},
		{"hyphen becomes space", "north-star", "north star"},
		{"suffix only name survives", "Inc", "inc"},
		{"stacked suffixes", "Acme Co Ltd", "acme"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize.Name(tt.input); got != tt.expected {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare domain", "acme.com", "acme.com"},
		{"strips scheme", "https://acme.com", "acme.com"},
		{"strips www", "https://www.acme.com", "acme.com"},
		{"strips path", "https://acme.com/pricing?ref=x", "acme.com"},
		{"strips port", "http://acme.com:8080/docs", "acme.com"},
		{"lowercases", "HTTPS://WWW.Acme.COM", "acme.com"},
		{"keeps subdomain", "https://app.acme.com", "app.acme.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize.Domain(tt.input); got != tt.expected {
				t.Errorf("Domain(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCitationDomain(t *testing.T) {
	keep := []string{"docs", "api", "blog"}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"registrable stays", "https://acme.com/post/1", "acme.com"},
		{"random subdomain folds", "https://cdn.acme.com/a.png", "acme.com"},
		{"docs kept", "https://docs.acme.com/guide", "docs.acme.com"},
		{"api kept", "https://api.acme.com/v1", "api.acme.com"},
		{"language prefix kept", "https://en.wikipedia.org/wiki/Acme", "en.wikipedia.org"},
		{"german wikipedia kept", "https://de.wikipedia.org/wiki/Acme", "de.wikipedia.org"},
		{"www folds", "https://www.acme.com/x", "acme.com"},
		{"co.uk registrable", "https://news.acme.co.uk/story", "acme.co.uk"},
		{"docs on co.uk kept", "https://docs.acme.co.uk/x", "docs.acme.co.uk"},
		{"deep subdomain folds", "https://a.b.acme.com", "acme.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize.CitationDomain(tt.input, keep); got != tt.expected {
				t.Errorf("CitationDomain(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
