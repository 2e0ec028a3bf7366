package services

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFeeNameLength = 200
	maxFeeTextLength = 2000
)

// feeTextSanitizer cleans merchant supplied fee text before it is stored.
type feeTextSanitizer struct {
	plain *bluemonday.Policy
	help  *bluemonday.Policy
}

func newFeeTextSanitizer() *feeTextSanitizer {
	help := bluemonday.NewPolicy()
	help.AllowElements("strong", "em", "b", "i", "br")
	help.AllowStandardURLs()
	help.AllowAttrs("href").OnElements("a")
	help.RequireNoFollowOnLinks(true)
	help.AddTargetBlankToFullyQualifiedLinks(true)
	return &feeTextSanitizer{
		plain: bluemonday.StrictPolicy(),
		help:  help,
	}
}

// Plain strips all markup and control characters, collapsing whitespace.
func (s *feeTextSanitizer) Plain(value string, limit int) string {
	cleaned := html.UnescapeString(s.plain.Sanitize(normalizeText(value)))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return truncateRunes(cleaned, limit)
}

// Help keeps a small inline HTML subset for checkout help text.
func (s *feeTextSanitizer) Help(value string) string {
	cleaned := strings.TrimSpace(s.help.Sanitize(normalizeText(value)))
	return truncateRunes(cleaned, maxFeeTextLength)
}

// Key normalises identifiers such as tax classes.
func (s *feeTextSanitizer) Key(value string) string {
	cleaned := strings.ToLower(s.Plain(value, 64))
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '-'
		default:
			return -1
		}
	}, cleaned)
}

func normalizeText(value string) string {
	value = norm.NFC.String(value)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, value)
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
