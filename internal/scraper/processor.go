package scraper

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	defaultMinClaimRunes = 2
	defaultMaxClaimRunes = 200
)

// ContentProcessor turns page text into candidate claim lines.
type ContentProcessor struct {
	multiWhitespace *regexp.Regexp
	htmlTags        *regexp.Regexp
	claimBreak      *regexp.Regexp
	minRunes        int
	maxRunes        int
}

func NewContentProcessor() *ContentProcessor {
	return &ContentProcessor{
		multiWhitespace: regexp.MustCompile(`[\t\f\v \x{00a0}\x{3000}]+`),
		htmlTags:        regexp.MustCompile(`<[^>]*>`),
		claimBreak:      regexp.MustCompile(`[\r\n。！？；!?;]+`),
		minRunes:        defaultMinClaimRunes,
		maxRunes:        defaultMaxClaimRunes,
	}
}

// CleanContent strips leftover markup and collapses horizontal whitespace.
// Line breaks are kept since they separate claims.
func (cp *ContentProcessor) CleanContent(content string) string {
	content = cp.htmlTags.ReplaceAllString(content, "")
	content = cp.multiWhitespace.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// SplitClaims breaks text on newlines and sentence punctuation, dropping
// fragments outside the length bounds and repeats.
func (cp *ContentProcessor) SplitClaims(content string) []string {
	parts := cp.claimBreak.Split(cp.CleanContent(content), -1)

	claims := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		n := utf8.RuneCountInString(part)
		if n < cp.minRunes || n > cp.maxRunes {
			continue
		}
		claims = append(claims, part)
	}
	return cp.removeDuplicates(claims)
}

func (cp *ContentProcessor) removeDuplicates(items []string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}

	return result
}
