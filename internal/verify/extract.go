package verify

import (
	"regexp"
	"strings"
)

// The pattern set and its priority order are a contract with the receipt
// layouts we support; change them only alongside the extractor tests.
var (
	// keywordPatterns are anchored on the labels receipts print next to the
	// reference. They win over format patterns regardless of position in the
	// text.
	keywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bREFERENCE(?:\s+(?:NO|NUMBER|ID))?\.?\s*[:#=-]?\s*([A-Z0-9]{6,})`),
		regexp.MustCompile(`\bTRANSACTION(?:\s+(?:NO|NUMBER|ID))?\.?\s*[:#=-]?\s*([A-Z0-9]{6,})`),
		regexp.MustCompile(`\bRECEIPT(?:\s+(?:NO|NUMBER|ID))?\.?\s*[:#=-]?\s*([A-Z0-9]{6,})`),
	}

	// formatPatterns recognize bare reference tokens by their provider-issued
	// shape, tried in this fixed order when no keyword match fires.
	formatPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bFT[A-Z0-9]{6,}\b`),   // CBE
		regexp.MustCompile(`\bBB[A-Z0-9]{6,}\b`),   // Telebirr
		regexp.MustCompile(`\b\d{3}FTO\d{6,}\b`),   // Dashen
		regexp.MustCompile(`\bTRX[A-Z0-9]{6,}\b`),
		regexp.MustCompile(`\bTX[A-Z0-9]{6,}\b`),
	}

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// labelStopwords are field labels and status words receipts print right after
// a keyword. A keyword capture equal to one of these is the next label on the
// receipt, not the reference.
var labelStopwords = map[string]bool{
	"STATUS":    true,
	"NUMBER":    true,
	"AMOUNT":    true,
	"DETAILS":   true,
	"RECEIPT":   true,
	"CHANNEL":   true,
	"SUCCESS":   true,
	"FAILED":    true,
	"PENDING":   true,
	"COMPLETED": true,
}

// ExtractReference finds the best-guess transaction reference in recognized
// receipt text. It returns "" when nothing matches; extraction is advisory
// and the caller falls back to manual input or upload. Deterministic and
// side-effect free: the first pattern in priority order that matches anywhere
// wins, not the leftmost occurrence across all patterns.
func ExtractReference(text string) string {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToUpper(text), " "))
	if normalized == "" {
		return ""
	}

	for _, pattern := range keywordPatterns {
		for _, m := range pattern.FindAllStringSubmatch(normalized, -1) {
			if !labelStopwords[m[1]] {
				return m[1]
			}
		}
	}

	for _, pattern := range formatPatterns {
		if m := pattern.FindString(normalized); m != "" {
			return m
		}
	}

	return ""
}
