package scanning

import "strings"

// cleanRecognizedText strips the wrapping vision models add around a
// transcription: markdown code fences and leading/trailing whitespace. The
// text itself is not corrected; extraction downstream is advisory.
func cleanRecognizedText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
