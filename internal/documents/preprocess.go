package documents

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Preprocess normalizes parsed document text before chunking. The
// transform is pure and deterministic: NFC normalization, control
// characters stripped (newlines and tabs kept), runs of spaces and tabs
// collapsed, 3+ consecutive newlines collapsed to a paragraph break,
// edges trimmed.
func Preprocess(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := spaceRuns.ReplaceAllString(b.String(), " ")
	cleaned = newlineRuns.ReplaceAllString(cleaned, "\n\n")

	// Drop trailing spaces that collapse left on line ends.
	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
