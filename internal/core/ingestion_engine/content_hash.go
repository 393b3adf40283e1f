package ingestion_engine

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// NormalizeText unifies line endings, strips trailing whitespace from every
// line, collapses runs of blank lines and trims the result.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\f\v")
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ContentHash is the hex SHA-256 of the normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// WordCount counts whitespace separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
