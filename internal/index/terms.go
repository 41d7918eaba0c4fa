package index

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	minTermLength   = 3
	DefaultMaxTerms = 50
)

var nonTermChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.]`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {},
	"out": {}, "day": {}, "get": {}, "has": {}, "him": {}, "his": {}, "how": {},
	"its": {}, "may": {}, "new": {}, "now": {}, "old": {}, "see": {}, "two": {},
	"who": {}, "did": {}, "come": {}, "from": {}, "into": {}, "like": {},
	"make": {}, "many": {}, "over": {}, "such": {}, "take": {}, "than": {},
	"them": {}, "very": {}, "when": {}, "with": {},
}

// ExtractTerms returns the distinct search terms of text in order of first
// appearance, at most maxTerms of them. maxTerms <= 0 means DefaultMaxTerms.
func ExtractTerms(text string, maxTerms int) []string {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	cleaned := nonTermChars.ReplaceAllString(strings.ToLower(text), " ")
	seen := make(map[string]struct{})
	var terms []string
	for _, word := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(word) < minTermLength {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		terms = append(terms, word)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}

// EntryID derives a stable id from the parts that identify one log line.
func EntryID(ts time.Time, containerID, message string) string {
	sum := sha256.Sum256([]byte(ts.UTC().Format(time.RFC3339Nano) + "|" + containerID + "|" + message))
	return hex.EncodeToString(sum[:])[:32]
}

func MessageHash(message string) string {
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])[:16]
}

func hourBucket(ts time.Time) int64 {
	return ts.Unix() / 3600
}
