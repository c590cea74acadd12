// Package extraction turns free text into a small set of entity labels
// used by the content knowledge graph. The contract is fixed (at most
// 10 entities, short/common tokens filtered, Hebrew and Latin scripts
// supported); the default implementation is a heuristic, with a remote
// NER client as a drop-in alternative.
package extraction

import (
	"context"
	"strings"
	"unicode"
)

// MaxEntities caps how many entities one text can contribute.
const MaxEntities = 10

// Entity types, mirroring the NER service's tag set with TERM as the
// heuristic fallback.
const (
	TypePerson = "PER"
	TypePlace  = "GPE"
	TypeTime   = "TIMEX"
	TypeTitle  = "TTL"
	TypeTerm   = "TERM"
)

// Entity is one extracted entity label.
type Entity struct {
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Extractor is the pluggable entity extraction contract.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// common tokens in both languages that carry no routing signal.
var commonTokens = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "has": true, "was": true,
	"are": true, "not": true, "you": true, "your": true, "what": true,
	"how": true, "when": true, "where": true, "why": true, "can": true,
	"all": true, "use": true, "using": true, "used": true, "need": true,
	"want": true, "please": true, "about": true, "into": true, "them": true,
	// Hebrew function words
	"של": true, "את": true, "על": true, "עם": true, "זה": true,
	"לא": true, "כל": true, "יש": true, "אני": true, "הוא": true,
	"היא": true, "גם": true, "אבל": true, "מה": true, "איך": true,
	"למה": true, "איפה": true, "מתי": true, "אם": true, "או": true,
}

// blockedTokens are tokens that look entity-like but pollute the graph.
var blockedTokens = map[string]bool{
	"http": true, "https": true, "www": true, "com": true,
	"null": true, "true": true, "false": true, "none": true,
	"todo": true, "fixme": true,
}

// HeuristicExtractor is the default extractor: token-frequency over
// cleaned words, preferring capitalized Latin words and all Hebrew
// words, capped at MaxEntities.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the default extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract implements Extractor.
func (e *HeuristicExtractor) Extract(ctx context.Context, text string) ([]Entity, error) {
	seen := make(map[string]bool)
	entities := make([]Entity, 0, MaxEntities)

	for _, raw := range strings.Fields(text) {
		token := cleanToken(raw)
		if token == "" {
			continue
		}
		lower := strings.ToLower(token)
		if seen[lower] {
			continue
		}
		if !keepToken(token, lower) {
			continue
		}

		confidence := 0.6
		if isCapitalized(token) {
			confidence = 0.75
		}

		seen[lower] = true
		entities = append(entities, Entity{
			Label:      lower,
			Type:       TypeTerm,
			Confidence: confidence,
		})
		if len(entities) >= MaxEntities {
			break
		}
	}

	return entities, nil
}

// cleanToken strips surrounding punctuation and keeps letter/digit runs.
func cleanToken(raw string) string {
	return strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keepToken applies the fixed filtering contract: minimum length,
// common-word and blocklist filtering, and at least one letter.
func keepToken(token, lower string) bool {
	if len([]rune(token)) < 3 {
		return false
	}
	if commonTokens[lower] || blockedTokens[lower] {
		return false
	}
	hasLetter := false
	for _, r := range token {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

// isCapitalized reports whether a Latin token starts with an upper-case
// letter. Hebrew has no case, so Hebrew tokens return false and get the
// base confidence.
func isCapitalized(token string) bool {
	for _, r := range token {
		return unicode.IsUpper(r)
	}
	return false
}

// IsHebrew reports whether the text is predominantly Hebrew script.
func IsHebrew(text string) bool {
	hebrew, latin := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.IsLetter(r):
			latin++
		}
	}
	return hebrew > latin
}
