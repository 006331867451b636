package drift

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Scorer computes a normalized divergence measure in [0,1] between two
// intents. 0 means identical intent, 1 maximal divergence. Implementations
// must be deterministic for identical inputs; deployments may plug in
// embedding-based scorers behind this interface.
type Scorer interface {
	Score(original, current string) (float64, error)
}

// LexicalScorer scores divergence as 1 minus the Jaccard similarity of the
// normalized content-token sets of the two intents.
type LexicalScorer struct {
	folder cases.Caser
}

// NewLexicalScorer returns the default deterministic scorer.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{folder: cases.Fold()}
}

func (s *LexicalScorer) Score(original, current string) (float64, error) {
	a := s.tokenSet(original)
	b := s.tokenSet(current)

	if len(a) == 0 && len(b) == 0 {
		return 0, nil
	}

	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0, nil
	}

	return 1 - float64(intersection)/float64(union), nil
}

// stopwords carry no intent signal and are excluded from token sets.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "then": true, "this": true,
	"to": true, "was": true, "will": true, "with": true,
}

func (s *LexicalScorer) tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(s.folder, text) {
		if !stopwords[tok] {
			set[tok] = struct{}{}
		}
	}
	return set
}

// tokenize normalizes to NFKC, case-folds, and splits on any rune that is
// neither a letter nor a digit.
func tokenize(folder cases.Caser, text string) []string {
	normalized := folder.String(norm.NFKC.String(text))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
