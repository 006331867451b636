package drift

import (
	"unicode"

	"golang.org/x/text/cases"
)

// ContentReport summarizes a piece of content: dominant script, token and
// rune statistics, and the injection scan result.
type ContentReport struct {
	Script     string          `json:"script"`
	TokenCount int             `json:"token_count"`
	RuneCount  int             `json:"rune_count"`
	Scripts    map[string]int  `json:"scripts"`
	Injection  InjectionReport `json:"injection"`
}

var scriptRanges = []struct {
	name  string
	table *unicode.RangeTable
}{
	{"latin", unicode.Latin},
	{"cyrillic", unicode.Cyrillic},
	{"han", unicode.Han},
	{"arabic", unicode.Arabic},
	{"hebrew", unicode.Hebrew},
	{"greek", unicode.Greek},
	{"hangul", unicode.Hangul},
	{"hiragana", unicode.Hiragana},
	{"katakana", unicode.Katakana},
	{"devanagari", unicode.Devanagari},
}

// AnalyzeContent classifies content by dominant writing script and token
// statistics, and runs the injection scan. Script detection covers the
// detect-language surface: the script, not a full language model, is what a
// deterministic core can promise.
func AnalyzeContent(content string) ContentReport {
	report := ContentReport{
		Scripts:   make(map[string]int),
		Injection: CheckInjection(content),
	}

	for _, r := range content {
		report.RuneCount++
		if !unicode.IsLetter(r) {
			continue
		}
		for _, s := range scriptRanges {
			if unicode.Is(s.table, r) {
				report.Scripts[s.name]++
				break
			}
		}
	}

	report.TokenCount = len(tokenize(cases.Fold(), content))

	best, bestCount := "unknown", 0
	for name, count := range report.Scripts {
		if count > bestCount || (count == bestCount && name < best) {
			best, bestCount = name, count
		}
	}
	if bestCount > 0 {
		report.Script = best
	} else {
		report.Script = "unknown"
	}
	return report
}
