package drift

import (
	"regexp"
	"strings"
)

// InjectionReport is the result of scanning content for prompt-injection or
// jailbreak phrasing. It is independent of drift scoring.
type InjectionReport struct {
	Detected        bool     `json:"detected"`
	MatchedPatterns []string `json:"matched_patterns"`
	RiskScore       float64  `json:"risk_score"`
}

type injectionPattern struct {
	name   string
	weight float64
	re     *regexp.Regexp
}

// injectionPatterns is the fixed detection table. Weights sum past 1.0 on
// purpose; the risk score is capped.
var injectionPatterns = []injectionPattern{
	{"ignore_previous_instructions", 0.8, regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|directions|prompts)`)},
	{"disregard_prior", 0.8, regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|earlier)`)},
	{"role_override", 0.6, regexp.MustCompile(`(?i)you\s+are\s+now\s+`)},
	{"pretend_roleplay", 0.5, regexp.MustCompile(`(?i)(pretend\s+(you\s+are|to\s+be)|act\s+as\s+if)`)},
	{"system_prompt_probe", 0.7, regexp.MustCompile(`(?i)(reveal|print|show|repeat)\s+(your\s+)?(system\s+prompt|initial\s+instructions)`)},
	{"developer_mode", 0.7, regexp.MustCompile(`(?i)(developer|dan|jailbreak)\s+mode`)},
	{"guardrail_bypass", 0.6, regexp.MustCompile(`(?i)(without|bypass|disable)\s+(any\s+)?(restrictions|safety|guardrails|filters)`)},
	{"exfil_instruction", 0.5, regexp.MustCompile(`(?i)(send|forward|post|upload)\s+.{0,40}(credentials|secrets|api\s*key|password)`)},
	{"hidden_instruction_marker", 0.4, regexp.MustCompile(`(?i)\[\[.*instruction.*\]\]|<\s*!--.*instruction`)},
	{"data_url_smuggling", 0.3, regexp.MustCompile(`(?i)data:text/html|javascript:`)},
}

// CheckInjection scans content against the fixed pattern table. Detection is
// purely lexical; it carries no coupling to the thread data model.
func CheckInjection(content string) InjectionReport {
	report := InjectionReport{MatchedPatterns: make([]string, 0)}
	if strings.TrimSpace(content) == "" {
		return report
	}

	risk := 0.0
	for _, p := range injectionPatterns {
		if p.re.MatchString(content) {
			report.MatchedPatterns = append(report.MatchedPatterns, p.name)
			risk += p.weight
		}
	}

	if risk > 1 {
		risk = 1
	}
	report.RiskScore = risk
	report.Detected = len(report.MatchedPatterns) > 0
	return report
}
