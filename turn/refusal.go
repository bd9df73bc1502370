package turn

import "strings"

// Refusal detection weights. A phrase at the very start of a response is
// decisive regardless of length; further in, it only counts when the
// whole response is short enough to plausibly be a bare refusal rather
// than an answer that merely quotes one.
const (
	refusalLeadWindow    = 48
	refusalShortResponse = 240
)

// defaultRefusalPatterns are phrases models use to decline a request.
// Matching is case-insensitive.
var defaultRefusalPatterns = []string{
	"i can't help with",
	"i cannot help with",
	"i can't assist with",
	"i cannot assist with",
	"i won't be able to",
	"i will not help",
	"i am unable to help",
	"i'm unable to help",
	"i must decline",
	"i'm sorry, but i can't",
	"i'm sorry, but i cannot",
}

// refusalDetector scans completed text-only responses for refusal
// phrases, weighting matches by position and response length.
type refusalDetector struct {
	patterns []string // lowercased
}

func newRefusalDetector(patterns []string) *refusalDetector {
	if len(patterns) == 0 {
		patterns = defaultRefusalPatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &refusalDetector{patterns: lowered}
}

// Detect reports whether text reads as a refusal.
//
// A match at offset zero is a refusal outright. A match inside the lead
// window counts only for short responses. A match deep inside a long
// response never does — long answers that mention a refusal phrase are
// overwhelmingly real answers.
func (d *refusalDetector) Detect(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}
	for _, p := range d.patterns {
		idx := strings.Index(lowered, p)
		if idx < 0 {
			continue
		}
		if idx == 0 {
			return true
		}
		if idx < refusalLeadWindow && len(lowered) <= refusalShortResponse {
			return true
		}
	}
	return false
}
