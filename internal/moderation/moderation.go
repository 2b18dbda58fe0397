// Package moderation screens prompts against a static list of topics that
// are not permissible.
package moderation

import (
	"fmt"
	"regexp"
	"strings"
)

type Verdict struct {
	Allowed bool
	Reason  string
}

var denylist = []string{
	"alcohol",
	"pork",
	"gambling",
	"interest",
	"usury",
	"adultery",
	"fornication",
	"idol",
	"shirk",
	"riba",
	"intoxication",
	"wine",
	"beer",
	"drugs",
	"haram",
	"dating",
	"betting",
	"lottery",
}

type pattern struct {
	re      *regexp.Regexp
	message string
}

var patterns = []pattern{
	{regexp.MustCompile(`(?i)(music|song|dance).*festival`), "Content involving music festivals may not be appropriate."},
	{regexp.MustCompile(`(?i)dating.*relationship`), "Content about dating relationships is not appropriate."},
	{regexp.MustCompile(`(?i)(interest|loan).*bank`), "Content about banking interest (riba) is not permissible."},
}

const patternSuffix = " Please modify your request to align with Islamic principles."

// Screen checks the denylist first, then the topic patterns. The first
// match decides the verdict.
func Screen(prompt string) Verdict {
	lower := strings.ToLower(prompt)
	for _, keyword := range denylist {
		if strings.Contains(lower, keyword) {
			return Verdict{
				Reason: fmt.Sprintf("The prompt contains the haram term %q. This goes against Islamic principles. Please rephrase your request to avoid non-halal topics.", keyword),
			}
		}
	}

	for _, p := range patterns {
		if p.re.MatchString(prompt) {
			return Verdict{Reason: p.message + patternSuffix}
		}
	}

	return Verdict{Allowed: true}
}
