// Package scope classifies proposed tasks against a project's declared scope
// and drives the task lifecycle.
package scope

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "will": true, "with": true,
	"this": true, "but": true, "they": true, "have": true, "had": true, "what": true,
	"when": true, "where": true, "who": true, "which": true, "why": true, "how": true,
	"all": true, "each": true, "every": true, "both": true, "few": true, "more": true,
	"most": true, "other": true, "some": true, "such": true, "no": true, "nor": true,
	"not": true, "only": true, "own": true, "same": true, "so": true, "than": true,
	"too": true, "very": true, "can": true, "just": true, "should": true, "now": true,
}

// Keywords is a set of normalized tokens.
type Keywords map[string]struct{}

// ExtractKeywords lower-cases text, splits it into words and drops stop words
// and words of two characters or fewer.
func ExtractKeywords(text string) Keywords {
	kw := make(Keywords)
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] || utf8.RuneCountInString(w) <= 2 {
			continue
		}
		kw[w] = struct{}{}
	}
	return kw
}

// Has reports whether w is in the set.
func (k Keywords) Has(w string) bool {
	_, ok := k[w]
	return ok
}

// Sorted returns the keywords in lexical order.
func (k Keywords) Sorted() []string {
	out := make([]string, 0, len(k))
	for w := range k {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either set is empty.
func Jaccard(a, b Keywords) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b.Has(w) {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Exclusion is a term the scope statement explicitly rules out.
type Exclusion struct {
	Phrase string `json:"phrase"` // the excluding phrase, e.g. "no" or "not including"
	Term   string `json:"term"`
}

// String renders the exclusion as it appears in classifier reasons.
func (e Exclusion) String() string {
	return e.Phrase + " " + e.Term
}

var exclusionPatterns = []struct {
	phrase string
	re     *regexp.Regexp
}{
	{"no", regexp.MustCompile(`no\s+([\p{L}\p{N}_]+)`)},
	{"without", regexp.MustCompile(`without\s+([\p{L}\p{N}_]+)`)},
	{"don't", regexp.MustCompile(`don't\s+([\p{L}\p{N}_]+)`)},
	{"exclude", regexp.MustCompile(`exclude\s+([\p{L}\p{N}_]+)`)},
	{"not including", regexp.MustCompile(`not\s+including\s+([\p{L}\p{N}_]+)`)},
}

// Exclusions scans a scope statement for explicit exclusions, in pattern
// order then position order.
func Exclusions(scope string) []Exclusion {
	lower := strings.ToLower(scope)
	var out []Exclusion
	for _, p := range exclusionPatterns {
		for _, m := range p.re.FindAllStringSubmatch(lower, -1) {
			out = append(out, Exclusion{Phrase: p.phrase, Term: m[1]})
		}
	}
	return out
}

// matchExclusion returns the first exclusion whose term occurs in the task text.
func matchExclusion(task, scope string) (Exclusion, bool) {
	lower := strings.ToLower(task)
	for _, e := range Exclusions(scope) {
		if strings.Contains(lower, e.Term) {
			return e, true
		}
	}
	return Exclusion{}, false
}
