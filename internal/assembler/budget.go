package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxSize is the default character budget for an assembled context.
	DefaultMaxSize = 8000

	truncationMarker = "\n\n... (truncated)"
	// minTruncatedSpace is the remaining capacity below which an overflowing
	// part is dropped instead of truncated.
	minTruncatedSpace = 100
	// markerReserve is held back from a truncated part for the marker.
	markerReserve = 50
)

// Budget limits the size of assembled context, measured in characters.
type Budget struct {
	MaxChars      int     `json:"max_chars" yaml:"max_chars"`
	WarnThreshold float64 `json:"warn_threshold" yaml:"warn_threshold"` // 0.0-1.0, default 0.8
}

// DefaultBudget returns a budget of DefaultMaxSize characters.
func DefaultBudget() Budget {
	return Budget{MaxChars: DefaultMaxSize, WarnThreshold: 0.8}
}

// BudgetStatus reports how much of the budget an assembled context uses.
type BudgetStatus struct {
	Used        int     `json:"used"`
	Max         int     `json:"max"`
	Utilization float64 `json:"utilization"`
	Warning     bool    `json:"warning"`
	Reason      string  `json:"reason,omitempty"`
}

// Check evaluates a context of size characters against the budget.
func (b Budget) Check(size int) *BudgetStatus {
	status := &BudgetStatus{Used: size, Max: b.MaxChars}
	if b.MaxChars <= 0 {
		return status
	}
	status.Utilization = float64(size) / float64(b.MaxChars)

	threshold := b.WarnThreshold
	if threshold == 0 {
		threshold = 0.8
	}
	if status.Utilization >= threshold {
		status.Warning = true
		status.Reason = fmt.Sprintf("approaching context limit: %d/%d (%.0f%%)", size, b.MaxChars, status.Utilization*100)
	}
	return status
}

// Fit joins parts with newlines so the result stays within the budget.
// Parts are taken in priority order; the first part that does not fit is
// truncated when more than 100 characters remain, and every later part is
// dropped. Empty parts are skipped.
func (b Budget) Fit(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	full := strings.Join(kept, "\n")
	if utf8.RuneCountInString(full) <= b.MaxChars {
		return full
	}

	var result []string
	used := 0
	for _, p := range kept {
		sep := 0
		if len(result) > 0 {
			sep = 1
		}
		size := utf8.RuneCountInString(p)
		if used+sep+size <= b.MaxChars {
			result = append(result, p)
			used += sep + size
			continue
		}

		remaining := b.MaxChars - used
		if remaining > minTruncatedSpace {
			result = append(result, truncateRunes(p, remaining-markerReserve)+truncationMarker)
		}
		break
	}
	return strings.Join(result, "\n")
}

// truncateRunes returns the first n characters of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
