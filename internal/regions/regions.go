// Package regions maps raw free-text region labels onto a closed canonical
// set of Indian states and union territories. Source files spell the same
// state tens of different ways ("WESTBENGAL", "West  Bengal", "West Bengli"),
// and sometimes carry city names or numeric garbage in the region column.
// Every surviving record downstream is guaranteed to carry a canonical name.
package regions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Rejection sentinels. ErrInvalidRegion marks labels on the known-invalid
// list; ErrUnresolvedRegion marks labels no canonical name matched closely
// enough. Both mean the record is dropped and counted by the caller.
var (
	ErrInvalidRegion    = errors.New("region label is on the invalid list")
	ErrUnresolvedRegion = errors.New("region label did not resolve to a canonical name")
)

// Table is the immutable lookup configuration for a Normalizer: the closed
// canonical set, the exact alias map, and the known-invalid label set. It is
// injected at construction so tests can substitute smaller tables.
type Table struct {
	Canonical []string
	Aliases   map[string]string
	Invalid   map[string]struct{}
}

// Normalizer resolves raw region labels against a Table.
type Normalizer struct {
	table     Table
	threshold float64
	canonical map[string]struct{}
}

// NewNormalizer builds a Normalizer over the given table. threshold is the
// minimum Levenshtein similarity (0..1] an approximate match must reach; it
// is set high so genuinely distinct region names never merge.
func NewNormalizer(table Table, threshold float64) (*Normalizer, error) {
	if len(table.Canonical) == 0 {
		return nil, fmt.Errorf("region table has no canonical names")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %v", threshold)
	}
	canonical := make(map[string]struct{}, len(table.Canonical))
	for _, name := range table.Canonical {
		canonical[name] = struct{}{}
	}
	return &Normalizer{
		table:     table,
		threshold: threshold,
		canonical: canonical,
	}, nil
}

// Normalize resolves a raw label to its canonical region name.
//
// Resolution order: exact canonical or alias hit, then the invalid list,
// then approximate matching against the canonical set. The order matters:
// an alias must win even if it is also a near-miss of some other canonical
// name, and an invalid label must never be "rescued" by fuzzy matching.
func (n *Normalizer) Normalize(label string) (string, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return "", fmt.Errorf("empty region label: %w", ErrUnresolvedRegion)
	}

	if _, ok := n.canonical[trimmed]; ok {
		return trimmed, nil
	}
	if canonical, ok := n.table.Aliases[trimmed]; ok {
		return canonical, nil
	}
	if _, ok := n.table.Invalid[trimmed]; ok {
		return "", fmt.Errorf("label %q: %w", trimmed, ErrInvalidRegion)
	}

	best, score := n.closest(trimmed)
	if score < n.threshold {
		return "", fmt.Errorf("label %q (best match %q at %.2f): %w", trimmed, best, score, ErrUnresolvedRegion)
	}
	return best, nil
}

// closest returns the canonical name with the highest similarity to label,
// compared case-insensitively and ignoring repeated whitespace.
func (n *Normalizer) closest(label string) (string, float64) {
	needle := foldLabel(label)
	bestName := ""
	bestScore := -1.0
	for _, name := range n.table.Canonical {
		score := similarity(needle, foldLabel(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		}
	}
	return bestName, bestScore
}

// similarity converts Levenshtein edit distance into a 0..1 score relative
// to the longer string. Identical strings score 1.0.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// foldLabel lowercases and collapses internal whitespace so that casing and
// double spaces never count as edits.
func foldLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
