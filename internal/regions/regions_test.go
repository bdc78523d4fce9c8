package regions

import (
	"errors"
	"testing"
)

func newDefaultNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(DefaultTable(), 0.85)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	return n
}

func TestNormalizeCanonicalPassthrough(t *testing.T) {
	n := newDefaultNormalizer(t)

	got, err := n.Normalize("West Bengal")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "West Bengal" {
		t.Errorf("Normalize(West Bengal) = %q", got)
	}
}

func TestNormalizeAliases(t *testing.T) {
	n := newDefaultNormalizer(t)

	cases := map[string]string{
		"WESTBENGAL":        "West Bengal",
		"West  Bengal":      "West Bengal",
		"West Bengli":       "West Bengal",
		"Orissa":            "Odisha",
		"Tamilnadu":         "Tamil Nadu",
		"Jammu & Kashmir":   "Jammu and Kashmir",
		"Uttaranchal":       "Uttarakhand",
		"Pondicherry":       "Puducherry",
		"Daman & Diu":       "Dadra and Nagar Haveli and Daman and Diu",
		"Jammu And Kashmir": "Jammu and Kashmir",
	}
	for label, want := range cases {
		got, err := n.Normalize(label)
		if err != nil {
			t.Errorf("Normalize(%q) failed: %v", label, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestNormalizeInvalidLabels(t *testing.T) {
	n := newDefaultNormalizer(t)

	for _, label := range []string{"100000", "Jaipur", "Nagpur", "Raja Annamalai Puram"} {
		_, err := n.Normalize(label)
		if !errors.Is(err, ErrInvalidRegion) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidRegion", label, err)
		}
	}
}

func TestNormalizeFuzzyFallback(t *testing.T) {
	n := newDefaultNormalizer(t)

	// Not in the alias table, but one edit away from a canonical name.
	cases := map[string]string{
		"Maharastra": "Maharashtra",
		"Karnatka":   "Karnataka",
		"KERALA":     "Kerala", // case folds before scoring
	}
	for label, want := range cases {
		got, err := n.Normalize(label)
		if err != nil {
			t.Errorf("Normalize(%q) failed: %v", label, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestNormalizeRejectsUnresolvable(t *testing.T) {
	n := newDefaultNormalizer(t)

	for _, label := range []string{"Atlantis", "xyzzy", "", "   "} {
		_, err := n.Normalize(label)
		if !errors.Is(err, ErrUnresolvedRegion) {
			t.Errorf("Normalize(%q) error = %v, want ErrUnresolvedRegion", label, err)
		}
	}
}

func TestNormalizeDoesNotMergeDistinctRegions(t *testing.T) {
	n := newDefaultNormalizer(t)

	// "Goa" and "Gujarat" must never resolve to each other; a short garbage
	// label near several names must reject rather than guess.
	if _, err := n.Normalize("Goaat"); err == nil {
		t.Error("expected rejection for ambiguous short label")
	}
}

func TestNormalizerRejectsBadConstruction(t *testing.T) {
	if _, err := NewNormalizer(Table{}, 0.85); err == nil {
		t.Error("expected error for empty canonical set")
	}
	if _, err := NewNormalizer(DefaultTable(), 0); err == nil {
		t.Error("expected error for zero threshold")
	}
	if _, err := NewNormalizer(DefaultTable(), 1.5); err == nil {
		t.Error("expected error for threshold above 1")
	}
}

func TestNormalizerWithSubstituteTable(t *testing.T) {
	// The table is injected configuration, not hidden global state.
	table := Table{
		Canonical: []string{"North", "South"},
		Aliases:   map[string]string{"N": "North"},
		Invalid:   map[string]struct{}{"HQ": {}},
	}
	n, err := NewNormalizer(table, 0.85)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}

	if got, _ := n.Normalize("N"); got != "North" {
		t.Errorf("alias lookup with substitute table = %q", got)
	}
	if _, err := n.Normalize("HQ"); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("invalid lookup error = %v", err)
	}
	if _, err := n.Normalize("Delhi"); !errors.Is(err, ErrUnresolvedRegion) {
		t.Errorf("Delhi should not resolve against substitute table, got %v", err)
	}
}
