package matrix

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RangeKind tags how a table key bounds its values.
type RangeKind int

const (
	// KindExact matches a single value ("1.5").
	KindExact RangeKind = iota
	// KindBounded matches min..max inclusive ("680-699").
	KindBounded
	// KindLowerBound matches values above min ("760+", ">=760", ">760").
	KindLowerBound
	// KindUpperBound matches values below max ("<55", "<=55").
	KindUpperBound
)

func (k RangeKind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindBounded:
		return "bounded"
	case KindLowerBound:
		return "lowerBound"
	case KindUpperBound:
		return "upperBound"
	}
	return "unknown"
}

const epsilon = 1e-9

// Range is a parsed table key.
type Range struct {
	Key          string
	Kind         RangeKind
	Min          float64
	Max          float64
	MinInclusive bool
	MaxInclusive bool
}

// ParseRange parses a table key. Thousands separators, whitespace and
// the "$" and "%" signs are ignored.
func ParseRange(key string) (Range, error) {
	s := cleanKey(key)
	if s == "" {
		return Range{}, fmt.Errorf("empty range key %q", key)
	}

	r := Range{Key: key}

	switch {
	case strings.HasSuffix(s, "+"):
		v, err := parseNumber(key, strings.TrimSuffix(s, "+"))
		if err != nil {
			return Range{}, err
		}
		r.Kind, r.Min, r.MinInclusive = KindLowerBound, v, true

	case strings.HasPrefix(s, ">="):
		v, err := parseNumber(key, s[2:])
		if err != nil {
			return Range{}, err
		}
		r.Kind, r.Min, r.MinInclusive = KindLowerBound, v, true

	case strings.HasPrefix(s, ">"):
		v, err := parseNumber(key, s[1:])
		if err != nil {
			return Range{}, err
		}
		r.Kind, r.Min = KindLowerBound, v

	case strings.HasPrefix(s, "<="):
		v, err := parseNumber(key, s[2:])
		if err != nil {
			return Range{}, err
		}
		r.Kind, r.Max, r.MaxInclusive = KindUpperBound, v, true

	case strings.HasPrefix(s, "<"):
		v, err := parseNumber(key, s[1:])
		if err != nil {
			return Range{}, err
		}
		r.Kind, r.Max = KindUpperBound, v

	default:
		// A leading minus belongs to the number, not the range operator.
		if i := strings.Index(s[1:], "-"); i >= 0 {
			lo, err := parseNumber(key, s[:i+1])
			if err != nil {
				return Range{}, err
			}
			hi, err := parseNumber(key, s[i+2:])
			if err != nil {
				return Range{}, err
			}
			if lo > hi {
				return Range{}, fmt.Errorf("range key %q: min %v exceeds max %v", key, lo, hi)
			}
			r.Kind = KindBounded
			r.Min, r.Max = lo, hi
			r.MinInclusive, r.MaxInclusive = true, true
			break
		}

		v, err := parseNumber(key, s)
		if err != nil {
			return Range{}, err
		}
		r.Kind = KindExact
		r.Min, r.Max = v, v
		r.MinInclusive, r.MaxInclusive = true, true
	}

	return r, nil
}

// Contains reports whether v falls in the range.
func (r Range) Contains(v float64) bool {
	switch r.Kind {
	case KindExact:
		return math.Abs(v-r.Min) < epsilon
	case KindBounded:
		return v >= r.Min-epsilon && v <= r.Max+epsilon
	case KindLowerBound:
		if r.MinInclusive {
			return v >= r.Min-epsilon
		}
		return v > r.Min
	case KindUpperBound:
		if r.MaxInclusive {
			return v <= r.Max+epsilon
		}
		return v < r.Max
	}
	return false
}

// Threshold is the single number a bucket key names. Upper and bounded
// ranges use their maximum; exact and lower-bound ranges their minimum.
func (r Range) Threshold() float64 {
	switch r.Kind {
	case KindBounded, KindUpperBound:
		return r.Max
	}
	return r.Min
}

func (r Range) String() string {
	return r.Key
}

var keyReplacer = strings.NewReplacer("≥", ">=", "≤", "<=", "–", "-", "—", "-")

func cleanKey(key string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case ',', '$', '%', ' ', '\t':
			return -1
		}
		return c
	}, keyReplacer.Replace(strings.TrimSpace(key)))
}

func parseNumber(key, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("range key %q: %q is not a number", key, s)
	}
	return v, nil
}
