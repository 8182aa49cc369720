package fields

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Tier identifies which matching rule produced a resolution.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierContains
	TierWordSet
	TierPartial
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierContains:
		return "contains"
	case TierWordSet:
		return "word_set"
	case TierPartial:
		return "partial"
	default:
		return "none"
	}
}

var (
	// Unit and suffix tokens carry no meaning for matching. "mm" only counts as
	// a standalone token so that words like "commission" survive.
	reUnits    = regexp.MustCompile(`\$mm|_bps|_pct|_annual|_fte`)
	reBareMM   = regexp.MustCompile(`(^|[^a-z0-9])mm([^a-z0-9]|$)`)
	reNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	reWordSep  = regexp.MustCompile(`[\s_]+`)
	reNumeric  = regexp.MustCompile(`[^0-9.\-]+`)
)

// identifierMarkers exclude identifier-like columns from measure matching.
var identifierMarkers = []string{"id", "period", "date", "quarter"}

func stripUnits(s string) string {
	s = reUnits.ReplaceAllString(strings.ToLower(s), " ")
	// ReplaceAll does not revisit overlapping matches ("mm_mm"), loop until stable.
	for {
		next := reBareMM.ReplaceAllString(s, "$1 $2")
		if next == s {
			return s
		}
		s = next
	}
}

// Normalize lowercases name, strips unit tokens and drops every
// non-alphanumeric character.
func Normalize(name string) string {
	return reNonAlnum.ReplaceAllString(stripUnits(name), "")
}

// CoreWords splits name into whitespace/underscore-delimited words after unit
// stripping, keeping only alphanumerics inside each word.
func CoreWords(name string) []string {
	parts := reWordSep.Split(strings.TrimSpace(stripUnits(name)), -1)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		w := reNonAlnum.ReplaceAllString(p, "")
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

func significantWords(name string) []string {
	var out []string
	for _, w := range CoreWords(name) {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// IsIdentifier reports whether a normalized key names an identifier column.
func IsIdentifier(normalized string) bool {
	for _, m := range identifierMarkers {
		if strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}

// Coerce converts a cell value to float64. Strings are stripped of every
// character other than digits, '.', and '-' before parsing.
func Coerce(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case string:
		clean := reNumeric.ReplaceAllString(x, "")
		if clean == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Resolver maps semantic field names onto arbitrarily named record keys.
type Resolver struct {
	Logger zerolog.Logger
}

// NewResolver returns a Resolver logging unresolved lookups to logger.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{Logger: logger}
}

type candidate struct {
	key        string
	lower      string
	normalized string
	words      []string
	value      any
}

// Resolve returns the best-matching numeric value for name within rec, the
// tier that produced it, and false when no tier yields a number.
func (r *Resolver) Resolve(rec Record, name string) (float64, Tier, bool) {
	target := Normalize(name)
	targetWords := significantWords(name)

	cands := make([]candidate, 0, rec.Len())
	for _, f := range rec.Fields() {
		n := Normalize(f.Key)
		if IsIdentifier(n) {
			continue
		}
		cands = append(cands, candidate{
			key:        f.Key,
			lower:      strings.ToLower(f.Key),
			normalized: n,
			words:      CoreWords(f.Key),
			value:      f.Value,
		})
	}

	tiers := []struct {
		tier  Tier
		match func(c candidate) bool
	}{
		{TierExact, func(c candidate) bool {
			return target != "" && c.normalized != "" && c.normalized == target
		}},
		{TierContains, func(c candidate) bool {
			if len(target) <= 3 || len(c.normalized) <= 3 {
				return false
			}
			return strings.Contains(c.normalized, target) || strings.Contains(target, c.normalized)
		}},
		{TierWordSet, func(c candidate) bool {
			return wordSetMatch(targetWords, c.words)
		}},
		{TierPartial, func(c candidate) bool {
			if len(targetWords) == 0 {
				return false
			}
			for _, w := range targetWords {
				if !strings.Contains(c.lower, w) {
					return false
				}
			}
			return true
		}},
	}

	for _, t := range tiers {
		for _, c := range cands {
			if !t.match(c) {
				continue
			}
			if v, ok := Coerce(c.value); ok {
				return v, t.tier, true
			}
		}
	}

	r.Logger.Debug().Str("field", name).Int("candidates", len(cands)).Msg("field unresolved")
	return 0, TierNone, false
}

// Value is Resolve without the tier.
func (r *Resolver) Value(rec Record, name string) (float64, bool) {
	v, _, ok := r.Resolve(rec, name)
	return v, ok
}

func wordSetMatch(target, cand []string) bool {
	if len(target) == 0 || len(cand) == 0 {
		return false
	}
	for _, tw := range target {
		found := false
		for _, cw := range cand {
			if len(cw) <= 2 {
				continue
			}
			if cw == tw || strings.Contains(cw, tw) || strings.Contains(tw, cw) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NamesMatch compares two names with the exact and containment rules, for
// matching tree nodes and levers against canonical field names.
func NamesMatch(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) > 3 && len(nb) > 3 {
		return strings.Contains(na, nb) || strings.Contains(nb, na)
	}
	return false
}
