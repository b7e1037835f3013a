package quantity

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// presentationVocabulary maps the packaging names that appear in
// material masters to their unit multiples. Names are matched as whole
// tokens, case-insensitively.
var presentationVocabulary = map[string]int64{
	"PAR":    2,
	"DOCENA": 12,
	"DECENA": 10,
	"CIENTO": 100,
	"MILLAR": 1000,
	"HOJA":   1,
	"TRAMO":  1,
	"ROLLO":  1,
	"PIEZA":  1,
	"PIEZAS": 1,
	"PZA":    1,
	"PZAS":   1,
	"PZS":    1,
}

var (
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	tokenPattern  = regexp.MustCompile(`[A-ZÁÉÍÓÚÑ]+`)
)

// ResolvePresentation maps a free-text packaging description to its
// candidate unit multiples: the union of recognized vocabulary tokens
// and any numeric substrings embedded in the text, deduplicated and
// sorted ascending. Blank input yields nil. More than one candidate
// means the description is ambiguous and the caller must pick one.
func ResolvePresentation(text string) []decimal.Decimal {
	s := strings.ToUpper(strings.TrimSpace(text))
	if s == "" {
		return nil
	}

	seen := make(map[string]decimal.Decimal)

	// "MEDIA DOCENA" is the only multi-word vocabulary entry; consume
	// it before tokenizing so the DOCENA token does not also match.
	if strings.Contains(s, "MEDIA DOCENA") {
		half := decimal.NewFromInt(6)
		seen[half.String()] = half
		s = strings.ReplaceAll(s, "MEDIA DOCENA", " ")
	}

	for _, token := range tokenPattern.FindAllString(s, -1) {
		if multiple, ok := presentationVocabulary[token]; ok {
			d := decimal.NewFromInt(multiple)
			seen[d.String()] = d
		}
	}

	for _, raw := range numberPattern.FindAllString(s, -1) {
		if d, err := decimal.NewFromString(raw); err == nil {
			seen[d.String()] = d
		}
	}

	if len(seen) == 0 {
		return nil
	}

	candidates := make([]decimal.Decimal, 0, len(seen))
	for _, d := range seen {
		candidates = append(candidates, d)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LessThan(candidates[j])
	})

	return candidates
}

// RoundingPolicy is the quantity-rounding rule for one material,
// resolved once from its automation flag and presentation text instead
// of branching inline everywhere quantities are computed.
type RoundingPolicy struct {
	// Unit is the packaging multiple quantities are rounded up to.
	// Zero means exact quantities (no rounding).
	Unit decimal.Decimal
	// Ambiguous reports that the presentation resolved to several
	// candidates and the smallest was picked.
	Ambiguous bool
}

// Exact is the no-rounding policy used for non-automated materials.
var Exact = RoundingPolicy{}

// PolicyFor resolves the rounding policy for a material flagged (or
// not) for automated ordering. When the presentation is unresolvable
// the policy degrades to Exact even for automated materials, matching
// the legacy calculator.
func PolicyFor(automation bool, presentation string) RoundingPolicy {
	if !automation {
		return Exact
	}
	candidates := ResolvePresentation(presentation)
	if len(candidates) == 0 {
		return Exact
	}
	return RoundingPolicy{
		Unit:      candidates[0],
		Ambiguous: len(candidates) > 1,
	}
}

// Apply rounds a required quantity according to the policy: the number
// of packaging units for ToPackagingMultiple-style policies, the
// required quantity itself for Exact.
func (p RoundingPolicy) Apply(required decimal.Decimal) decimal.Decimal {
	if p.Unit.IsZero() {
		return required
	}
	return CeilDiv(required, p.Unit)
}
