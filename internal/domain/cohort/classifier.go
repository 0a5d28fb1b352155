package cohort

import "strings"

// AccessTier is the data access mode requested from the backend.
type AccessTier string

const (
	TierNominative    AccessTier = "Nominatif"
	TierPseudonymized AccessTier = "Pseudonymisé"
)

// TierFor maps a classifier decision to its access tier.
func TierFor(nominative bool) AccessTier {
	if nominative {
		return TierNominative
	}
	return TierPseudonymized
}

// NominativeReason names why a criterion requires identified access.
type NominativeReason string

const (
	ReasonIdentifierSearch NominativeReason = "identifier-search"
	ReasonExactDate        NominativeReason = "exact-date"
	ReasonExtremalBucket   NominativeReason = "extremal-bucket"
)

// Bounds of the representable age and stay-length scales. A bound set at
// zero days falls in the "under one day" bucket; a bound at or past the
// maximum falls in the open-ended top bucket.
const (
	maxAgeYears = 130
	maxStayDays = 365
)

var maxAgeDays, _ = toDays(maxAgeYears, UnitYear)

// nominativeRule marks one field of one resource kind as re-identifying.
type nominativeRule struct {
	Kind   ResourceKind
	Field  string
	Reason NominativeReason
	Match  func(Criterion) bool
}

// nominativeRules is the reviewed catalogue of re-identifying fields. Every
// entry is a compliance decision; extend it only with sign-off.
var nominativeRules = []nominativeRule{
	{KindPatient, "identifier", ReasonIdentifierSearch, func(c Criterion) bool {
		p, ok := asPatient(c)
		return ok && strings.TrimSpace(p.Identifier) != ""
	}},
	{KindPatient, "birthdates", ReasonExactDate, func(c Criterion) bool {
		p, ok := asPatient(c)
		return ok && dateRangeSet(p.BirthDates)
	}},
	{KindPatient, "deathDates", ReasonExactDate, func(c Criterion) bool {
		p, ok := asPatient(c)
		return ok && dateRangeSet(p.DeathDates)
	}},
	{KindPatient, "age", ReasonExtremalBucket, func(c Criterion) bool {
		p, ok := asPatient(c)
		return ok && touchesExtremal(p.Age, maxAgeDays)
	}},
	{KindEncounter, "age", ReasonExtremalBucket, func(c Criterion) bool {
		e, ok := asEncounter(c)
		return ok && touchesExtremal(e.AgeAtAdmission, maxAgeDays)
	}},
	{KindEncounter, "duration", ReasonExtremalBucket, func(c Criterion) bool {
		e, ok := asEncounter(c)
		return ok && touchesExtremal(e.Duration, maxStayDays)
	}},
}

// NominativeFinding is one rule that fired on one leaf.
type NominativeFinding struct {
	LeafID int              `json:"leafId"`
	Kind   ResourceKind     `json:"resourceType"`
	Field  string           `json:"field"`
	Reason NominativeReason `json:"reason"`
}

// Explain lists every nominative rule that fires on leaves. Invalid leaves
// carry no usable fields and never fire.
func Explain(leaves []LeafNode) []NominativeFinding {
	var out []NominativeFinding
	for _, leaf := range leaves {
		if leaf.Invalid || leaf.Fields == nil {
			continue
		}
		for _, rule := range nominativeRules {
			if rule.Kind == leaf.Fields.Kind() && rule.Match(leaf.Fields) {
				out = append(out, NominativeFinding{
					LeafID: leaf.ID,
					Kind:   rule.Kind,
					Field:  rule.Field,
					Reason: rule.Reason,
				})
			}
		}
	}
	return out
}

// IsNominative reports whether any leaf requires identified access. The
// group a leaf sits in, and whether that group includes or excludes, does
// not matter.
func IsNominative(leaves []LeafNode) bool {
	for _, leaf := range leaves {
		if leaf.Invalid || leaf.Fields == nil {
			continue
		}
		for _, rule := range nominativeRules {
			if rule.Kind == leaf.Fields.Kind() && rule.Match(leaf.Fields) {
				return true
			}
		}
	}
	return false
}

func dateRangeSet(r *DateRange) bool {
	if r == nil {
		return false
	}
	_, start := parseDate(r.Start)
	_, end := parseDate(r.End)
	return start || end
}

// touchesExtremal reports whether an explicitly set bound lands in the
// under-one-day bucket or at or beyond maxDays.
func touchesExtremal(r *DurationRange, maxDays int) bool {
	if r == nil {
		return false
	}
	for _, bound := range []*int{r.Min, r.Max} {
		if bound == nil {
			continue
		}
		days, ok := toDays(*bound, r.Unit)
		if ok && (days == 0 || days >= maxDays) {
			return true
		}
	}
	return false
}

func asPatient(c Criterion) (PatientCriteria, bool) {
	switch v := c.(type) {
	case PatientCriteria:
		return v, true
	case *PatientCriteria:
		if v != nil {
			return *v, true
		}
	}
	return PatientCriteria{}, false
}

func asEncounter(c Criterion) (EncounterCriteria, bool) {
	switch v := c.(type) {
	case EncounterCriteria:
		return v, true
	case *EncounterCriteria:
		if v != nil {
			return *v, true
		}
	}
	return EncounterCriteria{}, false
}
