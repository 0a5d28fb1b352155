package cohort

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/cohort/internal/platform/fhir"
)

// Prefix is the FHIR search comparison prefix carried by a bound fragment.
type Prefix string

const (
	PrefixNone Prefix = ""
	PrefixGe   Prefix = "ge" // at least
	PrefixLe   Prefix = "le" // at most
)

// FilterParam is the search parameter that carries a _filter expression.
const FilterParam = "_filter"

// Fragment is one unit of compiled search text: param=[prefix]value.
type Fragment struct {
	Param  string `json:"param"`
	Prefix Prefix `json:"prefix,omitempty"`
	Value  string `json:"value"`
}

// String renders the fragment for a query string. Characters that would
// split or re-key the parameter are percent-encoded; Value stays raw.
func (f Fragment) String() string {
	return f.Param + "=" + string(f.Prefix) + queryEscaper.Replace(f.Value)
}

var queryEscaper = strings.NewReplacer(
	"%", "%25",
	"&", "%26",
	"=", "%3D",
	"#", "%23",
	"+", "%2B",
	";", "%3B",
)

// searchEscaper escapes the FHIR search value separators inside one value,
// so a comma or pipe typed by a user is not read as an OR list or a
// system|code split.
var searchEscaper = strings.NewReplacer(
	`\`, `\\`,
	",", `\,`,
	"|", `\|`,
	"$", `\$`,
)

// Fragments is the ordered output for one leaf.
type Fragments []Fragment

// Strings renders each fragment.
func (fs Fragments) Strings() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

// Join renders the fragments as a search query string.
func (fs Fragments) Join() string {
	return strings.Join(fs.Strings(), "&")
}

// Average day lengths used to turn an age or duration bound into days.
const (
	daysPerYear  = 365.25
	daysPerMonth = daysPerYear / 12
)

// unitDays returns the day length of u. An empty unit is read as years;
// an unknown unit reports false.
func unitDays(u DurationUnit) (float64, bool) {
	switch u {
	case UnitYear, "":
		return daysPerYear, true
	case UnitMonth:
		return daysPerMonth, true
	case UnitDay:
		return 1, true
	}
	return 0, false
}

// toDays converts v units to whole days, truncating.
func toDays(v int, u DurationUnit) (int, bool) {
	perUnit, ok := unitDays(u)
	if !ok || v < 0 {
		return 0, false
	}
	return int(math.Trunc(float64(v) * perUnit)), true
}

var dateLayouts = []string{"2006-01-02", time.RFC3339}

// parseDate normalizes a date to YYYY-MM-DD, reporting false on empty or
// malformed input.
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// fragmentWriter accumulates fragments for one leaf. Every helper skips
// absent or malformed input instead of emitting a placeholder.
type fragmentWriter struct {
	out Fragments
}

func (w *fragmentWriter) add(param string, prefix Prefix, value string) {
	w.out = append(w.out, Fragment{Param: param, Prefix: prefix, Value: value})
}

func (w *fragmentWriter) text(param, value string) {
	if v := strings.TrimSpace(value); v != "" {
		w.add(param, PrefixNone, searchEscaper.Replace(v))
	}
}

func (w *fragmentWriter) values(param string, values []string) {
	escaped := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			escaped = append(escaped, searchEscaper.Replace(v))
		}
	}
	w.list(param, escaped)
}

// list joins already escaped values into one OR fragment.
func (w *fragmentWriter) list(param string, values []string) {
	if len(values) > 0 {
		w.add(param, PrefixNone, strings.Join(values, ","))
	}
}

// codes joins codes as system|code, or the bare code when no system was
// recorded.
func (w *fragmentWriter) codes(param string, codes []Code) {
	values := make([]string, 0, len(codes))
	for _, c := range codes {
		code := strings.TrimSpace(c.Code)
		if code == "" {
			continue
		}
		code = searchEscaper.Replace(code)
		if system := strings.TrimSpace(c.System); system != "" {
			code = searchEscaper.Replace(system) + "|" + code
		}
		values = append(values, code)
	}
	w.list(param, values)
}

// duration emits day-count bounds: the minimum as an "at least" fragment and
// the maximum as an "at most" fragment.
func (w *fragmentWriter) duration(param string, r *DurationRange) {
	if r == nil {
		return
	}
	if r.Min != nil {
		if days, ok := toDays(*r.Min, r.Unit); ok {
			w.add(param, PrefixGe, strconv.Itoa(days))
		}
	}
	if r.Max != nil {
		if days, ok := toDays(*r.Max, r.Unit); ok {
			w.add(param, PrefixLe, strconv.Itoa(days))
		}
	}
}

// dates emits ge start and le end on the same parameter.
func (w *fragmentWriter) dates(param string, r *DateRange) {
	if r == nil {
		return
	}
	w.dateBounds(param, param, r.Start, r.End)
}

// dateBounds emits ge start on startParam and le end on endParam.
func (w *fragmentWriter) dateBounds(startParam, endParam, start, end string) {
	if d, ok := parseDate(start); ok {
		w.add(startParam, PrefixGe, d)
	}
	if d, ok := parseDate(end); ok {
		w.add(endParam, PrefixLe, d)
	}
}

// window emits direct bounds, or a single existence-escape _filter fragment
// when records lacking the field must still match.
func (w *fragmentWriter) window(param string, win *DateWindow) {
	if win == nil {
		return
	}
	if !win.IncludeNull {
		w.dateBounds(param, param, win.Start, win.End)
		return
	}
	if expr := existenceEscape(param, win.Start, win.End); expr != nil {
		w.add(FilterParam, PrefixNone, expr.String())
	}
}

// existenceEscape builds
//
//	(param ge start and param le end) or not (param eq "*")
//
// dropping whichever bound is absent. It returns nil when neither bound is
// usable.
func existenceEscape(param, start, end string) *fhir.FilterExprNode {
	var bounds []*fhir.FilterExprNode
	if d, ok := parseDate(start); ok {
		bounds = append(bounds, fhir.Compare(param, fhir.FilterOperatorGreaterOrEqual, d))
	}
	if d, ok := parseDate(end); ok {
		bounds = append(bounds, fhir.Compare(param, fhir.FilterOperatorLessOrEqual, d))
	}
	if len(bounds) == 0 {
		return nil
	}
	return fhir.Or(
		fhir.And(bounds...),
		fhir.Not(fhir.Compare(param, fhir.FilterOperatorEqual, fhir.AnyValue)),
	)
}

func (w *fragmentWriter) quantity(param string, r *ValueRange) {
	if r == nil {
		return
	}
	if r.Min != nil && !math.IsNaN(*r.Min) && !math.IsInf(*r.Min, 0) {
		w.add(param, PrefixGe, strconv.FormatFloat(*r.Min, 'f', -1, 64))
	}
	if r.Max != nil && !math.IsNaN(*r.Max) && !math.IsInf(*r.Max, 0) {
		w.add(param, PrefixLe, strconv.FormatFloat(*r.Max, 'f', -1, 64))
	}
}

func (w *fragmentWriter) encounter(f EncounterFilter) {
	w.codes("encounter.status", f.EncounterStatuses)
	w.window("encounter.period-start", f.EncounterStart)
	w.window("encounter.period-end", f.EncounterEnd)
}
