package cohort

// Criterion is the kind-specific field bag of a leaf. The set of
// implementations is closed: one struct per ResourceKind.
type Criterion interface {
	Kind() ResourceKind
	compile(w *fragmentWriter)
}

// Code is a coded value and the coding system it was chosen from.
type Code struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// DurationUnit is the unit an age or duration range is expressed in.
type DurationUnit string

const (
	UnitYear  DurationUnit = "year"
	UnitMonth DurationUnit = "month"
	UnitDay   DurationUnit = "day"
)

// DurationRange is an age or duration window. Nil bounds are open.
type DurationRange struct {
	Min  *int         `json:"min,omitempty"`
	Max  *int         `json:"max,omitempty"`
	Unit DurationUnit `json:"unit,omitempty"`
}

// DateRange is an inclusive calendar window, dates as YYYY-MM-DD.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// DateWindow is a calendar window on a field that may be missing from the
// record. With IncludeNull set, records without the field still match.
type DateWindow struct {
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	IncludeNull bool   `json:"includeNull,omitempty"`
}

// ValueRange bounds a numeric observation value.
type ValueRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// EncounterFilter constrains the encounter a clinical resource is linked to.
type EncounterFilter struct {
	EncounterStatuses []Code      `json:"encounterStatus,omitempty"`
	EncounterStart    *DateWindow `json:"encounterStartDate,omitempty"`
	EncounterEnd      *DateWindow `json:"encounterEndDate,omitempty"`
}

// PatientCriteria filters on demographics.
type PatientCriteria struct {
	Genders       []string       `json:"genders,omitempty"`
	VitalStatuses []string       `json:"vitalStatus,omitempty"`
	Age           *DurationRange `json:"age,omitempty"`
	BirthDates    *DateRange     `json:"birthdates,omitempty"`
	DeathDates    *DateRange     `json:"deathDates,omitempty"`
	Identifier    string         `json:"identifier,omitempty"`
}

// EncounterCriteria filters on hospital stays.
type EncounterCriteria struct {
	AgeAtAdmission        *DurationRange `json:"age,omitempty"`
	Duration              *DurationRange `json:"duration,omitempty"`
	Statuses              []Code         `json:"status,omitempty"`
	AdmissionModes        []Code         `json:"admissionMode,omitempty"`
	Reasons               []Code         `json:"reason,omitempty"`
	Classes               []Code         `json:"class,omitempty"`
	DischargeDispositions []Code         `json:"dischargeDisposition,omitempty"`
	Start                 *DateWindow    `json:"startDate,omitempty"`
	End                   *DateWindow    `json:"endDate,omitempty"`
}

// DocumentCriteria filters on clinical documents.
type DocumentCriteria struct {
	EncounterFilter
	DocTypes    []Code     `json:"docType,omitempty"`
	DocStatuses []string   `json:"docStatus,omitempty"`
	Search      string     `json:"search,omitempty"`
	Dates       *DateRange `json:"dates,omitempty"`
}

// ConditionCriteria filters on coded diagnoses.
type ConditionCriteria struct {
	EncounterFilter
	Codes           []Code     `json:"code,omitempty"`
	DiagnosticTypes []Code     `json:"diagnosticType,omitempty"`
	RecordedDates   *DateRange `json:"dates,omitempty"`
}

// ProcedureCriteria filters on coded procedures.
type ProcedureCriteria struct {
	EncounterFilter
	Codes   []Code     `json:"code,omitempty"`
	Sources []string   `json:"source,omitempty"`
	Dates   *DateRange `json:"dates,omitempty"`
}

// ClaimCriteria filters on billing diagnosis groups.
type ClaimCriteria struct {
	EncounterFilter
	Codes []Code     `json:"code,omitempty"`
	Dates *DateRange `json:"dates,omitempty"`
}

// MedicationAdministrationCriteria filters on administered drugs.
type MedicationAdministrationCriteria struct {
	EncounterFilter
	Codes  []Code     `json:"code,omitempty"`
	Routes []Code     `json:"administration,omitempty"`
	Dates  *DateRange `json:"dates,omitempty"`
}

// MedicationRequestCriteria filters on prescriptions.
type MedicationRequestCriteria struct {
	EncounterFilter
	Codes             []Code     `json:"code,omitempty"`
	PrescriptionTypes []Code     `json:"prescriptionType,omitempty"`
	Routes            []Code     `json:"administration,omitempty"`
	Dates             *DateRange `json:"dates,omitempty"`
}

// ObservationCriteria filters on biology results.
type ObservationCriteria struct {
	EncounterFilter
	Codes    []Code      `json:"code,omitempty"`
	Statuses []string    `json:"status,omitempty"`
	Value    *ValueRange `json:"value,omitempty"`
	Dates    *DateRange  `json:"dates,omitempty"`
}

// ImagingCriteria filters on imaging studies.
type ImagingCriteria struct {
	EncounterFilter
	Modalities  []Code     `json:"modality,omitempty"`
	Description string     `json:"description,omitempty"`
	Dates       *DateRange `json:"dates,omitempty"`
}

func (PatientCriteria) Kind() ResourceKind                  { return KindPatient }
func (EncounterCriteria) Kind() ResourceKind                { return KindEncounter }
func (DocumentCriteria) Kind() ResourceKind                 { return KindDocument }
func (ConditionCriteria) Kind() ResourceKind                { return KindCondition }
func (ProcedureCriteria) Kind() ResourceKind                { return KindProcedure }
func (ClaimCriteria) Kind() ResourceKind                    { return KindClaim }
func (MedicationAdministrationCriteria) Kind() ResourceKind { return KindMedicationAdministration }
func (MedicationRequestCriteria) Kind() ResourceKind        { return KindMedicationRequest }
func (ObservationCriteria) Kind() ResourceKind              { return KindObservation }
func (ImagingCriteria) Kind() ResourceKind                  { return KindImaging }

// newCriterion returns a zero field bag for kind, or nil for an unknown kind.
func newCriterion(kind ResourceKind) Criterion {
	switch kind {
	case KindPatient:
		return &PatientCriteria{}
	case KindEncounter:
		return &EncounterCriteria{}
	case KindDocument:
		return &DocumentCriteria{}
	case KindCondition:
		return &ConditionCriteria{}
	case KindProcedure:
		return &ProcedureCriteria{}
	case KindClaim:
		return &ClaimCriteria{}
	case KindMedicationAdministration:
		return &MedicationAdministrationCriteria{}
	case KindMedicationRequest:
		return &MedicationRequestCriteria{}
	case KindObservation:
		return &ObservationCriteria{}
	case KindImaging:
		return &ImagingCriteria{}
	}
	return nil
}
