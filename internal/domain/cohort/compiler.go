package cohort

// Compile renders one leaf into its ordered search fragments. Invalid leaves
// and leaves without a field bag compile to nothing.
func Compile(leaf LeafNode) Fragments {
	if leaf.Invalid || leaf.Fields == nil {
		return Fragments{}
	}
	w := &fragmentWriter{out: Fragments{}}
	leaf.Fields.compile(w)
	return w.out
}

// CompileByKind compiles every leaf and concatenates the fragment lists of
// leaves that share a resource kind, in leaf order.
func CompileByKind(leaves []LeafNode) map[ResourceKind]Fragments {
	out := make(map[ResourceKind]Fragments)
	for _, leaf := range leaves {
		if leaf.Invalid || leaf.Fields == nil {
			continue
		}
		kind := leaf.Fields.Kind()
		out[kind] = append(out[kind], Compile(leaf)...)
	}
	return out
}

func (c PatientCriteria) compile(w *fragmentWriter) {
	w.add("active", PrefixNone, "true")
	w.values("gender", c.Genders)
	w.values("deceased", deceasedValues(c.VitalStatuses))
	w.duration("age-day", c.Age)
	w.dates("birthdate", c.BirthDates)
	w.dates("death-date", c.DeathDates)
	w.text("identifier", c.Identifier)
}

// deceasedValues maps vital statuses onto the boolean deceased parameter,
// dropping unknown statuses and duplicates.
func deceasedValues(statuses []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range statuses {
		var v string
		switch s {
		case "alive":
			v = "false"
		case "deceased":
			v = "true"
		default:
			continue
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (c EncounterCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.duration("start-age-visit", c.AgeAtAdmission)
	w.duration("length", c.Duration)
	w.codes("status", c.Statuses)
	w.codes("admission-mode", c.AdmissionModes)
	w.codes("reason-code", c.Reasons)
	w.codes("class", c.Classes)
	w.codes("discharge-disposition", c.DischargeDispositions)
	w.window("period-start", c.Start)
	w.window("period-end", c.End)
}

func (c DocumentCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("type", c.DocTypes)
	w.values("docstatus", c.DocStatuses)
	w.text("_text", c.Search)
	w.dates("date", c.Dates)
	w.encounter(c.EncounterFilter)
}

func (c ConditionCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("code", c.Codes)
	w.codes("orbis-status", c.DiagnosticTypes)
	w.dates("recorded-date", c.RecordedDates)
	w.encounter(c.EncounterFilter)
}

func (c ProcedureCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("code", c.Codes)
	w.values("source", c.Sources)
	w.dates("date", c.Dates)
	w.encounter(c.EncounterFilter)
}

func (c ClaimCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("diagnosis", c.Codes)
	w.dates("created", c.Dates)
	w.encounter(c.EncounterFilter)
}

func (c MedicationAdministrationCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("medication", c.Codes)
	w.codes("dosage-route", c.Routes)
	w.dates("effective-time", c.Dates)
	w.encounter(c.EncounterFilter)
}

func (c MedicationRequestCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("medication", c.Codes)
	w.codes("category", c.PrescriptionTypes)
	w.codes("dosage-instruction-route", c.Routes)
	if c.Dates != nil {
		w.dateBounds("validity-period-start", "validity-period-end", c.Dates.Start, c.Dates.End)
	}
	w.encounter(c.EncounterFilter)
}

func (c ObservationCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("code", c.Codes)
	w.values("status", c.Statuses)
	w.quantity("value-quantity", c.Value)
	w.dates("date", c.Dates)
	w.encounter(c.EncounterFilter)
}

func (c ImagingCriteria) compile(w *fragmentWriter) {
	w.add("subject.active", PrefixNone, "true")
	w.codes("modality", c.Modalities)
	w.text("description", c.Description)
	w.dates("started", c.Dates)
	w.encounter(c.EncounterFilter)
}
