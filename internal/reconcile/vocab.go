// Package reconcile maps loosely-structured source rows (form payloads,
// spreadsheet rows, legacy database columns) onto the canonical record
// shape. Aliasing is table-driven: each vocabulary lists, per canonical
// field, an ordered set of candidate source keys; the first present,
// non-empty candidate wins. Unit conventions are declared per vocabulary.
package reconcile

import (
	"regexp"
	"strings"
)

// Unit identifies the temperature scale a source vocabulary reports in.
// Canonical storage is always Celsius; Fahrenheit sources convert on the
// way in.
type Unit int

const (
	UnitCelsius Unit = iota
	UnitFahrenheit
)

// Vocabulary describes one source convention: which keys name which
// canonical fields, which keys (if any) carry a combined "sys/dia" blood
// pressure string, and what unit temperature arrives in.
type Vocabulary struct {
	Name            string
	TemperatureUnit Unit

	// aliases maps a canonical field name to ordered candidate source
	// keys, all in normalized form (see NormalizeKey).
	aliases map[string][]string

	// combinedBP lists candidate keys holding a combined blood pressure
	// string such as "120/80". Only consulted when the split systolic and
	// diastolic fields are absent.
	combinedBP []string
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeKey folds an arbitrary header or field name to the matching
// form used by alias tables: lowercase with every run of non-alphanumeric
// characters collapsed to a single underscore. "Pulse (bpm)" and
// "pulse_bpm" normalize identically.
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// identity returns an alias table where every listed canonical field is
// named by its own canonical key, merged with overrides.
func identity(fields []string, overrides map[string][]string) map[string][]string {
	m := make(map[string][]string, len(fields)+len(overrides))
	for _, f := range fields {
		m[f] = []string{f}
	}
	for f, cands := range overrides {
		m[f] = cands
	}
	return m
}

// canonicalFields is every reconcilable canonical field except the split
// blood pressure pair, which vocabularies override individually.
var canonicalFields = []string{
	"patient_id",
	"full_name", "date_of_birth", "age", "gender", "grade_level",
	"parent_primary_name", "parent_primary_phone",
	"emergency_contact_name", "emergency_contact_phone",
	"academic_year", "academic_term", "date_of_visit", "time_of_visit",
	"brought_in_by", "nurse_name", "visit_reason_category",
	"severity_level", "visit_details",
	"temperature", "heart_rate", "respiratory_rate", "oxygen_saturation",
	"blood_pressure_systolic", "blood_pressure_diastolic",
	"height", "weight", "bmi", "pain_scale", "pain_location",
	"presenting_complaints", "other_complaint_details", "complaint_background",
	"past_medical_history", "known_allergies", "current_medications",
	"special_medical_needs", "chronic_conditions",
	"nurse_observations", "interventions_provided", "medications_administered",
	"next_steps", "other_next_step_details", "referral_type", "follow_up_date",
	"admission_date", "admission_time", "condition_on_admission", "plan_of_care",
	"discharge_time", "condition_at_discharge", "discharge_instructions",
	"return_to_class_time", "parent_notified", "parent_notification_time",
	"incident_report_required",
	"notes",
}

// Form is the web form and CLI input vocabulary. Field names are already
// canonical; temperature arrives in Fahrenheit (the form collects F, the
// store keeps C). Older form versions posted visit_reason and pain_level.
var Form = &Vocabulary{
	Name:            "form",
	TemperatureUnit: UnitFahrenheit,
	aliases: identity(canonicalFields, map[string][]string{
		"visit_reason_category": {"visit_reason_category", "visit_reason"},
		"heart_rate":            {"heart_rate", "pulse"},
		"pain_scale":            {"pain_scale", "pain_level"},
	}),
	combinedBP: []string{"blood_pressure"},
}

// Spreadsheet is the workbook vocabulary matching the export header list.
// Blood pressure is one combined display column; temperature is Celsius.
var Spreadsheet = &Vocabulary{
	Name:            "spreadsheet",
	TemperatureUnit: UnitCelsius,
	aliases: identity(canonicalFields, map[string][]string{
		"grade_level":           {"grade_year_level", "grade_level"},
		"parent_primary_name":   {"parent_guardian_name", "parent_primary_name"},
		"parent_primary_phone":  {"parent_guardian_phone", "parent_primary_phone"},
		"nurse_name":            {"nurse_name"},
		"visit_reason_category": {"visit_reason_category", "visit_reason"},
		"temperature":           {"temperature_c", "temperature"},
		"heart_rate":            {"heart_rate", "pulse_bpm", "pulse"},
		"respiratory_rate":      {"respiratory_rate_cpm", "respiratory_rate"},
		"oxygen_saturation":     {"oxygen_saturation"},
		"presenting_complaints": {"presenting_complaint_s", "presenting_complaints"},
		"next_steps":            {"next_step_s", "next_steps"},
	}),
	combinedBP: []string{"blood_pressure_mmhg", "blood_pressure"},
}

// SpreadsheetLegacy covers workbooks produced by the old batch tool, whose
// header list predates the app's. Import only; exports always use the
// Spreadsheet layout.
var SpreadsheetLegacy = &Vocabulary{
	Name:            "spreadsheet-legacy",
	TemperatureUnit: UnitCelsius,
	aliases: identity(canonicalFields, map[string][]string{
		"grade_level":            {"grade_year_level"},
		"parent_primary_name":    {"parent_guardian_primary_contact_name"},
		"parent_primary_phone":   {"parent_guardian_primary_contact_number"},
		"emergency_contact_name": {"emergency_contact_name"},
		"emergency_contact_phone": {
			"emergency_contact_number", "emergency_contact_phone",
		},
		"nurse_name":            {"nurse_name_id", "nurse_name"},
		"visit_reason_category": {"visit_reason_category"},
		"temperature":           {"temperature_c"},
		"heart_rate":            {"pulse_bpm"},
		"respiratory_rate":      {"respiratory_rate_cpm"},
		"oxygen_saturation":     {"oxygen_saturation"},
		"presenting_complaints": {"presenting_complaint_s"},
		"complaint_background":  {"background_to_presenting_complaint_s"},
		"special_medical_needs": {"special_medical_needs_flag"},
		"chronic_conditions":    {"chronic_conditions_alert"},
		"medications_administered": {
			"medications_administered_during_visit", "medications_administered",
		},
		"next_steps":               {"next_step_s"},
		"admission_date":           {"date_of_admission_sick_bay"},
		"admission_time":           {"time_of_admission_sick_bay"},
		"condition_on_admission":   {"student_s_condition_on_admission_sick_bay"},
		"plan_of_care":             {"plan_of_care_sick_bay"},
		"discharge_time":           {"time_of_discharge"},
		"condition_at_discharge":   {"student_s_condition_at_discharge"},
		"parent_notified":          {"parent_notification_yes_no"},
		"parent_notification_time": {"parent_notification_time"},
		"incident_report_required": {"incident_report_required_yes_no"},
		"notes":                    {"notes_comments"},
	}),
	combinedBP: []string{"blood_pressure_mmhg"},
}

// DBV1 is the oldest stored schema: pulse instead of heart_rate,
// visit_reason instead of visit_reason_category, one combined
// blood_pressure text column, and Fahrenheit temperatures.
var DBV1 = &Vocabulary{
	Name:            "db-v1",
	TemperatureUnit: UnitFahrenheit,
	aliases: identity(canonicalFields, map[string][]string{
		"heart_rate":            {"heart_rate", "pulse"},
		"visit_reason_category": {"visit_reason_category", "visit_reason"},
	}),
	combinedBP: []string{"blood_pressure"},
}

// DBV2 is the intermediate stored schema: field names already canonical
// and temperatures Celsius, but blood pressure still one combined column.
var DBV2 = &Vocabulary{
	Name:            "db-v2",
	TemperatureUnit: UnitCelsius,
	aliases:         identity(canonicalFields, nil),
	combinedBP:      []string{"blood_pressure"},
}

// ByName looks up a built-in vocabulary by its name.
func ByName(name string) (*Vocabulary, bool) {
	switch name {
	case Form.Name:
		return Form, true
	case Spreadsheet.Name:
		return Spreadsheet, true
	case SpreadsheetLegacy.Name:
		return SpreadsheetLegacy, true
	case DBV1.Name:
		return DBV1, true
	case DBV2.Name:
		return DBV2, true
	}
	return nil, false
}
