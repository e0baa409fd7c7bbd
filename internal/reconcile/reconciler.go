package reconcile

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clinichq/nurselog/internal/domain/record"
)

// Row is an externally-sourced record: normalized source key to raw value.
// Empty string means absent.
type Row map[string]string

// NewRow builds a Row from raw key/value pairs, normalizing keys.
func NewRow(raw map[string]string) Row {
	row := make(Row, len(raw))
	for k, v := range raw {
		row[NormalizeKey(k)] = strings.TrimSpace(v)
	}
	return row
}

type fieldKind int

const (
	kindText fieldKind = iota
	kindDate
	kindTime
	kindInt
	kindFloat
	kindTemperature
	kindBool
)

// fieldDef declares how one canonical field is populated: its parse kind,
// whether reconciliation fails when it cannot be produced, and the setter
// that places the parsed value on the record. Adding an alias is a
// vocabulary change; adding a field is one more row here.
type fieldDef struct {
	name     string
	kind     fieldKind
	required bool
	setText  func(*record.Record, string)
	setInt   func(*record.Record, int)
	setFloat func(*record.Record, float64)
	setBool  func(*record.Record, bool)
}

func strPtr(set func(*record.Record, *string)) func(*record.Record, string) {
	return func(r *record.Record, s string) { set(r, &s) }
}

var fieldDefs = []fieldDef{
	{name: "patient_id", kind: kindText, setText: func(r *record.Record, s string) { r.PatientID = s }},

	{name: "full_name", kind: kindText, required: true, setText: func(r *record.Record, s string) { r.FullName = s }},
	{name: "date_of_birth", kind: kindDate, setText: strPtr(func(r *record.Record, s *string) { r.DateOfBirth = s })},
	{name: "age", kind: kindInt, setInt: func(r *record.Record, v int) { r.Age = &v }},
	{name: "gender", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.Gender = s })},
	{name: "grade_level", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.GradeLevel = s })},

	{name: "parent_primary_name", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ParentPrimaryName = s })},
	{name: "parent_primary_phone", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ParentPrimaryPhone = s })},
	{name: "emergency_contact_name", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.EmergencyContactName = s })},
	{name: "emergency_contact_phone", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.EmergencyContactPhone = s })},

	{name: "academic_year", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.AcademicYear = s })},
	{name: "academic_term", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.AcademicTerm = s })},
	{name: "date_of_visit", kind: kindDate, required: true, setText: func(r *record.Record, s string) { r.DateOfVisit = s }},
	{name: "time_of_visit", kind: kindTime, required: true, setText: func(r *record.Record, s string) { r.TimeOfVisit = s }},
	{name: "brought_in_by", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.BroughtInBy = s })},
	{name: "nurse_name", kind: kindText, required: true, setText: func(r *record.Record, s string) { r.NurseName = s }},
	{name: "visit_reason_category", kind: kindText, required: true, setText: func(r *record.Record, s string) { r.VisitReasonCategory = s }},
	{name: "severity_level", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.SeverityLevel = s })},
	{name: "visit_details", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.VisitDetails = s })},

	{name: "temperature", kind: kindTemperature, setFloat: func(r *record.Record, v float64) { r.Temperature = &v }},
	{name: "heart_rate", kind: kindInt, setInt: func(r *record.Record, v int) { r.HeartRate = &v }},
	{name: "respiratory_rate", kind: kindInt, setInt: func(r *record.Record, v int) { r.RespiratoryRate = &v }},
	{name: "oxygen_saturation", kind: kindFloat, setFloat: func(r *record.Record, v float64) { r.OxygenSaturation = &v }},
	{name: "blood_pressure_systolic", kind: kindInt, setInt: func(r *record.Record, v int) { r.BloodPressureSystolic = &v }},
	{name: "blood_pressure_diastolic", kind: kindInt, setInt: func(r *record.Record, v int) { r.BloodPressureDiastolic = &v }},
	{name: "height", kind: kindFloat, setFloat: func(r *record.Record, v float64) { r.Height = &v }},
	{name: "weight", kind: kindFloat, setFloat: func(r *record.Record, v float64) { r.Weight = &v }},
	{name: "bmi", kind: kindFloat, setFloat: func(r *record.Record, v float64) { r.BMI = &v }},
	{name: "pain_scale", kind: kindInt, setInt: func(r *record.Record, v int) { r.PainScale = &v }},
	{name: "pain_location", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.PainLocation = s })},

	{name: "presenting_complaints", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.PresentingComplaints = s })},
	{name: "other_complaint_details", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.OtherComplaintDetails = s })},
	{name: "complaint_background", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ComplaintBackground = s })},

	{name: "past_medical_history", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.PastMedicalHistory = s })},
	{name: "known_allergies", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.KnownAllergies = s })},
	{name: "current_medications", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.CurrentMedications = s })},
	{name: "special_medical_needs", kind: kindBool, setBool: func(r *record.Record, v bool) { r.SpecialMedicalNeeds = v }},
	{name: "chronic_conditions", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ChronicConditions = s })},

	{name: "nurse_observations", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.NurseObservations = s })},
	{name: "interventions_provided", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.InterventionsProvided = s })},
	{name: "medications_administered", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.MedicationsAdministered = s })},
	{name: "next_steps", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.NextSteps = s })},
	{name: "other_next_step_details", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.OtherNextStepDetails = s })},
	{name: "referral_type", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ReferralType = s })},
	{name: "follow_up_date", kind: kindDate, setText: strPtr(func(r *record.Record, s *string) { r.FollowUpDate = s })},

	{name: "admission_date", kind: kindDate, setText: strPtr(func(r *record.Record, s *string) { r.AdmissionDate = s })},
	{name: "admission_time", kind: kindTime, setText: strPtr(func(r *record.Record, s *string) { r.AdmissionTime = s })},
	{name: "condition_on_admission", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ConditionOnAdmission = s })},
	{name: "plan_of_care", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.PlanOfCare = s })},

	{name: "discharge_time", kind: kindTime, setText: strPtr(func(r *record.Record, s *string) { r.DischargeTime = s })},
	{name: "condition_at_discharge", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.ConditionAtDischarge = s })},
	{name: "discharge_instructions", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.DischargeInstructions = s })},
	{name: "return_to_class_time", kind: kindTime, setText: strPtr(func(r *record.Record, s *string) { r.ReturnToClassTime = s })},
	{name: "parent_notified", kind: kindBool, setBool: func(r *record.Record, v bool) { r.ParentNotified = v }},
	{name: "parent_notification_time", kind: kindTime, setText: strPtr(func(r *record.Record, s *string) { r.ParentNotificationTime = s })},
	{name: "incident_report_required", kind: kindBool, setBool: func(r *record.Record, v bool) { r.IncidentReportRequired = v }},

	{name: "notes", kind: kindText, setText: strPtr(func(r *record.Record, s *string) { r.Notes = s })},
}

// combinedBPPattern matches two 2-3 digit runs separated by exactly one
// non-digit character, e.g. "120/80" or "120-80".
var combinedBPPattern = regexp.MustCompile(`^\s*(\d{2,3})\D(\d{2,3})\s*$`)

// SplitBloodPressure parses a combined blood pressure display string into
// its systolic and diastolic components. Malformed input yields (nil, nil):
// a bad BP cell degrades to missing vitals rather than failing the row.
func SplitBloodPressure(s string) (systolic, diastolic *int) {
	m := combinedBPPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, nil
	}
	sys, _ := strconv.Atoi(m[1])
	dia, _ := strconv.Atoi(m[2])
	return &sys, &dia
}

// FahrenheitToCelsius converts and rounds to one decimal place, so 98.6 F
// reconciles to exactly 37.0 C.
func FahrenheitToCelsius(f float64) float64 {
	return math.Round((f-32)*5/9*10) / 10
}

// lookup returns the first present, non-empty candidate value for the
// canonical field under the given vocabulary.
func (v *Vocabulary) lookup(row Row, field string) (string, bool) {
	for _, key := range v.aliases[field] {
		if raw, ok := row[key]; ok && raw != "" {
			return raw, true
		}
	}
	return "", false
}

// Reconcile maps a source row onto a canonical record under the given
// vocabulary. It is a pure function of (row, vocab, now): no I/O, no
// mutation of the input. Failures come back as *record.ValidationError
// naming the canonical field and the offending raw value so batch callers
// can report per-row and continue.
func Reconcile(row Row, vocab *Vocabulary, now time.Time) (*record.Record, error) {
	rec := &record.Record{}

	for _, def := range fieldDefs {
		raw, ok := vocab.lookup(row, def.name)
		if !ok {
			if def.required {
				return nil, &record.ValidationError{Field: def.name, Message: "required"}
			}
			continue
		}
		if err := applyField(rec, def, raw, vocab); err != nil {
			return nil, err
		}
	}

	// Combined blood pressure only fills in when the split fields did not.
	if rec.BloodPressureSystolic == nil && rec.BloodPressureDiastolic == nil {
		for _, key := range vocab.combinedBP {
			raw, ok := row[key]
			if !ok || raw == "" {
				continue
			}
			sys, dia := SplitBloodPressure(raw)
			if sys == nil {
				break
			}
			if err := record.CheckVitalRange("blood_pressure_systolic", float64(*sys)); err != nil {
				return nil, err
			}
			if err := record.CheckVitalRange("blood_pressure_diastolic", float64(*dia)); err != nil {
				return nil, err
			}
			rec.BloodPressureSystolic = sys
			rec.BloodPressureDiastolic = dia
			break
		}
	}

	if err := rec.Validate(now); err != nil {
		return nil, err
	}
	return rec, nil
}

// applyField parses one raw value per the field's kind and assigns it.
func applyField(rec *record.Record, def fieldDef, raw string, vocab *Vocabulary) error {
	switch def.kind {
	case kindText:
		def.setText(rec, raw)

	case kindDate:
		// Sources sometimes append a time component ("2024-03-01 00:00:00");
		// only the date part is meaningful.
		datePart, _, _ := strings.Cut(raw, " ")
		if t, err := record.ParseDate(datePart); err == nil {
			def.setText(rec, t.Format(record.DateFormat))
			break
		}
		if def.required {
			return &record.ValidationError{Field: def.name, Value: raw, Message: "invalid date, want YYYY-MM-DD"}
		}
		// Informational dates are kept verbatim rather than dropped.
		def.setText(rec, raw)

	case kindTime:
		if norm, err := record.ParseTime(raw); err == nil {
			def.setText(rec, norm)
			break
		}
		if def.required {
			return &record.ValidationError{Field: def.name, Value: raw, Message: "invalid time, want HH:MM or HH:MM AM/PM"}
		}
		def.setText(rec, raw)

	case kindInt:
		n, err := parseInt(raw)
		if err != nil {
			if def.required {
				return &record.ValidationError{Field: def.name, Value: raw, Message: "invalid integer"}
			}
			break // optional numerics degrade to absent, matching legacy imports
		}
		if err := record.CheckVitalRange(def.name, float64(n)); err != nil {
			return err
		}
		def.setInt(rec, n)

	case kindFloat, kindTemperature:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			if def.required {
				return &record.ValidationError{Field: def.name, Value: raw, Message: "invalid number"}
			}
			break
		}
		if def.kind == kindTemperature && vocab.TemperatureUnit == UnitFahrenheit {
			f = FahrenheitToCelsius(f)
		}
		if err := record.CheckVitalRange(def.name, f); err != nil {
			return err
		}
		def.setFloat(rec, f)

	case kindBool:
		def.setBool(rec, parseBool(raw))
	}
	return nil
}

func parseInt(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	// Spreadsheet cells frequently render integers as "72.0".
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "y", "1":
		return true
	}
	return false
}
