// Package record defines the canonical visit record: the single normalized
// shape every external representation (form payload, spreadsheet row, legacy
// database column set) is reconciled into before storage.
package record

import (
	"fmt"
	"time"
)

// VisitReason is the closed set of visit reason categories.
type VisitReason string

const (
	ReasonIllness      VisitReason = "Illness"
	ReasonInjury       VisitReason = "Injury"
	ReasonMedication   VisitReason = "Medication"
	ReasonRoutineCheck VisitReason = "Routine Check"
	ReasonFollowUp     VisitReason = "Follow-up"
	ReasonOther        VisitReason = "Other"
)

// Severity is the optional severity classification of a visit.
type Severity string

const (
	SeverityMild     Severity = "Mild"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
	SeverityCritical Severity = "Critical"
)

// DateFormat and TimeFormat are the canonical wire formats for dates and
// times of day. Times of day additionally accept a 12-hour clock on input.
const (
	DateFormat     = "2006-01-02"
	TimeFormat     = "15:04"
	TimeFormat12hr = "3:04 PM"
)

// Record is the canonical visit record. Heart rate is always heart_rate
// (never pulse), blood pressure is always two integers (never a combined
// "120/80" string), and temperature is always Celsius. Optional fields are
// pointers; dates are YYYY-MM-DD strings and times HH:MM strings.
type Record struct {
	// Identity. ID is the store-assigned surrogate key.
	ID        int64  `json:"id"`
	PatientID string `json:"patient_id"`

	// Demographics
	FullName    string  `json:"full_name"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Age         *int    `json:"age,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	GradeLevel  *string `json:"grade_level,omitempty"`

	// Contacts
	ParentPrimaryName     *string `json:"parent_primary_name,omitempty"`
	ParentPrimaryPhone    *string `json:"parent_primary_phone,omitempty"`
	EmergencyContactName  *string `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string `json:"emergency_contact_phone,omitempty"`

	// Visit
	AcademicYear        *string `json:"academic_year,omitempty"`
	AcademicTerm        *string `json:"academic_term,omitempty"`
	DateOfVisit         string  `json:"date_of_visit"`
	TimeOfVisit         string  `json:"time_of_visit"`
	BroughtInBy         *string `json:"brought_in_by,omitempty"`
	NurseName           string  `json:"nurse_name"`
	VisitReasonCategory string  `json:"visit_reason_category"`
	SeverityLevel       *string `json:"severity_level,omitempty"`
	VisitDetails        *string `json:"visit_details,omitempty"`

	// Vitals. Temperature is Celsius, height inches, weight pounds.
	Temperature            *float64 `json:"temperature,omitempty"`
	HeartRate              *int     `json:"heart_rate,omitempty"`
	RespiratoryRate        *int     `json:"respiratory_rate,omitempty"`
	OxygenSaturation       *float64 `json:"oxygen_saturation,omitempty"`
	BloodPressureSystolic  *int     `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *int     `json:"blood_pressure_diastolic,omitempty"`
	Height                 *float64 `json:"height,omitempty"`
	Weight                 *float64 `json:"weight,omitempty"`
	BMI                    *float64 `json:"bmi,omitempty"`
	PainScale              *int     `json:"pain_scale,omitempty"`
	PainLocation           *string  `json:"pain_location,omitempty"`

	// Presenting complaints
	PresentingComplaints  *string `json:"presenting_complaints,omitempty"`
	OtherComplaintDetails *string `json:"other_complaint_details,omitempty"`
	ComplaintBackground   *string `json:"complaint_background,omitempty"`

	// Medical history
	PastMedicalHistory  *string `json:"past_medical_history,omitempty"`
	KnownAllergies      *string `json:"known_allergies,omitempty"`
	CurrentMedications  *string `json:"current_medications,omitempty"`
	SpecialMedicalNeeds bool    `json:"special_medical_needs"`
	ChronicConditions   *string `json:"chronic_conditions,omitempty"`

	// Assessment and care
	NurseObservations       *string `json:"nurse_observations,omitempty"`
	InterventionsProvided   *string `json:"interventions_provided,omitempty"`
	MedicationsAdministered *string `json:"medications_administered,omitempty"`
	NextSteps               *string `json:"next_steps,omitempty"`
	OtherNextStepDetails    *string `json:"other_next_step_details,omitempty"`
	ReferralType            *string `json:"referral_type,omitempty"`
	FollowUpDate            *string `json:"follow_up_date,omitempty"`

	// Sick bay admission
	AdmissionDate        *string `json:"admission_date,omitempty"`
	AdmissionTime        *string `json:"admission_time,omitempty"`
	ConditionOnAdmission *string `json:"condition_on_admission,omitempty"`
	PlanOfCare           *string `json:"plan_of_care,omitempty"`

	// Discharge
	DischargeTime          *string `json:"discharge_time,omitempty"`
	ConditionAtDischarge   *string `json:"condition_at_discharge,omitempty"`
	DischargeInstructions  *string `json:"discharge_instructions,omitempty"`
	ReturnToClassTime      *string `json:"return_to_class_time,omitempty"`
	ParentNotified         bool    `json:"parent_notified"`
	ParentNotificationTime *string `json:"parent_notification_time,omitempty"`
	IncidentReportRequired bool    `json:"incident_report_required"`

	// System
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// visitReasons is the accepted set for the required reason category.
var visitReasons = map[VisitReason]bool{
	ReasonIllness:      true,
	ReasonInjury:       true,
	ReasonMedication:   true,
	ReasonRoutineCheck: true,
	ReasonFollowUp:     true,
	ReasonOther:        true,
}

var severities = map[Severity]bool{
	SeverityMild:     true,
	SeverityModerate: true,
	SeveritySevere:   true,
	SeverityCritical: true,
}

// ValidVisitReason reports whether s is one of the accepted reason categories.
func ValidVisitReason(s string) bool { return visitReasons[VisitReason(s)] }

// ValidSeverity reports whether s is one of the accepted severity levels.
func ValidSeverity(s string) bool { return severities[Severity(s)] }

// vitalRange bounds a numeric vital after unit normalization.
type vitalRange struct {
	min, max float64
}

// Server-side ranges; these are part of the reconciliation contract, not UI
// hints. Temperature bounds are Celsius (90-110 F input converts first).
var vitalRanges = map[string]vitalRange{
	"age":                      {0, 30},
	"temperature":              {32.0, 43.5},
	"heart_rate":               {30, 250},
	"respiratory_rate":         {5, 60},
	"oxygen_saturation":        {70, 100},
	"blood_pressure_systolic":  {70, 200},
	"blood_pressure_diastolic": {40, 120},
	"height":                   {20, 100},
	"weight":                   {10, 1000},
	"bmi":                      {10, 60},
	"pain_scale":               {0, 10},
}

// CheckVitalRange validates a normalized numeric value for the named canonical
// field. Fields without a registered range always pass.
func CheckVitalRange(field string, value float64) error {
	r, ok := vitalRanges[field]
	if !ok {
		return nil
	}
	if value < r.min || value > r.max {
		return &ValidationError{
			Field:   field,
			Value:   fmt.Sprintf("%g", value),
			Message: fmt.Sprintf("out of range %g-%g", r.min, r.max),
		}
	}
	return nil
}

// ParseDate parses a canonical YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// ParseTime parses a time of day, accepting 24-hour HH:MM or 12-hour
// HH:MM AM/PM, and returns it normalized to 24-hour HH:MM.
func ParseTime(s string) (string, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t.Format(TimeFormat), nil
	}
	t, err := time.Parse(TimeFormat12hr, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: want HH:MM or HH:MM AM/PM", s)
	}
	return t.Format(TimeFormat), nil
}

// Validate checks the invariants a canonical record must satisfy before it
// reaches the store: required fields populated, visit date parseable and not
// in the future relative to now, times parseable, vitals within range.
func (r *Record) Validate(now time.Time) error {
	if r.FullName == "" {
		return &ValidationError{Field: "full_name", Message: "required"}
	}
	if r.NurseName == "" {
		return &ValidationError{Field: "nurse_name", Message: "required"}
	}
	if r.VisitReasonCategory == "" {
		return &ValidationError{Field: "visit_reason_category", Message: "required"}
	}
	if !ValidVisitReason(r.VisitReasonCategory) {
		return &ValidationError{Field: "visit_reason_category", Value: r.VisitReasonCategory, Message: "unknown visit reason"}
	}
	if r.SeverityLevel != nil && *r.SeverityLevel != "" && !ValidSeverity(*r.SeverityLevel) {
		return &ValidationError{Field: "severity_level", Value: *r.SeverityLevel, Message: "unknown severity level"}
	}

	if r.DateOfVisit == "" {
		return &ValidationError{Field: "date_of_visit", Message: "required"}
	}
	visit, err := ParseDate(r.DateOfVisit)
	if err != nil {
		return &ValidationError{Field: "date_of_visit", Value: r.DateOfVisit, Message: "invalid date, want YYYY-MM-DD"}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if visit.After(today) {
		return &ValidationError{Field: "date_of_visit", Value: r.DateOfVisit, Message: "date cannot be in the future"}
	}

	if r.TimeOfVisit == "" {
		return &ValidationError{Field: "time_of_visit", Message: "required"}
	}
	if _, err := time.Parse(TimeFormat, r.TimeOfVisit); err != nil {
		return &ValidationError{Field: "time_of_visit", Value: r.TimeOfVisit, Message: "invalid time, want HH:MM"}
	}

	for field, v := range map[string]*int{
		"age":                      r.Age,
		"heart_rate":               r.HeartRate,
		"respiratory_rate":         r.RespiratoryRate,
		"blood_pressure_systolic":  r.BloodPressureSystolic,
		"blood_pressure_diastolic": r.BloodPressureDiastolic,
		"pain_scale":               r.PainScale,
	} {
		if v == nil {
			continue
		}
		if err := CheckVitalRange(field, float64(*v)); err != nil {
			return err
		}
	}
	for field, v := range map[string]*float64{
		"temperature":       r.Temperature,
		"oxygen_saturation": r.OxygenSaturation,
		"height":            r.Height,
		"weight":            r.Weight,
		"bmi":               r.BMI,
	} {
		if v == nil {
			continue
		}
		if err := CheckVitalRange(field, *v); err != nil {
			return err
		}
	}
	return nil
}
