package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/clinichq/nurselog/internal/domain/record"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func formRow(overrides map[string]string) Row {
	base := map[string]string{
		"full_name":             "Jamie Cruz",
		"date_of_visit":         "2024-03-01",
		"time_of_visit":         "09:30",
		"nurse_name":            "Nurse Rivera",
		"visit_reason_category": "Illness",
	}
	for k, v := range overrides {
		base[k] = v
	}
	return NewRow(base)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Pulse (bpm)", "pulse_bpm"},
		{"pulse_bpm", "pulse_bpm"},
		{"Temperature (°C)", "temperature_c"},
		{"Blood Pressure (mmHg)", "blood_pressure_mmhg"},
		{"Nurse Name/ID", "nurse_name_id"},
		{"  Full Name  ", "full_name"},
		{"Presenting Complaint(s)", "presenting_complaint_s"},
		{"Parent Notification (Yes/No)", "parent_notification_yes_no"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFahrenheitToCelsius(t *testing.T) {
	tests := []struct {
		f, c float64
	}{
		{98.6, 37.0},
		{32, 0},
		{104, 40},
		{100.4, 38.0},
		{95, 35},
	}
	for _, tt := range tests {
		if got := FahrenheitToCelsius(tt.f); got != tt.c {
			t.Errorf("FahrenheitToCelsius(%g) = %g, want %g", tt.f, got, tt.c)
		}
	}
}

func TestSplitBloodPressure(t *testing.T) {
	tests := []struct {
		in       string
		sys, dia int
		ok       bool
	}{
		{"120/80", 120, 80, true},
		{"95-65", 95, 65, true},
		{" 110/70 ", 110, 70, true},
		{"abc", 0, 0, false},
		{"120/", 0, 0, false},
		{"/80", 0, 0, false},
		{"120/80/90", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		sys, dia := SplitBloodPressure(tt.in)
		if tt.ok {
			if sys == nil || dia == nil {
				t.Errorf("SplitBloodPressure(%q) = nil, want %d/%d", tt.in, tt.sys, tt.dia)
				continue
			}
			if *sys != tt.sys || *dia != tt.dia {
				t.Errorf("SplitBloodPressure(%q) = %d/%d, want %d/%d", tt.in, *sys, *dia, tt.sys, tt.dia)
			}
		} else if sys != nil || dia != nil {
			t.Errorf("SplitBloodPressure(%q): expected nil for malformed input", tt.in)
		}
	}
}

func TestReconcileFormConvertsTemperature(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{"temperature": "98.6"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.Temperature == nil || *rec.Temperature != 37.0 {
		t.Errorf("temperature = %v, want 37.0", rec.Temperature)
	}
}

func TestReconcilePulseAlias(t *testing.T) {
	// The same reading under either name lands on heart_rate.
	withPulse, err := Reconcile(formRow(map[string]string{"pulse": "72"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile with pulse failed: %v", err)
	}
	withHeartRate, err := Reconcile(formRow(map[string]string{"heart_rate": "72"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile with heart_rate failed: %v", err)
	}

	for name, rec := range map[string]*record.Record{"pulse": withPulse, "heart_rate": withHeartRate} {
		if rec.HeartRate == nil || *rec.HeartRate != 72 {
			t.Errorf("%s: HeartRate = %v, want 72", name, rec.HeartRate)
		}
	}
}

func TestReconcileVisitReasonAlias(t *testing.T) {
	row := formRow(nil)
	delete(row, "visit_reason_category")
	row["visit_reason"] = "Injury"

	rec, err := Reconcile(row, Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.VisitReasonCategory != "Injury" {
		t.Errorf("VisitReasonCategory = %q, want Injury", rec.VisitReasonCategory)
	}
}

func TestReconcileCombinedBloodPressure(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{"blood_pressure": "120/80"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.BloodPressureSystolic == nil || *rec.BloodPressureSystolic != 120 {
		t.Errorf("systolic = %v, want 120", rec.BloodPressureSystolic)
	}
	if rec.BloodPressureDiastolic == nil || *rec.BloodPressureDiastolic != 80 {
		t.Errorf("diastolic = %v, want 80", rec.BloodPressureDiastolic)
	}
}

func TestReconcileMalformedBloodPressureDegrades(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{"blood_pressure": "high"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.BloodPressureSystolic != nil || rec.BloodPressureDiastolic != nil {
		t.Error("malformed combined blood pressure should leave both fields absent")
	}
}

func TestReconcileSplitFieldsWinOverCombined(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{
		"blood_pressure_systolic":  "130",
		"blood_pressure_diastolic": "85",
		"blood_pressure":           "120/80",
	}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if *rec.BloodPressureSystolic != 130 || *rec.BloodPressureDiastolic != 85 {
		t.Errorf("got %d/%d, want the split fields 130/85",
			*rec.BloodPressureSystolic, *rec.BloodPressureDiastolic)
	}
}

func TestReconcileMissingRequiredField(t *testing.T) {
	for _, field := range []string{"full_name", "date_of_visit", "time_of_visit", "nurse_name", "visit_reason_category"} {
		row := formRow(nil)
		delete(row, field)

		_, err := Reconcile(row, Form, testNow)
		var verr *record.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %v", field, err)
			continue
		}
		if verr.Field != field {
			t.Errorf("error field = %q, want %q", verr.Field, field)
		}
	}
}

func TestReconcileOutOfRangeVital(t *testing.T) {
	_, err := Reconcile(formRow(map[string]string{"heart_rate": "300"}), Form, testNow)
	var verr *record.ValidationError
	if !errors.As(err, &verr) || verr.Field != "heart_rate" {
		t.Fatalf("expected heart_rate range error, got %v", err)
	}
}

func TestReconcileSpreadsheetIntegerCells(t *testing.T) {
	// xlsx cells often render integers with a trailing ".0".
	rec, err := Reconcile(formRow(map[string]string{"heart_rate": "72.0", "age": "10.0"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.HeartRate == nil || *rec.HeartRate != 72 {
		t.Errorf("HeartRate = %v, want 72", rec.HeartRate)
	}
	if rec.Age == nil || *rec.Age != 10 {
		t.Errorf("Age = %v, want 10", rec.Age)
	}
}

func TestReconcileOptionalGarbageDegrades(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{
		"heart_rate":     "fast",
		"temperature":    "warm",
		"follow_up_date": "next week",
	}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.HeartRate != nil || rec.Temperature != nil {
		t.Error("unparsable optional numerics should be dropped")
	}
	// Informational dates are kept verbatim.
	if rec.FollowUpDate == nil || *rec.FollowUpDate != "next week" {
		t.Errorf("FollowUpDate = %v, want the raw value preserved", rec.FollowUpDate)
	}
}

func TestReconcileDateWithTimeComponent(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{"date_of_visit": "2024-03-01 00:00:00"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.DateOfVisit != "2024-03-01" {
		t.Errorf("DateOfVisit = %q, want 2024-03-01", rec.DateOfVisit)
	}
}

func TestReconcileTwelveHourTime(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{"time_of_visit": "1:30 PM"}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.TimeOfVisit != "13:30" {
		t.Errorf("TimeOfVisit = %q, want 13:30", rec.TimeOfVisit)
	}
}

func TestReconcileBooleanFields(t *testing.T) {
	rec, err := Reconcile(formRow(map[string]string{
		"parent_notified":          "Yes",
		"special_medical_needs":    "no",
		"incident_report_required": "TRUE",
	}), Form, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !rec.ParentNotified || rec.SpecialMedicalNeeds || !rec.IncidentReportRequired {
		t.Errorf("booleans = %v/%v/%v, want true/false/true",
			rec.ParentNotified, rec.SpecialMedicalNeeds, rec.IncidentReportRequired)
	}
}

func TestReconcileLegacySpreadsheetHeaders(t *testing.T) {
	// Raw headers as the old batch tool wrote them.
	row := NewRow(map[string]string{
		"Full Name":             "Sam Okafor",
		"Grade/Year Level":      "Grade 5",
		"Date of Visit":         "2024-02-10",
		"Time of Visit":         "10:15",
		"Nurse Name/ID":         "Nurse Adeyemi",
		"Visit Reason Category": "Injury",
		"Temperature (°C)":      "36.8",
		"Pulse (bpm)":           "88",
		"Blood Pressure (mmHg)": "110/70",
		"Parent Notification (Yes/No)": "Yes",
		"Notes/Comments":               "scraped knee at recess",
	})

	rec, err := Reconcile(row, SpreadsheetLegacy, testNow)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if rec.FullName != "Sam Okafor" {
		t.Errorf("FullName = %q", rec.FullName)
	}
	if rec.GradeLevel == nil || *rec.GradeLevel != "Grade 5" {
		t.Errorf("GradeLevel = %v", rec.GradeLevel)
	}
	if rec.NurseName != "Nurse Adeyemi" {
		t.Errorf("NurseName = %q", rec.NurseName)
	}
	// Celsius source: stored as-is, no conversion.
	if rec.Temperature == nil || *rec.Temperature != 36.8 {
		t.Errorf("Temperature = %v, want 36.8", rec.Temperature)
	}
	if rec.HeartRate == nil || *rec.HeartRate != 88 {
		t.Errorf("HeartRate = %v, want 88", rec.HeartRate)
	}
	if rec.BloodPressureSystolic == nil || *rec.BloodPressureSystolic != 110 {
		t.Errorf("systolic = %v, want 110", rec.BloodPressureSystolic)
	}
	if !rec.ParentNotified {
		t.Error("ParentNotified = false, want true")
	}
	if rec.Notes == nil || *rec.Notes != "scraped knee at recess" {
		t.Errorf("Notes = %v", rec.Notes)
	}
}

func TestByName(t *testing.T) {
	for _, v := range []*Vocabulary{Form, Spreadsheet, SpreadsheetLegacy, DBV1, DBV2} {
		got, ok := ByName(v.Name)
		if !ok || got != v {
			t.Errorf("ByName(%q) lookup failed", v.Name)
		}
	}
	if _, ok := ByName("unknown"); ok {
		t.Error("ByName accepted an unknown vocabulary name")
	}
}
