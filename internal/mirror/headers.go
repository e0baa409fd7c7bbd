// Package mirror translates between canonical records and the tabular
// workbook layout: export writes one fixed, ordered header list; import
// accepts that layout plus the legacy batch-tool layout, feeding each data
// row through the field reconciler.
package mirror

import (
	"strconv"

	"github.com/clinichq/nurselog/internal/domain/record"
	"github.com/clinichq/nurselog/internal/reconcile"
)

// SheetName is the worksheet holding records.
const SheetName = "Health Records"

// exportColumn pairs a display header with the formatter producing its
// cell from a canonical record. Missing values render as empty cells,
// never a literal null marker.
type exportColumn struct {
	header string
	value  func(*record.Record) string
}

// exportColumns is the authoritative export layout. Blood pressure is
// re-combined into one "sys/dia" display cell; the split columns exist
// only in canonical storage.
var exportColumns = []exportColumn{
	{"Patient ID", func(r *record.Record) string { return r.PatientID }},

	{"Full Name", func(r *record.Record) string { return r.FullName }},
	{"Date of Birth", optStr(func(r *record.Record) *string { return r.DateOfBirth })},
	{"Age", optInt(func(r *record.Record) *int { return r.Age })},
	{"Gender", optStr(func(r *record.Record) *string { return r.Gender })},
	{"Grade/Year Level", optStr(func(r *record.Record) *string { return r.GradeLevel })},

	{"Parent/Guardian Name", optStr(func(r *record.Record) *string { return r.ParentPrimaryName })},
	{"Parent/Guardian Phone", optStr(func(r *record.Record) *string { return r.ParentPrimaryPhone })},
	{"Emergency Contact Name", optStr(func(r *record.Record) *string { return r.EmergencyContactName })},
	{"Emergency Contact Phone", optStr(func(r *record.Record) *string { return r.EmergencyContactPhone })},

	{"Academic Year", optStr(func(r *record.Record) *string { return r.AcademicYear })},
	{"Academic Term", optStr(func(r *record.Record) *string { return r.AcademicTerm })},
	{"Date of Visit", func(r *record.Record) string { return r.DateOfVisit }},
	{"Time of Visit", func(r *record.Record) string { return r.TimeOfVisit }},
	{"Brought In By", optStr(func(r *record.Record) *string { return r.BroughtInBy })},
	{"Nurse Name", func(r *record.Record) string { return r.NurseName }},
	{"Visit Reason Category", func(r *record.Record) string { return r.VisitReasonCategory }},
	{"Severity Level", optStr(func(r *record.Record) *string { return r.SeverityLevel })},
	{"Visit Details", optStr(func(r *record.Record) *string { return r.VisitDetails })},

	{"Temperature (°C)", optFloat(func(r *record.Record) *float64 { return r.Temperature })},
	{"Pulse (bpm)", optInt(func(r *record.Record) *int { return r.HeartRate })},
	{"Respiratory Rate (cpm)", optInt(func(r *record.Record) *int { return r.RespiratoryRate })},
	{"Oxygen Saturation (%)", optFloat(func(r *record.Record) *float64 { return r.OxygenSaturation })},
	{"Blood Pressure (mmHg)", combinedBP},

	{"Presenting Complaint(s)", optStr(func(r *record.Record) *string { return r.PresentingComplaints })},
	{"Other Complaint Details", optStr(func(r *record.Record) *string { return r.OtherComplaintDetails })},
	{"Complaint Background", optStr(func(r *record.Record) *string { return r.ComplaintBackground })},

	{"Past Medical History", optStr(func(r *record.Record) *string { return r.PastMedicalHistory })},
	{"Known Allergies", optStr(func(r *record.Record) *string { return r.KnownAllergies })},
	{"Current Medications", optStr(func(r *record.Record) *string { return r.CurrentMedications })},
	{"Special Medical Needs", func(r *record.Record) string { return yesNo(r.SpecialMedicalNeeds) }},
	{"Chronic Conditions", optStr(func(r *record.Record) *string { return r.ChronicConditions })},

	{"Nurse Observations", optStr(func(r *record.Record) *string { return r.NurseObservations })},
	{"Interventions Provided", optStr(func(r *record.Record) *string { return r.InterventionsProvided })},
	{"Medications Administered", optStr(func(r *record.Record) *string { return r.MedicationsAdministered })},
	{"Next Step(s)", optStr(func(r *record.Record) *string { return r.NextSteps })},
	{"Other Next Step Details", optStr(func(r *record.Record) *string { return r.OtherNextStepDetails })},
	{"Referral Type", optStr(func(r *record.Record) *string { return r.ReferralType })},
	{"Follow-up Date", optStr(func(r *record.Record) *string { return r.FollowUpDate })},

	{"Admission Date", optStr(func(r *record.Record) *string { return r.AdmissionDate })},
	{"Admission Time", optStr(func(r *record.Record) *string { return r.AdmissionTime })},
	{"Condition on Admission", optStr(func(r *record.Record) *string { return r.ConditionOnAdmission })},
	{"Plan of Care", optStr(func(r *record.Record) *string { return r.PlanOfCare })},

	{"Discharge Time", optStr(func(r *record.Record) *string { return r.DischargeTime })},
	{"Condition at Discharge", optStr(func(r *record.Record) *string { return r.ConditionAtDischarge })},
	{"Discharge Instructions", optStr(func(r *record.Record) *string { return r.DischargeInstructions })},
	{"Return to Class Time", optStr(func(r *record.Record) *string { return r.ReturnToClassTime })},
	{"Parent Notified", func(r *record.Record) string { return yesNo(r.ParentNotified) }},
	{"Parent Notification Time", optStr(func(r *record.Record) *string { return r.ParentNotificationTime })},
	{"Incident Report Required", func(r *record.Record) string { return yesNo(r.IncidentReportRequired) }},

	{"Notes", optStr(func(r *record.Record) *string { return r.Notes })},
	{"Created At", func(r *record.Record) string { return r.CreatedAt.Format("2006-01-02 15:04:05") }},
	{"Updated At", func(r *record.Record) string { return r.UpdatedAt.Format("2006-01-02 15:04:05") }},
}

// Headers returns the export header row in order.
func Headers() []string {
	hs := make([]string, len(exportColumns))
	for i, c := range exportColumns {
		hs[i] = c.header
	}
	return hs
}

func optStr(get func(*record.Record) *string) func(*record.Record) string {
	return func(r *record.Record) string {
		if v := get(r); v != nil {
			return *v
		}
		return ""
	}
}

func optInt(get func(*record.Record) *int) func(*record.Record) string {
	return func(r *record.Record) string {
		if v := get(r); v != nil {
			return strconv.Itoa(*v)
		}
		return ""
	}
}

func optFloat(get func(*record.Record) *float64) func(*record.Record) string {
	return func(r *record.Record) string {
		if v := get(r); v != nil {
			return strconv.FormatFloat(*v, 'f', -1, 64)
		}
		return ""
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func combinedBP(r *record.Record) string {
	if r.BloodPressureSystolic == nil || r.BloodPressureDiastolic == nil {
		return ""
	}
	return strconv.Itoa(*r.BloodPressureSystolic) + "/" + strconv.Itoa(*r.BloodPressureDiastolic)
}

// DetectVocabulary picks the reconciliation vocabulary matching an import
// header row: workbooks from the old batch tool name their nurse column
// "Nurse Name/ID", everything else reads as the current layout.
func DetectVocabulary(headers []string) *reconcile.Vocabulary {
	for _, h := range headers {
		if reconcile.NormalizeKey(h) == "nurse_name_id" {
			return reconcile.SpreadsheetLegacy
		}
	}
	return reconcile.Spreadsheet
}
