// Package store provides durable keyed storage for canonical visit records
// on a local SQLite database, plus the schema migrator that brings legacy
// stores forward to the canonical column set.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/domain/record"
)

// Store-level failures. Callers regenerate and retry on a duplicate patient
// ID; not-found surfaces as a user-visible outcome, never a crash.
var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicatePatientID = errors.New("patient id already exists")
)

// createIDAttempts bounds generation retries when a store-generated patient
// ID collides with an existing one.
const createIDAttempts = 5

// Store is a SQLite-backed record store. Single writer; WAL keeps readers
// unblocked.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// Open opens (creating if needed) the database at path and ensures the
// canonical schema. Open does not migrate legacy schemas; run Migrate first
// on stores that may predate the canonical column set.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

const canonicalSchema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_id TEXT NOT NULL UNIQUE,

	full_name TEXT NOT NULL,
	date_of_birth TEXT,
	age INTEGER,
	gender TEXT,
	grade_level TEXT,

	parent_primary_name TEXT,
	parent_primary_phone TEXT,
	emergency_contact_name TEXT,
	emergency_contact_phone TEXT,

	academic_year TEXT,
	academic_term TEXT,
	date_of_visit TEXT NOT NULL,
	time_of_visit TEXT NOT NULL,
	brought_in_by TEXT,
	nurse_name TEXT NOT NULL,
	visit_reason_category TEXT NOT NULL,
	severity_level TEXT,
	visit_details TEXT,

	temperature REAL,
	heart_rate INTEGER,
	respiratory_rate INTEGER,
	oxygen_saturation REAL,
	blood_pressure_systolic INTEGER,
	blood_pressure_diastolic INTEGER,
	height REAL,
	weight REAL,
	bmi REAL,
	pain_scale INTEGER,
	pain_location TEXT,

	presenting_complaints TEXT,
	other_complaint_details TEXT,
	complaint_background TEXT,

	past_medical_history TEXT,
	known_allergies TEXT,
	current_medications TEXT,
	special_medical_needs INTEGER NOT NULL DEFAULT 0,
	chronic_conditions TEXT,

	nurse_observations TEXT,
	interventions_provided TEXT,
	medications_administered TEXT,
	next_steps TEXT,
	other_next_step_details TEXT,
	referral_type TEXT,
	follow_up_date TEXT,

	admission_date TEXT,
	admission_time TEXT,
	condition_on_admission TEXT,
	plan_of_care TEXT,

	discharge_time TEXT,
	condition_at_discharge TEXT,
	discharge_instructions TEXT,
	return_to_class_time TEXT,
	parent_notified INTEGER NOT NULL DEFAULT 0,
	parent_notification_time TEXT,
	incident_report_required INTEGER NOT NULL DEFAULT 0,

	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_patient_id ON records(patient_id);
CREATE INDEX IF NOT EXISTS idx_records_full_name ON records(full_name);
CREATE INDEX IF NOT EXISTS idx_records_date_of_visit ON records(date_of_visit);
`

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(canonicalSchema)
	return err
}

// recordColumns lists every column except the surrogate id, in the order
// recordValues and scanRecord use.
var recordColumns = []string{
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
	"notes", "created_at", "updated_at",
}

func recordValues(r *record.Record) []any {
	return []any{
		r.PatientID,
		r.FullName, r.DateOfBirth, r.Age, r.Gender, r.GradeLevel,
		r.ParentPrimaryName, r.ParentPrimaryPhone,
		r.EmergencyContactName, r.EmergencyContactPhone,
		r.AcademicYear, r.AcademicTerm, r.DateOfVisit, r.TimeOfVisit,
		r.BroughtInBy, r.NurseName, r.VisitReasonCategory,
		r.SeverityLevel, r.VisitDetails,
		r.Temperature, r.HeartRate, r.RespiratoryRate, r.OxygenSaturation,
		r.BloodPressureSystolic, r.BloodPressureDiastolic,
		r.Height, r.Weight, r.BMI, r.PainScale, r.PainLocation,
		r.PresentingComplaints, r.OtherComplaintDetails, r.ComplaintBackground,
		r.PastMedicalHistory, r.KnownAllergies, r.CurrentMedications,
		r.SpecialMedicalNeeds, r.ChronicConditions,
		r.NurseObservations, r.InterventionsProvided, r.MedicationsAdministered,
		r.NextSteps, r.OtherNextStepDetails, r.ReferralType, r.FollowUpDate,
		r.AdmissionDate, r.AdmissionTime, r.ConditionOnAdmission, r.PlanOfCare,
		r.DischargeTime, r.ConditionAtDischarge, r.DischargeInstructions,
		r.ReturnToClassTime, r.ParentNotified, r.ParentNotificationTime,
		r.IncidentReportRequired,
		r.Notes, r.CreatedAt, r.UpdatedAt,
	}
}

// scanTargets mirrors recordColumns with an `id` column prepended.
func scanTargets(r *record.Record) []any {
	return append([]any{&r.ID}, []any{
		&r.PatientID,
		&r.FullName, &r.DateOfBirth, &r.Age, &r.Gender, &r.GradeLevel,
		&r.ParentPrimaryName, &r.ParentPrimaryPhone,
		&r.EmergencyContactName, &r.EmergencyContactPhone,
		&r.AcademicYear, &r.AcademicTerm, &r.DateOfVisit, &r.TimeOfVisit,
		&r.BroughtInBy, &r.NurseName, &r.VisitReasonCategory,
		&r.SeverityLevel, &r.VisitDetails,
		&r.Temperature, &r.HeartRate, &r.RespiratoryRate, &r.OxygenSaturation,
		&r.BloodPressureSystolic, &r.BloodPressureDiastolic,
		&r.Height, &r.Weight, &r.BMI, &r.PainScale, &r.PainLocation,
		&r.PresentingComplaints, &r.OtherComplaintDetails, &r.ComplaintBackground,
		&r.PastMedicalHistory, &r.KnownAllergies, &r.CurrentMedications,
		&r.SpecialMedicalNeeds, &r.ChronicConditions,
		&r.NurseObservations, &r.InterventionsProvided, &r.MedicationsAdministered,
		&r.NextSteps, &r.OtherNextStepDetails, &r.ReferralType, &r.FollowUpDate,
		&r.AdmissionDate, &r.AdmissionTime, &r.ConditionOnAdmission, &r.PlanOfCare,
		&r.DischargeTime, &r.ConditionAtDischarge, &r.DischargeInstructions,
		&r.ReturnToClassTime, &r.ParentNotified, &r.ParentNotificationTime,
		&r.IncidentReportRequired,
		&r.Notes, &r.CreatedAt, &r.UpdatedAt,
	}...)
}

var selectColumns = "id, " + strings.Join(recordColumns, ", ")

// visitOrder sorts most recent visit first; id tie-breaks by insertion
// order for equal date and time.
const visitOrder = "ORDER BY date_of_visit DESC, time_of_visit DESC, id ASC"

func insertPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Create validates and persists a new record. A missing patient ID is
// generated here; generation retries a few times on collision, but a
// caller-supplied duplicate fails immediately with ErrDuplicatePatientID.
// Timestamps are store-assigned.
func (s *Store) Create(ctx context.Context, rec *record.Record) error {
	now := s.now()
	if err := rec.Validate(now); err != nil {
		return err
	}

	generated := rec.PatientID == ""
	attempts := 1
	if generated {
		attempts = createIDAttempts
	}

	rec.CreatedAt = now
	rec.UpdatedAt = now

	query := fmt.Sprintf("INSERT INTO records (%s) VALUES (%s)",
		strings.Join(recordColumns, ", "), insertPlaceholders(len(recordColumns)))

	for i := 0; i < attempts; i++ {
		if generated {
			rec.PatientID = record.NewPatientID(now)
		}
		res, err := s.db.ExecContext(ctx, query, recordValues(rec)...)
		if err == nil {
			rec.ID, _ = res.LastInsertId()
			s.logger.Info("record created",
				zap.String("patient_id", rec.PatientID),
				zap.String("date_of_visit", rec.DateOfVisit),
			)
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("insert record: %w", err)
		}
		if !generated {
			return fmt.Errorf("patient id %q: %w", rec.PatientID, ErrDuplicatePatientID)
		}
		s.logger.Warn("generated patient id collided, retrying", zap.String("patient_id", rec.PatientID))
	}
	return fmt.Errorf("patient id generation exhausted %d attempts: %w", attempts, ErrDuplicatePatientID)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Get returns the record with the given surrogate id.
func (s *Store) Get(ctx context.Context, id int64) (*record.Record, error) {
	return s.getWhere(ctx, s.db, "id = ?", id)
}

// GetByPatientID returns the record with the given patient id.
func (s *Store) GetByPatientID(ctx context.Context, patientID string) (*record.Record, error) {
	return s.getWhere(ctx, s.db, "patient_id = ?", patientID)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx so reads can run
// inside or outside a transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getWhere(ctx context.Context, q rowQuerier, where string, arg any) (*record.Record, error) {
	rec := &record.Record{}
	row := q.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM records WHERE "+where, arg)
	if err := row.Scan(scanTargets(rec)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// updatableColumns are the columns a partial update may touch. Identity
// and bookkeeping columns are off limits: patient_id is immutable once
// assigned and timestamps are store-owned.
var updatableColumns = func() map[string]bool {
	m := make(map[string]bool, len(recordColumns))
	for _, c := range recordColumns {
		m[c] = true
	}
	delete(m, "patient_id")
	delete(m, "created_at")
	delete(m, "updated_at")
	return m
}()

// Update merges the given canonical-column changes into an existing record
// and refreshes updated_at. Unknown or protected columns are rejected with
// a ValidationError before anything is written, and a merge that leaves the
// record invalid is rolled back rather than committed.
func (s *Store) Update(ctx context.Context, patientID string, changes map[string]any) (*record.Record, error) {
	if len(changes) == 0 {
		return s.GetByPatientID(ctx, patientID)
	}

	setClauses := make([]string, 0, len(changes)+1)
	args := make([]any, 0, len(changes)+2)
	for col, val := range changes {
		if !updatableColumns[col] {
			return nil, &record.ValidationError{Field: col, Message: "not an updatable field"}
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.now(), patientID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE records SET "+strings.Join(setClauses, ", ")+" WHERE patient_id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	// The merged row must still satisfy the canonical invariants before
	// the transaction commits; a failing change rolls back untouched.
	updated, err := s.getWhere(ctx, tx, "patient_id = ?", patientID)
	if err != nil {
		return nil, err
	}
	if err := updated.Validate(s.now()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	s.logger.Info("record updated", zap.String("patient_id", patientID))
	return updated, nil
}

// Replace overwrites every updatable field of an existing record from rec,
// preserving the stored patient_id and created_at and refreshing
// updated_at.
func (s *Store) Replace(ctx context.Context, patientID string, rec *record.Record) (*record.Record, error) {
	if err := rec.Validate(s.now()); err != nil {
		return nil, err
	}

	setClauses := make([]string, 0, len(recordColumns))
	args := make([]any, 0, len(recordColumns)+1)
	values := recordValues(rec)
	for i, col := range recordColumns {
		if !updatableColumns[col] {
			continue
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, values[i])
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, s.now(), patientID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET "+strings.Join(setClauses, ", ")+" WHERE patient_id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("replace record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	s.logger.Info("record replaced", zap.String("patient_id", patientID))
	return s.GetByPatientID(ctx, patientID)
}

// Delete removes the record with the given patient id.
func (s *Store) Delete(ctx context.Context, patientID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE patient_id = ?", patientID)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("record deleted", zap.String("patient_id", patientID))
	return nil
}

// Page is one page of results plus pagination metadata.
type Page struct {
	Items   []*record.Record `json:"items"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Pages   int              `json:"pages"`
}

// Search finds records whose full name, patient id, or nurse name contains
// term (case-insensitive), most recent visit first.
func (s *Store) Search(ctx context.Context, term string, page, perPage int) (*Page, error) {
	pattern := "%" + term + "%"
	where := "WHERE full_name LIKE ? OR patient_id LIKE ? OR nurse_name LIKE ?"
	return s.query(ctx, where, []any{pattern, pattern, pattern}, page, perPage)
}

// List returns all records, most recent visit first.
func (s *Store) List(ctx context.Context, page, perPage int) (*Page, error) {
	return s.query(ctx, "", nil, page, perPage)
}

// All returns every record without pagination, most recent visit first.
func (s *Store) All(ctx context.Context) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM records "+visitOrder)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var items []*record.Record
	for rows.Next() {
		rec := &record.Record{}
		if err := rows.Scan(scanTargets(rec)...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (s *Store) query(ctx context.Context, where string, whereArgs []any, page, perPage int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records "+where, whereArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	args := append(append([]any{}, whereArgs...), perPage, (page-1)*perPage)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM records "+where+" "+visitOrder+" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := make([]*record.Record, 0, perPage)
	for rows.Next() {
		rec := &record.Record{}
		if err := rows.Scan(scanTargets(rec)...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Page{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Pages:   (total + perPage - 1) / perPage,
	}, nil
}
