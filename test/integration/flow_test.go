// Package integration exercises the full record lifecycle: a legacy
// database is migrated to the canonical schema, extended through the
// store, exported to a workbook, and re-imported elsewhere.
package integration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/mirror"
	"github.com/clinichq/nurselog/internal/store"
)

func TestLegacyDatabaseToWorkbookAndBack(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "records.db")

	// A v1-era database: pulse, visit_reason, combined blood pressure,
	// Fahrenheit temperatures.
	legacy, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	if _, err := legacy.Exec(`
		CREATE TABLE records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL,
			date_of_visit TEXT NOT NULL,
			time_of_visit TEXT NOT NULL,
			nurse_name TEXT NOT NULL,
			visit_reason TEXT NOT NULL,
			temperature REAL,
			pulse INTEGER,
			blood_pressure TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		INSERT INTO records (patient_id, full_name, date_of_visit, time_of_visit,
			nurse_name, visit_reason, temperature, pulse, blood_pressure,
			created_at, updated_at)
		VALUES ('20240105-AB12', 'Jamie Cruz', '2024-01-05', '09:30',
			'Nurse Rivera', 'Illness', 98.6, 72, '120/80',
			'2024-01-05 10:00:00', '2024-01-05 10:00:00');
	`); err != nil {
		t.Fatalf("seed legacy db: %v", err)
	}
	legacy.Close()

	// Migrate and open.
	backup, from, err := store.Migrate(ctx, dbPath, logger)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if from != store.SchemaV1 || backup == "" {
		t.Fatalf("migrate: from=%s backup=%q", from, backup)
	}

	st, err := store.Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	migrated, err := st.GetByPatientID(ctx, "20240105-AB12")
	if err != nil {
		t.Fatalf("get migrated record: %v", err)
	}
	if migrated.Temperature == nil || *migrated.Temperature != 37.0 {
		t.Errorf("migrated temperature = %v, want 37.0 C", migrated.Temperature)
	}
	if migrated.HeartRate == nil || *migrated.HeartRate != 72 {
		t.Errorf("migrated heart rate = %v, want 72", migrated.HeartRate)
	}

	// Add a fresh record through the store.
	rec2 := *migrated
	rec2.ID = 0
	rec2.PatientID = ""
	rec2.FullName = "Sam Okafor"
	rec2.DateOfVisit = "2024-02-10"
	if err := st.Create(ctx, &rec2); err != nil {
		t.Fatalf("create fresh record: %v", err)
	}

	// Export everything.
	records, err := st.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count = %d, want 2", len(records))
	}
	exportPath := mirror.ExportFilename(dir, time.Now())
	if err := mirror.Export(records, exportPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Import the workbook into a second, empty store.
	other, err := store.Open(filepath.Join(dir, "other.db"), logger)
	if err != nil {
		t.Fatalf("open second store: %v", err)
	}
	defer other.Close()

	report, err := mirror.ImportFile(ctx, exportPath, other, logger, time.Now())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 2 || report.Failed != 0 {
		t.Fatalf("import report = %+v, want 2 imported", report)
	}

	roundTripped, err := other.GetByPatientID(ctx, "20240105-AB12")
	if err != nil {
		t.Fatalf("get round-tripped record: %v", err)
	}
	if roundTripped.Temperature == nil || *roundTripped.Temperature != 37.0 {
		t.Errorf("round-tripped temperature = %v, want 37.0 (no double conversion)", roundTripped.Temperature)
	}
	if roundTripped.BloodPressureSystolic == nil || *roundTripped.BloodPressureSystolic != 120 ||
		roundTripped.BloodPressureDiastolic == nil || *roundTripped.BloodPressureDiastolic != 80 {
		t.Errorf("round-tripped blood pressure = %v/%v, want 120/80",
			roundTripped.BloodPressureSystolic, roundTripped.BloodPressureDiastolic)
	}

	// Importing the same workbook again collides on every patient ID.
	again, err := mirror.ImportFile(ctx, exportPath, other, logger, time.Now())
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.Imported != 0 || again.Failed != 2 {
		t.Errorf("re-import report = %+v, want every row rejected as duplicate", again)
	}
}
