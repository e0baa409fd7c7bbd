package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// legacyV1Schema is the oldest stored layout: pulse, visit_reason, one
// combined blood_pressure column, Fahrenheit temperatures.
const legacyV1Schema = `
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
	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

// legacyV2Schema renamed the fields and switched to Celsius but kept the
// combined blood_pressure column.
const legacyV2Schema = `
CREATE TABLE records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_id TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL,
	date_of_visit TEXT NOT NULL,
	time_of_visit TEXT NOT NULL,
	nurse_name TEXT NOT NULL,
	visit_reason_category TEXT NOT NULL,
	temperature REAL,
	heart_rate INTEGER,
	blood_pressure TEXT,
	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

func makeLegacyDB(t *testing.T, schema string, inserts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open legacy db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	for _, stmt := range inserts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed legacy row: %v", err)
		}
	}
	return path
}

func TestDetectSchema(t *testing.T) {
	ctx := context.Background()

	v1 := makeLegacyDB(t, legacyV1Schema)
	v2 := makeLegacyDB(t, legacyV2Schema)

	canonical := filepath.Join(t.TempDir(), "records.db")
	st, err := Open(canonical, zap.NewNop())
	if err != nil {
		t.Fatalf("open canonical: %v", err)
	}
	st.Close()

	tests := []struct {
		path string
		want SchemaVersion
	}{
		{v1, SchemaV1},
		{v2, SchemaV2},
		{canonical, SchemaCanonical},
	}
	for _, tt := range tests {
		db, err := sql.Open("sqlite3", tt.path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		got, err := DetectSchema(ctx, db)
		db.Close()
		if err != nil {
			t.Fatalf("detect %s: %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("DetectSchema(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestMigrateMissingFileIsNoOp(t *testing.T) {
	backup, from, err := Migrate(context.Background(), filepath.Join(t.TempDir(), "nope.db"), zap.NewNop())
	if err != nil || backup != "" || from != SchemaCanonical {
		t.Fatalf("got (%q, %s, %v), want no-op", backup, from, err)
	}
}

func TestMigrateCanonicalIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	st, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st.Close()

	backup, from, err := Migrate(context.Background(), path, zap.NewNop())
	if err != nil || backup != "" || from != SchemaCanonical {
		t.Fatalf("got (%q, %s, %v), want no-op", backup, from, err)
	}
}

func TestMigrateV1(t *testing.T) {
	ctx := context.Background()
	path := makeLegacyDB(t, legacyV1Schema,
		`INSERT INTO records (id, patient_id, full_name, date_of_visit, time_of_visit,
			nurse_name, visit_reason, temperature, pulse, blood_pressure, notes,
			created_at, updated_at)
		 VALUES (5, '20240101-AB12', 'Jamie Cruz', '2024-01-05', '09:30',
			'Nurse Rivera', 'Illness', 98.6, 72, '120/80', 'low-grade fever',
			'2024-01-05 10:00:00', '2024-01-05 10:00:00')`)

	backup, from, err := Migrate(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if from != SchemaV1 {
		t.Errorf("from = %s, want v1", from)
	}
	if backup == "" {
		t.Fatal("no backup path returned")
	}
	if _, err := os.Stat(backup); err != nil {
		t.Errorf("backup file missing: %v", err)
	}

	st, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open migrated store: %v", err)
	}
	defer st.Close()

	rec, err := st.GetByPatientID(ctx, "20240101-AB12")
	if err != nil {
		t.Fatalf("get migrated record: %v", err)
	}
	if rec.ID != 5 {
		t.Errorf("surrogate id = %d, want the legacy 5", rec.ID)
	}
	if rec.VisitReasonCategory != "Illness" {
		t.Errorf("VisitReasonCategory = %q", rec.VisitReasonCategory)
	}
	if rec.HeartRate == nil || *rec.HeartRate != 72 {
		t.Errorf("HeartRate = %v, want 72 (from pulse)", rec.HeartRate)
	}
	if rec.Temperature == nil || *rec.Temperature != 37.0 {
		t.Errorf("Temperature = %v, want 37.0 (converted from 98.6 F)", rec.Temperature)
	}
	if rec.BloodPressureSystolic == nil || *rec.BloodPressureSystolic != 120 ||
		rec.BloodPressureDiastolic == nil || *rec.BloodPressureDiastolic != 80 {
		t.Errorf("blood pressure = %v/%v, want 120/80 split",
			rec.BloodPressureSystolic, rec.BloodPressureDiastolic)
	}
	if rec.Notes == nil || *rec.Notes != "low-grade fever" {
		t.Errorf("Notes = %v", rec.Notes)
	}
	wantCreated := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	if !rec.CreatedAt.Equal(wantCreated) {
		t.Errorf("CreatedAt = %v, want the legacy %v", rec.CreatedAt, wantCreated)
	}
	if !rec.UpdatedAt.After(wantCreated) {
		t.Errorf("UpdatedAt = %v, want the migration timestamp", rec.UpdatedAt)
	}

	// Second run sees the canonical layout and does nothing.
	backup2, from2, err := Migrate(ctx, path, zap.NewNop())
	if err != nil || backup2 != "" || from2 != SchemaCanonical {
		t.Fatalf("second migrate: got (%q, %s, %v), want no-op", backup2, from2, err)
	}
}

func TestMigrateV2KeepsCelsius(t *testing.T) {
	ctx := context.Background()
	path := makeLegacyDB(t, legacyV2Schema,
		`INSERT INTO records (id, patient_id, full_name, date_of_visit, time_of_visit,
			nurse_name, visit_reason_category, temperature, heart_rate, blood_pressure,
			notes, created_at, updated_at)
		 VALUES (1, '20240210-CD34', 'Sam Okafor', '2024-02-10', '11:00',
			'Nurse Adeyemi', 'Injury', 36.8, 88, '110/70', NULL,
			'2024-02-10 11:30:00', '2024-02-10 11:30:00')`)

	if _, from, err := Migrate(ctx, path, zap.NewNop()); err != nil || from != SchemaV2 {
		t.Fatalf("migrate: from=%s err=%v", from, err)
	}

	st, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("open migrated store: %v", err)
	}
	defer st.Close()

	rec, err := st.GetByPatientID(ctx, "20240210-CD34")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// v2 already stored Celsius; the value must pass through unconverted.
	if rec.Temperature == nil || *rec.Temperature != 36.8 {
		t.Errorf("Temperature = %v, want 36.8 unchanged", rec.Temperature)
	}
	if rec.HeartRate == nil || *rec.HeartRate != 88 {
		t.Errorf("HeartRate = %v, want 88", rec.HeartRate)
	}
	if rec.BloodPressureSystolic == nil || *rec.BloodPressureSystolic != 110 {
		t.Errorf("systolic = %v, want 110", rec.BloodPressureSystolic)
	}
	if rec.Notes != nil {
		t.Errorf("Notes = %v, want nil for a NULL cell", rec.Notes)
	}
}

func TestMigrateAbortsOnBadRow(t *testing.T) {
	ctx := context.Background()
	// Second row has an unknown visit reason: reconciliation must fail and
	// leave the original file untouched.
	path := makeLegacyDB(t, legacyV1Schema,
		`INSERT INTO records (id, patient_id, full_name, date_of_visit, time_of_visit,
			nurse_name, visit_reason, created_at, updated_at)
		 VALUES (1, '20240101-AB12', 'Jamie Cruz', '2024-01-05', '09:30',
			'Nurse Rivera', 'Illness', '2024-01-05 10:00:00', '2024-01-05 10:00:00')`,
		`INSERT INTO records (id, patient_id, full_name, date_of_visit, time_of_visit,
			nurse_name, visit_reason, created_at, updated_at)
		 VALUES (2, '20240102-EF56', 'Sam Okafor', '2024-01-06', '10:00',
			'Nurse Rivera', 'Abducted by aliens', '2024-01-06 10:30:00', '2024-01-06 10:30:00')`)

	_, _, err := Migrate(ctx, path, zap.NewNop())
	if err == nil {
		t.Fatal("expected migration to fail on the bad row")
	}
	var merr *MigrationError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MigrationError, got %T: %v", err, err)
	}
	if merr.RowID != 2 {
		t.Errorf("failing row id = %d, want 2", merr.RowID)
	}

	// Original file still has the v1 layout and both rows.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	version, err := DetectSchema(ctx, db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if version != SchemaV1 {
		t.Errorf("schema after failed migration = %s, want v1 untouched", version)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}
	// The half-built replacement must not linger.
	if _, err := os.Stat(path + ".migrating"); !os.IsNotExist(err) {
		t.Error("temporary migration database left behind")
	}
}
