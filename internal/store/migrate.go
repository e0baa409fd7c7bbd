package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/reconcile"
)

// SchemaVersion classifies the stored column set of a records database.
type SchemaVersion int

const (
	// SchemaCanonical is the current shape; no migration needed.
	SchemaCanonical SchemaVersion = iota
	// SchemaV1 stored pulse instead of heart_rate, visit_reason instead
	// of visit_reason_category, a combined blood_pressure text column,
	// and Fahrenheit temperatures.
	SchemaV1
	// SchemaV2 renamed the fields and switched to Celsius but still kept
	// blood pressure as one combined column.
	SchemaV2
)

func (v SchemaVersion) String() string {
	switch v {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	default:
		return "canonical"
	}
}

// migrationSteps maps each superseded schema version to the reconciliation
// vocabulary that reads its rows. Supporting a future legacy shape is one
// more row here plus its vocabulary table.
var migrationSteps = map[SchemaVersion]*reconcile.Vocabulary{
	SchemaV1: reconcile.DBV1,
	SchemaV2: reconcile.DBV2,
}

// MigrationError aborts startup: a partially migrated store is never left
// in place, so any row-level failure fails the whole run.
type MigrationError struct {
	Version   SchemaVersion
	RowID     int64
	PatientID string
	Cause     error
}

func (e *MigrationError) Error() string {
	if e.RowID != 0 || e.PatientID != "" {
		return fmt.Sprintf("migrating %s store: row %d (patient %q): %v", e.Version, e.RowID, e.PatientID, e.Cause)
	}
	return fmt.Sprintf("migrating %s store: %v", e.Version, e.Cause)
}

func (e *MigrationError) Unwrap() error { return e.Cause }

// DetectSchema classifies the schema of the records table. A database
// without a records table counts as canonical: Open will create the
// current schema from scratch.
func DetectSchema(ctx context.Context, db *sql.DB) (SchemaVersion, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info(records)")
	if err != nil {
		return SchemaCanonical, fmt.Errorf("read table info: %w", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return SchemaCanonical, fmt.Errorf("scan table info: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return SchemaCanonical, err
	}

	switch {
	case len(cols) == 0:
		return SchemaCanonical, nil
	case cols["pulse"] && !cols["heart_rate"]:
		return SchemaV1, nil
	case cols["blood_pressure"] && !cols["blood_pressure_systolic"]:
		return SchemaV2, nil
	default:
		return SchemaCanonical, nil
	}
}

// Migrate rewrites a legacy-shaped store at path into the canonical schema.
// It is all-or-nothing: every row is re-reconciled into a brand-new
// database built alongside the original, and only after the last row
// succeeds is the new file renamed over the old one. patient_id, the
// surrogate id, and created_at are preserved; updated_at becomes the
// migration timestamp. A timestamped backup of the pre-migration file is
// kept and its path returned. On an already-canonical store Migrate is a
// no-op returning an empty backup path.
func Migrate(ctx context.Context, path string, logger *zap.Logger) (backupPath string, from SchemaVersion, err error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return "", SchemaCanonical, nil
	}

	src, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", SchemaCanonical, &MigrationError{Cause: fmt.Errorf("open store: %w", err)}
	}
	defer src.Close()

	version, err := DetectSchema(ctx, src)
	if err != nil {
		return "", SchemaCanonical, &MigrationError{Cause: err}
	}
	if version == SchemaCanonical {
		return "", SchemaCanonical, nil
	}
	vocab := migrationSteps[version]

	logger.Info("legacy schema detected, migrating",
		zap.String("version", version.String()),
		zap.String("vocabulary", vocab.Name),
	)

	backupPath = fmt.Sprintf("%s.bak.%s", path, time.Now().UTC().Format("20060102_150405"))
	if err := copyFile(path, backupPath); err != nil {
		return "", version, &MigrationError{Version: version, Cause: fmt.Errorf("backup store: %w", err)}
	}

	tmpPath := path + ".migrating"
	os.Remove(tmpPath)
	dst, err := Open(tmpPath, logger)
	if err != nil {
		return backupPath, version, &MigrationError{Version: version, Cause: err}
	}

	migratedAt := time.Now().UTC()
	count, err := migrateRows(ctx, src, dst, vocab, version, migratedAt)
	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return backupPath, version, err
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return backupPath, version, &MigrationError{Version: version, Cause: err}
	}
	if err := src.Close(); err != nil {
		os.Remove(tmpPath)
		return backupPath, version, &MigrationError{Version: version, Cause: err}
	}
	// WAL side files belong to the old database; the rename must not leave
	// them next to the new one.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return backupPath, version, &MigrationError{Version: version, Cause: fmt.Errorf("swap store: %w", err)}
	}

	logger.Info("migration complete",
		zap.String("version", version.String()),
		zap.Int("records", count),
		zap.String("backup", backupPath),
	)
	return backupPath, version, nil
}

// migrateRows streams every legacy row through the reconciler and inserts
// the canonical result into dst. Interruptible between rows via ctx.
func migrateRows(ctx context.Context, src *sql.DB, dst *Store, vocab *reconcile.Vocabulary, version SchemaVersion, migratedAt time.Time) (int, error) {
	rows, err := src.QueryContext(ctx, "SELECT * FROM records")
	if err != nil {
		return 0, &MigrationError{Version: version, Cause: fmt.Errorf("read legacy rows: %w", err)}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, &MigrationError{Version: version, Cause: err}
	}

	insert := fmt.Sprintf("INSERT INTO records (id, %s) VALUES (?, %s)",
		strings.Join(recordColumns, ", "), insertPlaceholders(len(recordColumns)))

	count := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, &MigrationError{Version: version, Cause: err}
		}

		targets := make([]any, len(cols))
		for i := range targets {
			targets[i] = new(any)
		}
		if err := rows.Scan(targets...); err != nil {
			return count, &MigrationError{Version: version, Cause: fmt.Errorf("scan legacy row: %w", err)}
		}

		raw := make(map[string]string, len(cols))
		var (
			legacyID  int64
			createdAt time.Time
		)
		for i, col := range cols {
			val := *(targets[i].(*any))
			switch col {
			case "id":
				if n, ok := val.(int64); ok {
					legacyID = n
				}
				continue
			case "created_at":
				createdAt = asTime(val, migratedAt)
				continue
			case "updated_at":
				continue
			}
			if s := asString(val); s != "" {
				raw[col] = s
			}
		}

		rec, err := reconcile.Reconcile(reconcile.NewRow(raw), vocab, migratedAt)
		if err != nil {
			return count, &MigrationError{Version: version, RowID: legacyID, PatientID: raw["patient_id"], Cause: err}
		}
		rec.ID = legacyID
		rec.CreatedAt = createdAt
		rec.UpdatedAt = migratedAt

		args := append([]any{legacyID}, recordValues(rec)...)
		if _, err := dst.db.ExecContext(ctx, insert, args...); err != nil {
			return count, &MigrationError{Version: version, RowID: legacyID, PatientID: rec.PatientID, Cause: fmt.Errorf("insert migrated row: %w", err)}
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, &MigrationError{Version: version, Cause: err}
	}
	return count, nil
}

// asString renders a driver value as the reconciler's raw-string form.
func asString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asTime interprets a stored created_at value, falling back to the
// migration timestamp when the legacy value is absent or unreadable.
func asTime(val any, fallback time.Time) time.Time {
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		return parseStoredTime(v, fallback)
	case []byte:
		return parseStoredTime(string(v), fallback)
	default:
		return fallback
	}
}

func parseStoredTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
