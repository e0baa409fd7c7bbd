package mirror

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinichq/nurselog/internal/domain/record"
	"github.com/clinichq/nurselog/internal/reconcile"
)

// maxReportedErrors caps the error messages retained in a Report; the
// failure count is always exact.
const maxReportedErrors = 10

// RecordCreator is the slice of the store an import needs.
type RecordCreator interface {
	Create(ctx context.Context, rec *record.Record) error
}

// RowError is one failed import row. Row is the 1-based data row number
// (the header row is not counted).
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

// Report summarizes a batch import. Partial success is the expected
// outcome: failed rows never abort the batch and never roll back rows
// already committed.
type Report struct {
	Imported int
	Failed   int
	Errors   []RowError
}

func (r *Report) addError(row int, err error) {
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, RowError{Row: row, Err: err})
	}
}

// ImportFile reads a tabular file (.xlsx or .csv) with a header row and
// creates one record per data row via the field reconciler. Rows that fail
// reconciliation or store insertion are counted and reported, not fatal.
// The context is checked between rows, so a cancelled import leaves every
// already-committed row in place and nothing half-written.
func ImportFile(ctx context.Context, path string, creator RecordCreator, logger *zap.Logger, now time.Time) (*Report, error) {
	var (
		headers []string
		rows    [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		headers, rows, err = readWorkbook(path)
	case ".csv":
		headers, rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported import format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, errors.New("import file has no header row")
	}

	vocab := DetectVocabulary(headers)
	logger.Info("importing records",
		zap.String("file", filepath.Base(path)),
		zap.String("vocabulary", vocab.Name),
		zap.Int("rows", len(rows)),
	)

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = reconcile.NormalizeKey(h)
	}

	report := &Report{}
	for i, cells := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rowNum := i + 1

		row := reconcile.Row{}
		empty := true
		for j, key := range normalized {
			if j >= len(cells) {
				break
			}
			val := strings.TrimSpace(cells[j])
			if val == "" {
				continue
			}
			row[key] = val
			empty = false
		}
		if empty {
			continue
		}

		rec, err := reconcile.Reconcile(row, vocab, now)
		if err != nil {
			report.addError(rowNum, err)
			continue
		}
		if err := creator.Create(ctx, rec); err != nil {
			report.addError(rowNum, err)
			continue
		}
		report.Imported++
	}

	logger.Info("import finished",
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func readCSV(path string) (headers []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if headers == nil {
			headers = rec
			continue
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}
