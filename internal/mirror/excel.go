package mirror

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/clinichq/nurselog/internal/domain/record"
)

// ExportFilename returns a timestamped export filename under dir.
func ExportFilename(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("nurse_records_export_%s.xlsx", now.Format("20060102_150405")))
}

// Export writes the records to a workbook at path, one row per record
// under the fixed header layout.
func Export(records []*record.Record, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetName); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("remove default sheet: %w", err)
	}

	headers := Headers()
	if err := setRow(f, 1, headers); err != nil {
		return err
	}
	if err := styleHeader(f, len(headers)); err != nil {
		return err
	}

	for i, rec := range records {
		row := make([]any, len(exportColumns))
		for j, col := range exportColumns {
			row[j] = col.value(rec)
		}
		if err := setRow(f, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func setRow[T any](f *excelize.File, rowNum int, values []T) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	anys := make([]any, len(values))
	for i, v := range values {
		anys[i] = v
	}
	if err := f.SetSheetRow(SheetName, cell, &anys); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

func styleHeader(f *excelize.File, width int) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4F81BD"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, style); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	return nil
}

// readWorkbook returns the header row and data rows of the records sheet.
// Workbooks without the expected sheet name fall back to the first sheet.
func readWorkbook(path string) (headers []string, rows [][]string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := SheetName
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}

	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
