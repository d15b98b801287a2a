package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one data row keyed by header. Line is the 1-based line or sheet row.
type Row struct {
	Line   int
	Values map[string]string
}

// ReadFile loads an admissions export. The first row is the header; .xlsx
// reads the first worksheet, anything else is parsed as CSV.
func ReadFile(path string) ([]string, []Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func readXLSX(path string) ([]string, []Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", sheets[0], err)
	}
	return table(rows)
}

// ReadCSV parses a CSV export with a header row.
func ReadCSV(r io.Reader) ([]string, []Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	return table(records)
}

func table(records [][]string) ([]string, []Row, error) {
	if len(records) == 0 {
		return nil, nil, errors.New("export is empty")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []Row
	for i, rec := range records[1:] {
		values := make(map[string]string, len(header))
		blank := true
		for j, h := range header {
			if h == "" || j >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[j])
			if v != "" {
				blank = false
			}
			values[h] = v
		}
		if blank {
			continue
		}
		rows = append(rows, Row{Line: i + 2, Values: values})
	}
	return header, rows, nil
}
