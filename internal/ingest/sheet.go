package ingest

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// scientificRaw matches a raw numeric cell stored in exponent form.
var scientificRaw = regexp.MustCompile(`^[+-]?\d+(\.\d+)?[eE][+-]?\d+$`)

// sheetSource iterates one worksheet row by row. excelize loads the
// workbook into memory but rows are decoded lazily.
type sheetSource struct {
	file      *excelize.File
	rows      *excelize.Rows
	row       int
	totalRows int
}

func newSheetSource(r io.Reader, sheet string) (*sheetSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}

	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	if sheet == "" {
		if list := f.GetSheetList(); len(list) > 0 {
			sheet = list[0]
		}
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}

	return &sheetSource{
		file:      f,
		rows:      rows,
		totalRows: sheetRowCount(f, sheet),
	}, nil
}

func (s *sheetSource) next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, fmt.Errorf("read sheet: %w", err)
		}
		return nil, 0, io.EOF
	}
	s.row++

	cols, err := s.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, s.row, &RowError{Line: s.row, Message: err.Error()}
	}
	for i, c := range cols {
		cols[i] = expandScientific(c)
	}
	return cols, s.row, nil
}

func (s *sheetSource) progress() float64 {
	if s.totalRows <= 0 {
		return 0
	}
	return math.Min(float64(s.row)/float64(s.totalRows), 1)
}

func (s *sheetSource) close() error {
	s.rows.Close()
	return s.file.Close()
}

// sheetRowCount reads the last row number from the sheet dimension
// ("A1:H5000"), or 0 when the dimension is missing.
func sheetRowCount(f *excelize.File, sheet string) int {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0
	}
	last := dim
	if i := strings.LastIndex(dim, ":"); i >= 0 {
		last = dim[i+1:]
	}
	_, row, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return 0
	}
	return row
}

// expandScientific rewrites integral raw numbers stored in exponent form
// ("1.23456789012E+11") as plain digits. The stored value is exact, unlike
// the rounded text a delimited export would carry.
func expandScientific(raw string) string {
	if !scientificRaw.MatchString(raw) {
		return raw
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v != math.Trunc(v) || math.Abs(v) >= 1e15 {
		return raw
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
