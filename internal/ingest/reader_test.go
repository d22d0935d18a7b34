package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads every batch and returns the rows and the batch sizes.
func drain(t *testing.T, r *Reader) ([]RawRow, []int) {
	t.Helper()
	var rows []RawRow
	var sizes []int
	for {
		batch, err := r.Next(context.Background())
		if err == io.EOF {
			return rows, sizes
		}
		require.NoError(t, err)
		rows = append(rows, batch...)
		sizes = append(sizes, len(batch))
	}
}

func openString(t *testing.T, input string, opts Options) *Reader {
	t.Helper()
	format, br, err := Sniff(strings.NewReader(input))
	require.NoError(t, err)
	r, err := Open(br, format, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReader_CSVBatches(t *testing.T) {
	var b strings.Builder
	b.WriteString("UPC,SKU,Warehouse\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "0123456789%02d,SKU-%d,W1\n", i, i)
	}

	r := openString(t, b.String(), Options{BatchSize: 10})
	assert.Equal(t, []string{"UPC", "SKU", "Warehouse"}, r.Header())

	rows, sizes := drain(t, r)
	assert.Len(t, rows, 25)
	assert.Equal(t, []int{10, 10, 5}, sizes)
	assert.Equal(t, []string{"012345678900", "SKU-0", "W1"}, rows[0].Cells)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, float64(1), r.Progress())

	_, err := r.Next(context.Background())
	assert.Equal(t, io.EOF, err, "stream must not restart")
}

func TestReader_SkipsEmptyRowsAndTitleRows(t *testing.T) {
	input := "Warehouse inventory report\n" +
		",,\n" +
		"UPC,SKU,Location\n" +
		"012345678905,A,A-01\n" +
		",,\n" +
		"\n" +
		"012345678912,B,\n"

	r := openString(t, input, Options{})
	assert.Equal(t, []string{"UPC", "SKU", "Location"}, r.Header())

	rows, _ := drain(t, r)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Cells[1])
	assert.Equal(t, []string{"012345678912", "B", ""}, rows[1].Cells)
	assert.Zero(t, r.ErrorCount())
}

func TestReader_AlignsShortRowsAndNamesBlankHeaders(t *testing.T) {
	r := openString(t, "UPC,SKU,,SKU\n012345678905\n", Options{})
	assert.Equal(t, []string{"UPC", "SKU", "column_3", "SKU_2"}, r.Header())

	rows, _ := drain(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"012345678905", "", "", ""}, rows[0].Cells)
}

func TestNormalizeHeader_NamesAreUnique(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"suffix avoids literal", []string{"SKU", "UPC", "UPC", "UPC_2"}, []string{"SKU", "UPC", "UPC_3", "UPC_2"}},
		{"blank avoids literal", []string{"column_2", "", "UPC"}, []string{"column_2", "column_2_2", "UPC"}},
		{"repeated suffix", []string{"A", "A", "A"}, []string{"A", "A_2", "A_3"}},
		{"duplicate literal suffix", []string{"B_2", "B", "B_2"}, []string{"B_2", "B", "B_2_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHeader(tt.in))
		})
	}
}

func TestReader_TSVUTF16(t *testing.T) {
	data := utf16LE(t, "UPC\tSKU\r\n012345678905\tÄpfel-1\r\n")
	format, br, err := Sniff(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, FormatTSV, format)

	r, err := Open(br, format, Options{Size: int64(len(data))})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"UPC", "SKU"}, r.Header())
	rows, _ := drain(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "Äpfel-1", rows[0].Cells[1])
}

func TestReader_RowErrorsAreRecorded(t *testing.T) {
	var b strings.Builder
	b.WriteString("UPC,SKU\n")
	for i := 0; i < 200; i++ {
		if i%10 == 0 {
			b.WriteString("012345678905,A,unexpected\n")
			continue
		}
		b.WriteString("012345678905,A\n")
	}

	r := openString(t, b.String(), Options{BatchSize: 50})
	rows, _ := drain(t, r)

	assert.Len(t, rows, 180)
	assert.Equal(t, 20, r.ErrorCount())
	require.Len(t, r.Errors(), MaxErrorSamples)
	assert.Equal(t, 2, r.Errors()[0].Line)
	assert.Contains(t, r.Errors()[0].Message, "3 fields")
}

func TestReader_ErrorBudgetExceeded(t *testing.T) {
	var b strings.Builder
	b.WriteString("UPC,SKU\n")
	for i := 0; i < 300; i++ {
		if i%3 == 0 {
			b.WriteString("012345678905,A\n")
			continue
		}
		b.WriteString("012345678905,A,x,y\n")
	}

	r := openString(t, b.String(), Options{BatchSize: 50, SampleSize: 100})

	var err error
	for err == nil {
		_, err = r.Next(context.Background())
	}
	assert.True(t, errors.Is(err, ErrErrorBudgetExceeded), "got %v", err)
}

func TestReader_ErrorBudgetAppliesToShortFiles(t *testing.T) {
	r := openString(t, "UPC,SKU\n1,2,3\n4,5,6\n7,8\n", Options{})

	_, err := r.Next(context.Background())
	assert.True(t, errors.Is(err, ErrErrorBudgetExceeded), "got %v", err)
}

func TestReader_CancelledBetweenBatches(t *testing.T) {
	r := openString(t, "UPC,SKU\n1,2\n3,4\n", Options{BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	batch, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	cancel()
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_NoHeader(t *testing.T) {
	_, err := Open(strings.NewReader("only\none\ncolumn,\n"), FormatCSV, Options{})
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestReader_Records(t *testing.T) {
	input := `[
		{"upc": "012345678905", "sku": "A", "qty": 4, "active": true},
		{"sku": "B", "upc": 12345678912, "extra": "ignored"},
		"not an object",
		{"upc": null, "sku": "C", "qty": {"on_hand": 2}},
		{}
	]`

	r := openString(t, input, Options{})
	assert.Equal(t, FormatJSON, r.Format())
	assert.Equal(t, []string{"upc", "sku", "qty", "active"}, r.Header())

	rows, _ := drain(t, r)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"012345678905", "A", "4", "true"}, rows[0].Cells)
	assert.Equal(t, []string{"12345678912", "B", "", ""}, rows[1].Cells)
	assert.Equal(t, []string{"", "C", `{"on_hand":2}`, ""}, rows[2].Cells)

	require.Equal(t, 1, r.ErrorCount())
	assert.Equal(t, RowError{Line: 3, Message: "element is not an object"}, r.Errors()[0])
}

func TestReader_RecordsSyntaxErrorIsFatal(t *testing.T) {
	input := `[{"upc": "012345678905", "sku": "A"}, {"upc": ]`
	r := openString(t, input, Options{})

	_, err := r.Next(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
	var rowErr *RowError
	assert.False(t, errors.As(err, &rowErr), "syntax errors are not row errors")
}

func TestReader_Spreadsheet(t *testing.T) {
	data := workbookBytes(t, [][]any{
		{"Stock on hand"},
		{},
		{"Barcode", "Item Number", "Bin"},
		{"012345678905", "A", "A-01"},
		{int64(12345678912), "B", ""},
		{},
		{"012345678905", "C", "B-02"},
	})

	format, br, err := Sniff(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, FormatSpreadsheet, format)

	r, err := Open(br, format, Options{BatchSize: 2})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"Barcode", "Item Number", "Bin"}, r.Header())

	rows, sizes := drain(t, r)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{2, 1}, sizes)
	assert.Equal(t, []string{"012345678905", "A", "A-01"}, rows[0].Cells)
	assert.Equal(t, 4, rows[0].Line)
	assert.Equal(t, []string{"12345678912", "B", ""}, rows[1].Cells)
	assert.Equal(t, 7, rows[2].Line)
}

func TestExpandScientific(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.23456789012E+11", "123456789012"},
		{"1.2E+3", "1200"},
		{"1.5E-1", "1.5E-1"},
		{"012345678905", "012345678905"},
		{"A-01", "A-01"},
		{"9.99E+20", "9.99E+20"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, expandScientific(tt.in))
		})
	}
}

func TestCountingReader(t *testing.T) {
	cr := NewCountingReader(strings.NewReader("abcdefghij"), 10)
	buf := make([]byte, 4)
	_, err := cr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cr.BytesRead)
	assert.InDelta(t, 0.4, cr.Fraction(), 1e-9)

	unknown := NewCountingReader(strings.NewReader("abc"), 0)
	_, _ = io.ReadAll(unknown)
	assert.Zero(t, unknown.Fraction())
}
