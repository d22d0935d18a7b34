// Package ingest turns inventory export files into a header and a lazy,
// batched stream of raw rows.
//
// Three encodings are supported: spreadsheets (xlsx), delimited text (comma
// or tab, UTF-8 or UTF-16) and structured records (a JSON array of objects).
// The format is detected from content, never from the file extension.
//
// A [Reader] is finite and cannot be restarted. Completely empty rows are
// dropped; rows that fail to parse are recorded in an error ledger and
// skipped. If more than Options.MaxErrorRate of the attempted rows fail once
// at least Options.SampleSize rows were attempted, the stream fails with
// [ErrErrorBudgetExceeded].
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultBatchSize           = 1000
	DefaultSampleSize          = 100
	DefaultMaxErrorRate        = 0.5
	DefaultMaxHeaderSearchRows = 20
	MaxErrorSamples            = 20
)

// ErrErrorBudgetExceeded is returned by Reader.Next when too many rows
// failed to parse.
var ErrErrorBudgetExceeded = errors.New("row error budget exceeded")

// ErrNoHeader is returned by Open when no plausible header row is found.
var ErrNoHeader = errors.New("no header row found")

// Options configures a Reader.
type Options struct {
	BatchSize           int
	SampleSize          int     // rows attempted before the error budget applies
	MaxErrorRate        float64 // fraction of attempted rows allowed to fail
	MaxHeaderSearchRows int
	Sheet               string // spreadsheet sheet; active sheet when empty
	Size                int64  // total input size in bytes, 0 if unknown
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.MaxErrorRate <= 0 {
		o.MaxErrorRate = DefaultMaxErrorRate
	}
	if o.MaxHeaderSearchRows <= 0 {
		o.MaxHeaderSearchRows = DefaultMaxHeaderSearchRows
	}
	return o
}

// RawRow is one data row with cells aligned to the header.
// Line is the 1-based position of the row in the source (line number for
// delimited text, sheet row for spreadsheets, element index for records).
type RawRow struct {
	Line  int
	Cells []string
}

// Batch is a group of consecutive rows.
type Batch []RawRow

// RowError records a row that could not be parsed.
type RowError struct {
	Line    int    `json:"row"`
	Message string `json:"message"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Message)
}

// source is implemented by each format-specific decoder.
// next returns io.EOF at the end, a *RowError for a recoverable failure,
// and any other error for a fatal one.
type source interface {
	next() (cells []string, line int, err error)
	progress() float64
	close() error
}

// headerSource is implemented by sources whose header is not a data row.
type headerSource interface {
	header() []string
}

// Reader yields batches of RawRow from a single input.
type Reader struct {
	src    source
	format Format
	opts   Options
	header []string

	attempted int
	errCount  int
	errs      []RowError
	done      bool
}

// Open prepares a Reader for r in the given format and locates the header.
func Open(r io.Reader, format Format, opts Options) (*Reader, error) {
	opts = opts.withDefaults()

	var (
		src source
		err error
	)
	switch format {
	case FormatCSV:
		src = newDelimitedSource(r, ',', opts.Size)
	case FormatTSV:
		src = newDelimitedSource(r, '\t', opts.Size)
	case FormatJSON:
		src, err = newRecordSource(r, opts.Size)
	case FormatSpreadsheet:
		src, err = newSheetSource(r, opts.Sheet)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}

	rd := &Reader{src: src, format: format, opts: opts}
	if hs, ok := src.(headerSource); ok {
		rd.header = normalizeHeader(hs.header())
		return rd, nil
	}
	if err := rd.findHeader(); err != nil {
		src.close()
		return nil, err
	}
	return rd, nil
}

// findHeader takes the first row with at least two non-empty cells within
// the first MaxHeaderSearchRows rows. Title rows above it are discarded.
func (r *Reader) findHeader() error {
	for i := 0; i < r.opts.MaxHeaderSearchRows; i++ {
		cells, line, err := r.src.next()
		if err == io.EOF {
			break
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			r.attempted++
			r.record(*rowErr)
			continue
		}
		if err != nil {
			return err
		}
		if nonEmptyCells(cells) >= 2 {
			slog.Debug("header located", "line", line, "columns", len(cells))
			r.header = normalizeHeader(cells)
			return nil
		}
	}
	return ErrNoHeader
}

// Header returns the column names. Blank names become "column_N" and
// repeated names get a numeric suffix, so every column is addressable.
func (r *Reader) Header() []string {
	return r.header
}

// Format returns the format this reader decodes.
func (r *Reader) Format() Format {
	return r.format
}

// Next returns the next batch of rows, or io.EOF once the input is
// exhausted. Cancellation is observed only between batches.
func (r *Reader) Next(ctx context.Context) (Batch, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := make(Batch, 0, r.opts.BatchSize)
	for len(batch) < r.opts.BatchSize {
		cells, line, err := r.src.next()
		if err == io.EOF {
			r.done = true
			break
		}
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			r.attempted++
			r.record(*rowErr)
			continue
		}
		if err != nil {
			return nil, err
		}
		if nonEmptyCells(cells) == 0 {
			continue
		}
		r.attempted++
		if extra := nonEmptyCells(cells[min(len(cells), len(r.header)):]); extra > 0 {
			r.record(RowError{
				Line:    line,
				Message: fmt.Sprintf("row has %d fields, header has %d", len(cells), len(r.header)),
			})
			continue
		}
		batch = append(batch, RawRow{Line: line, Cells: r.align(cells)})
	}

	if err := r.checkBudget(); err != nil {
		return nil, err
	}
	if len(batch) == 0 && r.done {
		return nil, io.EOF
	}
	return batch, nil
}

// checkBudget applies the error budget once enough rows were attempted,
// or at end of input for short files.
func (r *Reader) checkBudget() error {
	if r.attempted == 0 || r.errCount == 0 {
		return nil
	}
	if r.attempted < r.opts.SampleSize && !r.done {
		return nil
	}
	rate := float64(r.errCount) / float64(r.attempted)
	if rate > r.opts.MaxErrorRate {
		return fmt.Errorf("%w: %d of %d rows failed to parse", ErrErrorBudgetExceeded, r.errCount, r.attempted)
	}
	return nil
}

func (r *Reader) record(e RowError) {
	r.errCount++
	if len(r.errs) < MaxErrorSamples {
		r.errs = append(r.errs, e)
	}
	slog.Debug("row parse error", "row", e.Line, "error", e.Message)
}

// align pads or truncates cells to the header width.
func (r *Reader) align(cells []string) []string {
	n := len(r.header)
	if len(cells) == n {
		return cells
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}

// Errors returns the first MaxErrorSamples row errors.
func (r *Reader) Errors() []RowError {
	return r.errs
}

// ErrorCount returns the total number of row errors so far.
func (r *Reader) ErrorCount() int {
	return r.errCount
}

// Attempted returns the number of non-empty rows read so far, including
// rows that failed to parse.
func (r *Reader) Attempted() int {
	return r.attempted
}

// Progress estimates how much of the input has been consumed, in [0, 1].
func (r *Reader) Progress() float64 {
	if r.done {
		return 1
	}
	return r.src.progress()
}

// Close releases the underlying decoder.
func (r *Reader) Close() error {
	return r.src.close()
}

func nonEmptyCells(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

func normalizeHeader(cells []string) []string {
	// Generated names never take a name that appears literally elsewhere.
	literal := make(map[string]bool, len(cells))
	for _, c := range cells {
		if name := strings.TrimSpace(c); name != "" {
			literal[name] = true
		}
	}

	out := make([]string, len(cells))
	used := make(map[string]bool, len(cells))
	for i, c := range cells {
		base := strings.TrimSpace(c)
		name := base
		if base == "" {
			base = "column_" + strconv.Itoa(i+1)
			name = base
			if literal[name] {
				name = ""
			}
		}
		for n := 2; name == "" || used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
			if literal[name] {
				name = ""
			}
		}
		used[name] = true
		out[i] = name
	}
	return out
}
