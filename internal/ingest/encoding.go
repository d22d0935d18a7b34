package ingest

// encoding.go provides the reader stack used by the text-based sources.
//
//   - CountingReader tracks raw bytes consumed, for progress reporting
//   - NewTextReader decodes UTF-8 and UTF-16 (BOM-selected) input to UTF-8,
//     dropping the BOM and replacing invalid sequences with U+FFFD
//
// Excel's "Unicode Text" export is UTF-16LE with a BOM, so both matter in
// practice.

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 when unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Fraction returns the portion of Total consumed, in [0, 1].
// Returns 0 if the total is unknown.
func (r *CountingReader) Fraction() float64 {
	if r.Total <= 0 {
		return 0
	}
	f := float64(r.BytesRead) / float64(r.Total)
	if f > 1 {
		return 1
	}
	return f
}

// NewTextReader returns a reader that yields UTF-8 regardless of whether r
// holds BOM-prefixed UTF-8, BOM-prefixed UTF-16 or plain UTF-8.
func NewTextReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}
