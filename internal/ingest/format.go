package ingest

// format.go classifies an inventory export from its leading bytes.
//
// Detection never looks past the first SniffLen bytes:
//
//   - Zip containers (xlsx) are spreadsheets. OLE2 containers are legacy
//     .xls workbooks, which are rejected with ErrLegacyWorkbook.
//   - Text that opens a JSON array whose first element is an object is a
//     structured-record file.
//   - Other text is delimited; the delimiter is picked by comma vs. tab
//     density on the first line that contains either.

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SniffLen is the number of leading bytes inspected by DetectFormat.
const SniffLen = 3072

// maxDelimiterProbeLines bounds how many leading lines are probed for a
// delimiter, so title rows above the header do not defeat detection.
const maxDelimiterProbeLines = 5

// Format identifies the encoding of an input file.
type Format int

const (
	FormatUnknown Format = iota
	FormatSpreadsheet
	FormatCSV
	FormatTSV
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatCSV:
		return "delimited-comma"
	case FormatTSV:
		return "delimited-tab"
	case FormatJSON:
		return "structured-record"
	default:
		return "unknown"
	}
}

// MarshalText lets formats appear by name in JSON payloads.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

var (
	// ErrUnknownFormat is returned when the file matches none of the
	// supported encodings. No fallback parsing is attempted.
	ErrUnknownFormat = errors.New("unrecognized file format")

	// ErrLegacyWorkbook is returned for binary .xls (OLE2) workbooks.
	ErrLegacyWorkbook = errors.New("legacy excel workbook not supported")

	// ErrEmptyFile is returned when the input has no bytes at all.
	ErrEmptyFile = errors.New("empty file")
)

// DetectFormat classifies head, the first bytes of a file.
// It returns ErrUnknownFormat (possibly wrapped) when nothing matches.
func DetectFormat(head []byte) (Format, error) {
	if len(head) == 0 {
		return FormatUnknown, ErrEmptyFile
	}

	mt := mimetype.Detect(head)
	switch {
	case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
		mt.Is("application/zip"):
		return FormatSpreadsheet, nil
	case mt.Is("application/x-ole-storage"), mt.Is("application/vnd.ms-excel"):
		return FormatUnknown, ErrLegacyWorkbook
	}

	if !isText(mt) {
		return FormatUnknown, fmt.Errorf("%w: detected %s", ErrUnknownFormat, mt.String())
	}

	text := decodeHead(head)
	trimmed := bytes.TrimLeft(text, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if looksLikeRecordArray(trimmed) {
			return FormatJSON, nil
		}
		return FormatUnknown, fmt.Errorf("%w: malformed record array", ErrUnknownFormat)
	}

	switch delimiterOf(text) {
	case ',':
		return FormatCSV, nil
	case '\t':
		return FormatTSV, nil
	}
	return FormatUnknown, fmt.Errorf("%w: no comma or tab delimiter found", ErrUnknownFormat)
}

// Sniff peeks at the start of r and classifies it. The returned reader
// replays the peeked bytes, so callers must read from it instead of r.
func Sniff(r io.Reader) (Format, *bufio.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, err := br.Peek(SniffLen)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return FormatUnknown, br, fmt.Errorf("read file header: %w", err)
	}
	f, err := DetectFormat(head)
	return f, br, err
}

// isText walks the mimetype hierarchy looking for text/plain.
func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// decodeHead converts a possibly BOM-prefixed UTF-8 or UTF-16 prefix to UTF-8.
// A truncated trailing sequence is tolerated.
func decodeHead(head []byte) []byte {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, head)
	if err != nil && len(out) == 0 {
		return head
	}
	return out
}

// looksLikeRecordArray reports whether text starts a JSON array whose first
// element is an object. An empty array also qualifies.
func looksLikeRecordArray(text []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(text))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('[') {
		return false
	}
	tok, err = dec.Token()
	if err != nil {
		return false
	}
	return tok == json.Delim('{') || tok == json.Delim(']')
}

// delimiterOf returns ',' or '\t' for the first probed line containing
// either, or 0 when none does. Delimiters inside quotes are ignored.
func delimiterOf(text []byte) rune {
	lines := bytes.Split(text, []byte("\n"))
	probed := 0
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		commas, tabs := countDelimiters(line)
		if commas > 0 || tabs > 0 {
			if tabs > commas {
				return '\t'
			}
			return ','
		}
		probed++
		if probed >= maxDelimiterProbeLines {
			break
		}
	}
	return 0
}

func countDelimiters(line []byte) (commas, tabs int) {
	inQuotes := false
	for _, b := range line {
		switch b {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				commas++
			}
		case '\t':
			if !inQuotes {
				tabs++
			}
		}
	}
	return commas, tabs
}
