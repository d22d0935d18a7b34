package ingest

import (
	"encoding/csv"
	"errors"
	"io"
)

// delimitedSource streams comma- or tab-separated text.
type delimitedSource struct {
	counter *CountingReader
	csv     *csv.Reader
}

func newDelimitedSource(r io.Reader, comma rune, size int64) *delimitedSource {
	counter := NewCountingReader(r, size)
	cr := csv.NewReader(NewTextReader(counter))
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &delimitedSource{counter: counter, csv: cr}
}

func (s *delimitedSource) next() ([]string, int, error) {
	record, err := s.csv.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.StartLine, &RowError{Line: pe.StartLine, Message: pe.Err.Error()}
		}
		return nil, 0, err
	}
	line, _ := s.csv.FieldPos(0)
	return record, line, nil
}

func (s *delimitedSource) progress() float64 {
	return s.counter.Fraction()
}

func (s *delimitedSource) close() error {
	return nil
}
