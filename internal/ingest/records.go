package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// recordSource streams a JSON array of flat objects. The header is the key
// order of the first object; later objects are projected onto it and keys
// absent from the header are ignored. Elements that are not objects are
// row errors; malformed JSON is fatal because the stream cannot resync.
type recordSource struct {
	counter *CountingReader
	dec     *json.Decoder
	keys    []string
	pos     map[string]int
	index   int

	pending []string // values of the first object, read to build the header
	ended   bool
}

func newRecordSource(r io.Reader, size int64) (*recordSource, error) {
	counter := NewCountingReader(r, size)
	dec := json.NewDecoder(NewTextReader(counter))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid record array: %w", err)
	}
	if tok != json.Delim('[') {
		return nil, fmt.Errorf("%w: expected array", ErrUnknownFormat)
	}

	s := &recordSource{counter: counter, dec: dec, pos: map[string]int{}}

	// Header comes from the first object element; leading elements that
	// are not objects are skipped.
	for dec.More() {
		raw, err := s.element()
		if err != nil {
			return nil, err
		}
		keys, values, ok, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid record %d: %w", s.index, err)
		}
		if !ok {
			continue
		}
		s.keys = keys
		for i, k := range keys {
			if _, dup := s.pos[k]; !dup {
				s.pos[k] = i
			}
		}
		s.pending = values
		return s, nil
	}
	return nil, ErrNoHeader
}

func (s *recordSource) header() []string {
	return s.keys
}

func (s *recordSource) element() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid record %d: %w", s.index+1, err)
	}
	s.index++
	return raw, nil
}

func (s *recordSource) next() ([]string, int, error) {
	if s.pending != nil {
		cells := s.pending
		s.pending = nil
		return cells, s.index, nil
	}
	if s.ended || !s.dec.More() {
		s.ended = true
		return nil, 0, io.EOF
	}

	raw, err := s.element()
	if err != nil {
		return nil, 0, err
	}
	keys, values, ok, err := decodeObject(raw)
	if err != nil {
		return nil, s.index, &RowError{Line: s.index, Message: err.Error()}
	}
	if !ok {
		return nil, s.index, &RowError{Line: s.index, Message: "element is not an object"}
	}

	cells := make([]string, len(s.keys))
	for i, k := range keys {
		if p, found := s.pos[k]; found {
			cells[p] = values[i]
		}
	}
	return cells, s.index, nil
}

func (s *recordSource) progress() float64 {
	return s.counter.Fraction()
}

func (s *recordSource) close() error {
	return nil
}

// decodeObject walks raw in key order. ok is false when raw is not an object.
func decodeObject(raw json.RawMessage) (keys, values []string, ok bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, nil, false, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, false, err
		}
		key, isString := tok.(string)
		if !isString {
			return nil, nil, false, errors.New("object key is not a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, false, err
		}
		keys = append(keys, key)
		values = append(values, cellString(v))
	}
	return keys, values, true, nil
}

// cellString renders a decoded JSON value as a cell.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
