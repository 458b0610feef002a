// =============================================================================
// Tabular Importer - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - tabular (csvparser, xlsxparser)
//   - transform
//   - orchestrator
//   - failures
//
// =============================================================================

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// =============================================================================
// RECORD
// =============================================================================

// Record is one normalized row: field name -> scalar value.
//
// Values are strings or numbers: float64 for parsed input, json.Number for
// records decoded from service responses so that their digits survive
// untouched. Keys keep their insertion order
// (header order for parsed input, document order for decoded JSON) so that
// rendering and export are stable.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record with room for n fields.
func NewRecord(n int) Record {
	return Record{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// RecordOf builds a record from alternating key/value pairs.
// Mostly useful in tests.
func RecordOf(pairs ...any) Record {
	r := NewRecord(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return r
}

// Set stores value under key. A new key is appended to the key order;
// an existing key keeps its position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the value under key rendered as text, or "" when absent.
func (r Record) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Keys returns the field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Without returns a copy of the record with key removed.
func (r Record) Without(key string) Record {
	out := NewRecord(len(r.keys))
	for _, k := range r.keys {
		if k == key {
			continue
		}
		out.Set(k, r.values[k])
	}
	return out
}

// MarshalJSON encodes the record as a JSON object with keys in order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping document key order.
// Numbers are kept as json.Number with their literal text, strings stay
// strings, anything else is kept in its decoded form.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	*r = NewRecord(8)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode field %q: %w", key, err)
		}
		r.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

// FormatValue renders a scalar the way it is shown to users and written to
// exports: strings unchanged, float64 in its shortest decimal form, decoded
// numbers exactly as the service sent them.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatFloat(val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// =============================================================================
// SHEET SET
// =============================================================================

// Sheet is one named, ordered record sequence.
type Sheet struct {
	Name    string
	Records []Record
}

// SheetSet holds parsed sheets in source order. Names are unique.
type SheetSet struct {
	sheets []Sheet
	index  map[string]int
}

// NewSheetSet returns an empty sheet set.
func NewSheetSet() *SheetSet {
	return &SheetSet{index: make(map[string]int)}
}

// Add appends a sheet. Adding a name that already exists is an error.
func (s *SheetSet) Add(name string, records []Record) error {
	if _, ok := s.index[name]; ok {
		return fmt.Errorf("duplicate sheet name %q", name)
	}
	s.index[name] = len(s.sheets)
	s.sheets = append(s.sheets, Sheet{Name: name, Records: records})
	return nil
}

// Names returns the sheet names in order.
func (s *SheetSet) Names() []string {
	names := make([]string, len(s.sheets))
	for i, sh := range s.sheets {
		names[i] = sh.Name
	}
	return names
}

// Sheet returns the records of the named sheet.
func (s *SheetSet) Sheet(name string) ([]Record, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.sheets[i].Records, true
}

// First returns the first sheet, or false for an empty set.
func (s *SheetSet) First() (Sheet, bool) {
	if len(s.sheets) == 0 {
		return Sheet{}, false
	}
	return s.sheets[0], true
}

// Len returns the number of sheets.
func (s *SheetSet) Len() int {
	return len(s.sheets)
}
