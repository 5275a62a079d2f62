package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"
)

const utf8BOM = "\ufeff"

// Decoded is the outcome of one Decode call.
type Decoded struct {
	Records []Record
	// Dropped counts rows discarded for lacking the identifying key.
	Dropped int
}

// Decode reads comma separated text with a header row and maps every data row
// through schema. Rows without a key are dropped and counted; structural CSV
// errors fail the whole call with a *FormatError.
func Decode(raw []byte, schema Schema) (*Decoded, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &FormatError{Err: errors.New("missing header row")}
		}
		return nil, formatError(err)
	}

	columns := headerIndex(header)
	resolved := make([]int, len(schema.Fields))
	keyPos := -1
	for i, f := range schema.Fields {
		resolved[i] = -1
		for _, h := range f.Headers {
			if idx, ok := columns[h]; ok {
				resolved[i] = idx
				break
			}
		}
		if f.Name == schema.Key {
			keyPos = i
		}
	}

	out := &Decoded{Records: make([]Record, 0)}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, formatError(err)
		}

		// key presence is checked before any coercion work
		if keyPos < 0 || cell(row, resolved[keyPos]) == "" {
			out.Dropped++
			continue
		}

		rec := make(Record, len(schema.Fields))
		for i, f := range schema.Fields {
			rec[f.Name] = coerce(f, cell(row, resolved[i]))
		}
		out.Records = append(out.Records, rec)
	}

	return out, nil
}

func headerIndex(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if _, seen := columns[h]; seen {
			continue
		}
		columns[h] = i
	}
	return columns
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func coerce(f Field, value string) any {
	switch f.Kind {
	case KindCount:
		return ParseCount(value)
	case KindAmount:
		return ParseAmount(value)
	case KindDate:
		return parseDate(value, f.Layouts)
	default:
		if f.Clean != nil {
			return f.Clean(value)
		}
		return value
	}
}

func parseDate(value string, layouts []string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &FormatError{Line: parseErr.StartLine, Err: err}
	}
	return &FormatError{Err: err}
}
