package ingestion

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldKind decides how a raw cell is coerced.
type FieldKind int

const (
	// KindText keeps the trimmed cell, defaulting to "".
	KindText FieldKind = iota
	// KindCount truncates to an integer (units, orders, stock counts).
	KindCount
	// KindAmount keeps a float (currency, MRP, GMV).
	KindAmount
	// KindDate parses with the field's layouts, defaulting to the zero time.
	KindDate
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCount:
		return "count"
	case KindAmount:
		return "amount"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON listings.
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Field maps one canonical field to the header strings a platform uses for it.
type Field struct {
	Name    string    `json:"name" validate:"required"`
	Headers []string  `json:"headers" validate:"required,min=1,dive,required"`
	Kind    FieldKind `json:"kind"`
	Layouts []string  `json:"layouts,omitempty"`

	// Clean rewrites text values after trimming.
	Clean func(string) string `json:"-"`
}

// Schema is the declarative column map for one platform report.
type Schema struct {
	Platform string      `json:"platform" validate:"required"`
	Dataset  string      `json:"dataset" validate:"required"`
	Key      string      `json:"key" validate:"required"`
	Fields   []Field     `json:"fields" validate:"required,min=1,dive"`
	Summary  SummarySpec `json:"summary"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the schema's structure and cross references.
func (s Schema) Validate() error {
	if err := structValidator().Struct(s); err != nil {
		return fmt.Errorf("schema %s/%s: %w", s.Platform, s.Dataset, err)
	}

	names := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("schema %s/%s: duplicate field %q", s.Platform, s.Dataset, f.Name)
		}
		names[f.Name] = struct{}{}
	}

	if _, ok := names[s.Key]; !ok {
		return fmt.Errorf("schema %s/%s: key %q is not a declared field", s.Platform, s.Dataset, s.Key)
	}
	for _, r := range append(append([]Rollup(nil), s.Summary.Sums...), s.Summary.Distinct...) {
		if _, ok := names[r.Field]; !ok {
			return fmt.Errorf("schema %s/%s: rollup %q references unknown field %q", s.Platform, s.Dataset, r.Name, r.Field)
		}
	}
	return nil
}

// Field returns the named field definition.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ColumnMap flattens the schema into source header -> canonical field name.
func (s Schema) ColumnMap() map[string]string {
	out := make(map[string]string)
	for _, f := range s.Fields {
		for _, h := range f.Headers {
			out[h] = f.Name
		}
	}
	return out
}
