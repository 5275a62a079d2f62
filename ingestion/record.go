package ingestion

import "time"

// Record is one normalized report row keyed by canonical field name. Values
// are string, int64, float64 or time.Time depending on the field kind.
type Record map[string]any

// String returns the text value of field, or "".
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Number returns the numeric value of field, treating absent values as 0.
func (r Record) Number(field string) float64 {
	return ToNumber(r[field])
}

// Time returns the date value of field and whether it was set.
func (r Record) Time(field string) (time.Time, bool) {
	t, ok := r[field].(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}
