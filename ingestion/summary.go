package ingestion

// Rollup names one aggregate and the canonical field it reads.
type Rollup struct {
	Name  string `json:"name" validate:"required"`
	Field string `json:"field" validate:"required"`
}

// SummarySpec lists which fields to sum and which to count distinct values of.
type SummarySpec struct {
	Sums     []Rollup `json:"sums" validate:"dive"`
	Distinct []Rollup `json:"distinct" validate:"dive"`
}

// Summary holds the rollups for one decoded dataset.
type Summary struct {
	Total    int                `json:"totalRecords"`
	Sums     map[string]float64 `json:"sums"`
	Distinct map[string]int     `json:"distinct"`
}

// Summarize computes the rollups in spec over records.
func Summarize(records []Record, spec SummarySpec) Summary {
	out := Summary{
		Total:    len(records),
		Sums:     make(map[string]float64, len(spec.Sums)),
		Distinct: make(map[string]int, len(spec.Distinct)),
	}

	for _, r := range spec.Sums {
		var total float64
		for _, rec := range records {
			total += rec.Number(r.Field)
		}
		out.Sums[r.Name] = total
	}

	for _, r := range spec.Distinct {
		seen := make(map[string]struct{})
		for _, rec := range records {
			if v := rec.String(r.Field); v != "" {
				seen[v] = struct{}{}
			}
		}
		out.Distinct[r.Name] = len(seen)
	}

	return out
}

// Merge combines two summaries of disjoint record sets. Totals and sums add;
// each distinct count keeps the larger value.
func (s Summary) Merge(other Summary) Summary {
	out := Summary{
		Total:    s.Total + other.Total,
		Sums:     make(map[string]float64, len(s.Sums)),
		Distinct: make(map[string]int, len(s.Distinct)),
	}
	for k, v := range s.Sums {
		out.Sums[k] = v
	}
	for k, v := range other.Sums {
		out.Sums[k] += v
	}
	for k, v := range s.Distinct {
		out.Distinct[k] = v
	}
	for k, v := range other.Distinct {
		if v > out.Distinct[k] {
			out.Distinct[k] = v
		}
	}
	return out
}
