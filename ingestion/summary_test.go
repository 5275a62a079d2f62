package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	return []Record{
		{"sku": "A", "city": "Mumbai", "units": int64(10), "gmv": 100.5},
		{"sku": "B", "city": "Pune", "units": int64(0), "gmv": "40"},
		{"sku": "A", "city": "", "units": int64(5), "gmv": nil},
		{"sku": "C", "city": "Mumbai", "units": "x", "gmv": 9.5},
	}
}

var sampleSpec = SummarySpec{
	Sums: []Rollup{
		{Name: "totalUnits", Field: "units"},
		{Name: "totalGMV", Field: "gmv"},
	},
	Distinct: []Rollup{
		{Name: "uniqueSKUs", Field: "sku"},
		{Name: "uniqueCities", Field: "city"},
	},
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRecords(), sampleSpec)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 15.0, s.Sums["totalUnits"])
	assert.InDelta(t, 150.0, s.Sums["totalGMV"], 1e-9)
	assert.Equal(t, 3, s.Distinct["uniqueSKUs"])
	assert.Equal(t, 2, s.Distinct["uniqueCities"], "empty values are not counted")
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, sampleSpec)

	assert.Zero(t, s.Total)
	assert.Equal(t, map[string]float64{"totalUnits": 0, "totalGMV": 0}, s.Sums)
	assert.Equal(t, map[string]int{"uniqueSKUs": 0, "uniqueCities": 0}, s.Distinct)
}

func TestSummarizeSumsAreOrderIndependent(t *testing.T) {
	records := sampleRecords()
	reversed := make([]Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	a := Summarize(records, sampleSpec)
	b := Summarize(reversed, sampleSpec)
	assert.Equal(t, a.Sums, b.Sums)
	assert.Equal(t, a.Distinct, b.Distinct)
}

func TestSummaryMergeMatchesWholeSums(t *testing.T) {
	records := sampleRecords()
	whole := Summarize(records, sampleSpec)

	for split := 0; split <= len(records); split++ {
		merged := Summarize(records[:split], sampleSpec).Merge(Summarize(records[split:], sampleSpec))
		require.Equal(t, whole.Total, merged.Total, "split %d", split)
		for name, want := range whole.Sums {
			assert.InDelta(t, want, merged.Sums[name], 1e-9, "split %d %s", split, name)
		}
		for name, n := range merged.Distinct {
			assert.LessOrEqual(t, n, whole.Distinct[name], "split %d %s", split, name)
		}
	}
}
