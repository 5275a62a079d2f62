package pdftext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageLines(t *testing.T) {
	tests := []struct {
		name      string
		fragments []Fragment
		want      []string
	}{
		{
			name: "small vertical offset stays on one line",
			fragments: []Fragment{
				{Text: "World", X: 60, Y: 700},
				{Text: "Hello", X: 10, Y: 702},
			},
			want: []string{"Hello World"},
		},
		{
			name: "tolerance is inclusive",
			fragments: []Fragment{
				{Text: "A", X: 10, Y: 500},
				{Text: "B", X: 20, Y: 503},
			},
			want: []string{"A B"},
		},
		{
			name: "larger offset starts a new line, top first",
			fragments: []Fragment{
				{Text: "Total", X: 10, Y: 100},
				{Text: "PO Number", X: 10, Y: 700},
			},
			want: []string{"PO Number", "Total"},
		},
		{
			name: "blank fragments are ignored",
			fragments: []Fragment{
				{Text: "  ", X: 0, Y: 400},
				{Text: "Qty", X: 5, Y: 300},
				{Text: "", X: 50, Y: 300},
			},
			want: []string{"Qty"},
		},
		{
			name: "existing whitespace is not doubled",
			fragments: []Fragment{
				{Text: "Item ", X: 0, Y: 10},
				{Text: "Code", X: 30, Y: 10},
				{Text: " 42", X: 60, Y: 10},
			},
			want: []string{"Item Code 42"},
		},
		{
			name: "table rows",
			fragments: []Fragment{
				{Text: "SKU", X: 10, Y: 500},
				{Text: "Qty", X: 200, Y: 500},
				{Text: "ZP-1", X: 10, Y: 480},
				{Text: "12", X: 200, Y: 481},
				{Text: "ZP-2", X: 10, Y: 460},
				{Text: "7", X: 200, Y: 459},
			},
			want: []string{"SKU Qty", "ZP-1 12", "ZP-2 7"},
		},
		{
			name: "drift chains through neighbours",
			fragments: []Fragment{
				{Text: "a", X: 0, Y: 100},
				{Text: "b", X: 10, Y: 98},
				{Text: "c", X: 20, Y: 96},
			},
			want: []string{"a b c"},
		},
		{
			name:      "no fragments",
			fragments: nil,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PageLines(tt.fragments))
		})
	}
}

func TestPageLinesDoesNotReorderCallerSlice(t *testing.T) {
	fragments := []Fragment{
		{Text: "b", X: 10, Y: 100},
		{Text: "a", X: 0, Y: 200},
	}
	PageLines(fragments)
	assert.Equal(t, "b", fragments[0].Text)
}

func TestReconstruct(t *testing.T) {
	pages := []Page{
		{Number: 1, Fragments: []Fragment{
			{Text: "Purchase Order", X: 10, Y: 750},
			{Text: "Vendor:", X: 10, Y: 700},
			{Text: "Acme", X: 80, Y: 701},
		}},
		{Number: 2, Fragments: nil},
		{Number: 3, Fragments: []Fragment{{Text: "Total 120", X: 10, Y: 90}}},
	}

	assert.Equal(t, "Purchase Order\nVendor: Acme\n\nTotal 120\n", Reconstruct(pages))
	assert.Equal(t, "", Reconstruct(nil))
}

func TestCleanTextAndLines(t *testing.T) {
	raw := "  PO   No:  991 \r\n\n\n Date:\t2024-05-01  \n"

	assert.Equal(t, "PO No: 991\nDate: 2024-05-01", CleanText(raw))
	assert.Equal(t, []string{"PO No: 991", "Date: 2024-05-01"}, Lines(raw))
	assert.Nil(t, Lines(" \n\t\n"))
}

func TestDocumentAllLines(t *testing.T) {
	doc := &Document{Pages: []PageText{
		{Number: 1, Lines: []string{"PO 1", "Vendor"}},
		{Number: 2},
		{Number: 3, Lines: []string{"Total 12"}},
	}}
	assert.Equal(t, []string{"PO 1", "Vendor", "Total 12"}, doc.AllLines())
	assert.Nil(t, (&Document{}).AllLines())
}
