package ingestion

import (
	"regexp"
	"strings"
)

// Canonical fields of a purchase-order line item.
const (
	POFieldItemCode      = "item_code"
	POFieldHSN           = "hsn_code"
	POFieldUPC           = "upc"
	POFieldDescription   = "description"
	POFieldBasicCost     = "basic_cost"
	POFieldIGSTPercent   = "igst_percent"
	POFieldCessPercent   = "cess_percent"
	POFieldAddtCess      = "addt_cess"
	POFieldTaxAmount     = "tax_amount"
	POFieldLandingRate   = "landing_rate"
	POFieldQuantity      = "quantity"
	POFieldMRP           = "mrp"
	POFieldMarginPercent = "margin_percent"
	POFieldTotalAmount   = "total_amount"
)

// PurchaseOrderSummary rolls up the line items of one purchase order.
var PurchaseOrderSummary = SummarySpec{
	Sums: []Rollup{
		{Name: "totalQuantity", Field: POFieldQuantity},
		{Name: "totalAmount", Field: POFieldTotalAmount},
	},
	Distinct: []Rollup{
		{Name: "uniqueItems", Field: POFieldItemCode},
	},
}

// amountColumns are the numeric columns that follow the description, in
// table order. Quantity is read as a count, everything else as an amount.
var amountColumns = []string{
	POFieldBasicCost,
	POFieldIGSTPercent,
	POFieldCessPercent,
	POFieldAddtCess,
	POFieldTaxAmount,
	POFieldLandingRate,
	POFieldQuantity,
	POFieldMRP,
	POFieldMarginPercent,
	POFieldTotalAmount,
}

var (
	poNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)P\.O\.\s*Number\s*:\s*(\d+)`),
		regexp.MustCompile(`(?i)\bPO\s*(?:Number|No\.?)\s*:\s*(\d+)`),
		regexp.MustCompile(`(?i)Purchase\s*Order\s*(?:Number|No\.?)?\s*:\s*(\d+)`),
	}
	poDatePattern    = regexp.MustCompile(`(?i)\bDate\s*:\s*(.+?)(?:\s+PO\s*Type\b|$)`)
	poTotalQuantity  = regexp.MustCompile(`(?i)Total\s+Quantity[:\s]*([\d,]+)`)
	poTotalAmount    = regexp.MustCompile(`(?i)Total\s+Amount[:\s]*([\d,]+(?:\.\d+)?)`)
	poItemCodeToken  = regexp.MustCompile(`^\d{6,10}$`)
	poHSNToken       = regexp.MustCompile(`^\d{8}$`)
	poUPCToken       = regexp.MustCompile(`^\d{10,15}$`)
	poNumericToken   = regexp.MustCompile(`^\d[\d,]*(?:\.\d+)?$`)
	poDecimalToken   = regexp.MustCompile(`^\d[\d,]*\.\d+$`)
	poSectionEndings = []string{"total quantity", "total amount", "grand total", "sub total"}
)

// PurchaseOrder is the header and line items read from a purchase-order PDF.
type PurchaseOrder struct {
	Number string   `json:"poNumber"`
	Date   string   `json:"date"`
	Items  []Record `json:"items"`
	// Skipped counts table rows that named an item but had no usable quantity.
	Skipped int     `json:"skipped"`
	Summary Summary `json:"summary"`
	// Stated totals printed on the document, zero when absent.
	StatedQuantity int64   `json:"statedQuantity"`
	StatedAmount   float64 `json:"statedAmount"`
}

// ParsePurchaseOrder reads the PO header and line-item table from the
// reconstructed lines of a purchase-order PDF. Rows are taken from the table
// that follows an "Item Code ... HSN" header; without such a header every
// line is tried. An item row is an item code followed by an 8 digit HSN code,
// an optional UPC, a description and at least ten numeric columns.
func ParsePurchaseOrder(lines []string) PurchaseOrder {
	var po PurchaseOrder
	for _, line := range lines {
		if po.Number == "" {
			po.Number = firstMatch(poNumberPatterns, line)
		}
		if po.Date == "" {
			if m := poDatePattern.FindStringSubmatch(line); m != nil {
				po.Date = strings.TrimSpace(m[1])
			}
		}
		if m := poTotalQuantity.FindStringSubmatch(line); m != nil && po.StatedQuantity == 0 {
			po.StatedQuantity = ParseCount(stripThousands(m[1]))
		}
		if m := poTotalAmount.FindStringSubmatch(line); m != nil && po.StatedAmount == 0 {
			po.StatedAmount = ParseAmount(stripThousands(m[1]))
		}
	}

	rows := itemTable(lines)
	if rows == nil {
		rows = lines
	}
	po.Items = make([]Record, 0, len(rows))
	for _, line := range rows {
		rec, ok := parseItemLine(line)
		if !ok {
			continue
		}
		if rec.Number(POFieldQuantity) <= 0 {
			po.Skipped++
			continue
		}
		po.Items = append(po.Items, rec)
	}
	po.Summary = Summarize(po.Items, PurchaseOrderSummary)
	return po
}

// itemTable returns the lines between the item table header and the first
// totals line, or nil when no header is present.
func itemTable(lines []string) []string {
	start := -1
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "item code") && strings.Contains(lower, "hsn") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil
	}

	out := []string{}
	for _, line := range lines[start:] {
		lower := strings.ToLower(line)
		for _, end := range poSectionEndings {
			if strings.Contains(lower, end) {
				return out
			}
		}
		out = append(out, line)
	}
	return out
}

func parseItemLine(line string) (Record, bool) {
	tokens := strings.Fields(line)

	code := -1
	for i := 0; i+1 < len(tokens); i++ {
		if poItemCodeToken.MatchString(tokens[i]) && poHSNToken.MatchString(tokens[i+1]) {
			code = i
			break
		}
	}
	if code < 0 {
		return nil, false
	}

	rec := Record{
		POFieldItemCode: tokens[code],
		POFieldHSN:      tokens[code+1],
		POFieldUPC:      "",
	}
	next := code + 2
	if next < len(tokens) && poUPCToken.MatchString(tokens[next]) {
		rec[POFieldUPC] = tokens[next]
		next++
	}

	// the description runs up to the first decimal column
	descEnd := next
	for descEnd < len(tokens) && !poDecimalToken.MatchString(tokens[descEnd]) {
		descEnd++
	}
	rec[POFieldDescription] = strings.Join(tokens[next:descEnd], " ")

	values := tokens[descEnd:]
	if len(values) < len(amountColumns) {
		return nil, false
	}
	for _, v := range values[:len(amountColumns)] {
		if !poNumericToken.MatchString(v) {
			return nil, false
		}
	}
	for i, field := range amountColumns {
		v := stripThousands(values[i])
		if field == POFieldQuantity {
			rec[field] = ParseCount(v)
			continue
		}
		rec[field] = ParseAmount(v)
	}
	return rec, true
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
