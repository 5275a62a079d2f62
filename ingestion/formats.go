// Package ingestion decodes platform report exports into normalized records and
// hands them, with their rollups, to a persistence collaborator.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported upload payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatCSV represents comma separated values reports.
	FormatCSV DocumentFormat = "csv"
	// FormatPDF represents PDF documents such as purchase orders.
	FormatPDF DocumentFormat = "pdf"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv", ".txt":
		return FormatCSV
	case ".pdf":
		return FormatPDF
	default:
		return FormatUnknown
	}
}
