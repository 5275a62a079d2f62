package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSchema indicates no schema is registered for a platform/dataset pair.
	ErrUnknownSchema = errors.New("unknown report schema")

	// ErrUnsupportedFormat indicates the upload is not a tabular format we decode.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrInvalidUpload indicates the upload metadata failed validation.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrDuplicateBatch is returned by a Store when a batch with the same
	// platform, dataset and content hash was committed concurrently.
	ErrDuplicateBatch = errors.New("batch already stored")
)

// FormatError reports a structural failure in delimited input. The whole
// decode call fails; no partial records are returned.
type FormatError struct {
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed report at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed report: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
