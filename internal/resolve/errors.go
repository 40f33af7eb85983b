package resolve

import (
	"errors"
	"fmt"
)

var ErrInvalidURL = errors.New("url must be an absolute http or https URL")

const (
	ReasonTimeout            = "timeout"
	ReasonNoFormats          = "no downloadable formats"
	ReasonMalformedExtractor = "extractor returned no media"
)

// ExtractionFailedError is returned when the extraction capability could
// not produce usable media for a URL. The Reason is suitable for
// presenting to the user.
type ExtractionFailedError struct {
	Reason string
	Err    error
}

func (err *ExtractionFailedError) Error() string {
	return fmt.Sprintf("extraction failed: %s", err.Reason)
}

func (err *ExtractionFailedError) Unwrap() error { return err.Err }

// IsTimeout reports whether the extraction was abandoned because
// it exceeded the configured timeout.
func (err *ExtractionFailedError) IsTimeout() bool { return err.Reason == ReasonTimeout }
