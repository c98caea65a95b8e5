package export

import (
	"errors"
	"fmt"
	"strings"
)

// conversionFailedError reports that no attempt produced a marker.
type conversionFailedError struct {
	modelID string
	errs    []error
}

func (e *conversionFailedError) Error() string {
	if len(e.errs) == 0 {
		return "conversion failed for " + e.modelID + ": no success marker written"
	}
	parts := make([]string, len(e.errs))
	for i, err := range e.errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("conversion failed for %s: %s", e.modelID, strings.Join(parts, "; "))
}

func (e *conversionFailedError) Unwrap() []error { return e.errs }

// IsConversionFailed reports whether err is a terminal conversion failure.
func IsConversionFailed(err error) bool {
	var ce *conversionFailedError
	return errors.As(err, &ce)
}
