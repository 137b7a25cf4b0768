package apperr

import "errors"

// Sentinel errors shared across features. Wrap them with fmt.Errorf("%w: ...")
// and inspect with errors.Is.
var (
	// ErrValidation indicates caller input that cannot be processed
	// (empty query, missing source key, malformed body).
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown source key, snapshot or job.
	ErrNotFound = errors.New("not found")

	// ErrProvider indicates an embedding or generative provider call failed.
	ErrProvider = errors.New("provider error")

	// ErrPersistence indicates a storage write failed.
	ErrPersistence = errors.New("persistence error")

	// ErrAlreadyProcessing indicates another worker holds the source key.
	ErrAlreadyProcessing = errors.New("source key is already being processed")
)

// Code maps an error to the API error code used in response envelopes.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyProcessing):
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
