package aggregation

import "errors"

// Per-item errors. They drop one score for one product and never abort a run.
var (
	ErrMissingValue        = errors.New("missing or non-finite score value")
	ErrUnparsableAttribute = errors.New("unparsable attribute value")
	ErrUnresolvedMapping   = errors.New("no mapping for categorical attribute value")
	ErrUnresolvedBrand     = errors.New("unresolved brand rating")
	ErrMissingParticipant  = errors.New("missing participant score")
	ErrMissingSubscore     = errors.New("missing composite subscore")
)

var (
	// ErrCompositeAborted aborts a whole run when composite scoring hits an unexpected error.
	ErrCompositeAborted = errors.New("composite scoring aborted")

	// ErrRunFinished is returned when a run is used after Done.
	ErrRunFinished = errors.New("batch run already finished")
)
