package normalize

import "errors"

// Configuration errors returned by strategies. They are surfaced for the
// score and product being normalized and do not abort a batch by themselves.
var (
	// ErrUnknownMethod is returned when a method name has no strategy.
	ErrUnknownMethod = errors.New("unknown normalization method")

	// ErrUnknownDegeneratePolicy is returned when a degenerate policy name is not recognized.
	ErrUnknownDegeneratePolicy = errors.New("unknown degenerate distribution policy")

	// ErrMissingPolicyParameter is returned when a strategy requires a parameter the policy does not set.
	ErrMissingPolicyParameter = errors.New("missing policy parameter")

	// ErrInvalidBounds is returned when bounds are inverted or collapsed.
	ErrInvalidBounds = errors.New("invalid bounds")

	// ErrMissingMappingEntry is returned when a fixed mapping has no entry for a value.
	ErrMissingMappingEntry = errors.New("missing mapping entry")

	// ErrDegenerateDistribution is returned for a zero-variance or collapsed
	// distribution under the ERROR degenerate policy.
	ErrDegenerateDistribution = errors.New("degenerate distribution")

	// ErrMissingStatistics is returned when a strategy needs batch statistics that were never accumulated.
	ErrMissingStatistics = errors.New("missing batch statistics")
)
