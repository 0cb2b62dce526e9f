package aggregation

import (
	"log/slog"
	"sort"
	"sync"
)

// Code classifies a diagnostic entry.
type Code string

const (
	CodeMissingValue         Code = "missing_value"
	CodeUnparsableAttribute  Code = "unparsable_attribute"
	CodeUnresolvedMapping    Code = "unresolved_mapping"
	CodeUnresolvedBrand      Code = "unresolved_brand"
	CodeMissingParticipant   Code = "missing_participant"
	CodeParticipantFallback  Code = "participant_fallback"
	CodeMissingSubscore      Code = "missing_subscore"
	CodeLegacyNormalization  Code = "legacy_normalization"
	CodeApproximateNormalize Code = "approximate_normalization"
	CodeNormalizationFailed  Code = "normalization_failed"
)

// Warning is a recoverable per-item issue. ProductID is empty for
// score-wide warnings.
type Warning struct {
	Code      Code   `json:"code"`
	ProductID string `json:"product_id,omitempty"`
	Score     string `json:"score"`
	Message   string `json:"message"`
}

// Failure is a configuration error raised while normalizing one score of one product.
type Failure struct {
	ProductID string `json:"product_id"`
	Score     string `json:"score"`
	Err       error  `json:"-"`
}

// Diagnostics collects the warnings and failures of one batch run.
// It is shared by the forks of a run and is safe for concurrent use.
type Diagnostics struct {
	vertical string
	logger   *slog.Logger
	metrics  *Metrics

	mu            sync.Mutex
	warnings      []Warning
	failures      []Failure
	once          map[Code]map[string]struct{}
	unknownBrands int64
}

func newDiagnostics(vertical string, logger *slog.Logger, metrics *Metrics) *Diagnostics {
	return &Diagnostics{
		vertical: vertical,
		logger:   logger,
		metrics:  metrics,
		once:     make(map[Code]map[string]struct{}),
	}
}

// Warn records a per-item warning and logs it.
func (d *Diagnostics) Warn(code Code, productID, score string, err error) {
	d.mu.Lock()
	d.warnings = append(d.warnings, Warning{Code: code, ProductID: productID, Score: score, Message: err.Error()})
	d.mu.Unlock()

	d.metrics.incIssue(d.vertical, code)
	d.logger.Warn("score skipped for product",
		"code", code,
		"product_id", productID,
		"score", score,
		"error", err)
}

// WarnOnce records a score-wide warning the first time code is raised for
// score and reports whether it was recorded.
func (d *Diagnostics) WarnOnce(code Code, score, message string) bool {
	d.mu.Lock()
	seen, ok := d.once[code]
	if !ok {
		seen = make(map[string]struct{})
		d.once[code] = seen
	}
	if _, dup := seen[score]; dup {
		d.mu.Unlock()
		return false
	}
	seen[score] = struct{}{}
	d.warnings = append(d.warnings, Warning{Code: code, Score: score, Message: message})
	d.mu.Unlock()

	d.metrics.incIssue(d.vertical, code)
	if code == CodeLegacyNormalization {
		d.metrics.incLegacy(d.vertical)
	}
	d.logger.Warn(message, "code", code, "score", score)
	return true
}

// Fail records a normalization failure for one score of one product.
func (d *Diagnostics) Fail(productID, score string, err error) {
	d.mu.Lock()
	d.failures = append(d.failures, Failure{ProductID: productID, Score: score, Err: err})
	d.mu.Unlock()

	d.metrics.incIssue(d.vertical, CodeNormalizationFailed)
	d.logger.Error("score normalization failed",
		"product_id", productID,
		"score", score,
		"error", err)
}

// UnknownBrand counts a product whose brand rating could not be resolved.
func (d *Diagnostics) UnknownBrand(productID, brand string) {
	d.mu.Lock()
	d.unknownBrands++
	d.mu.Unlock()

	d.metrics.incUnknownBrand(d.vertical)
	d.logger.Debug("unknown brand", "product_id", productID, "brand", brand)
}

// Warnings returns a copy of the recorded warnings.
func (d *Diagnostics) Warnings() []Warning {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Warning(nil), d.warnings...)
}

// WarningsWithCode returns the recorded warnings carrying code.
func (d *Diagnostics) WarningsWithCode(code Code) []Warning {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Warning
	for _, w := range d.warnings {
		if w.Code == code {
			out = append(out, w)
		}
	}
	return out
}

// Failures returns a copy of the recorded failures.
func (d *Diagnostics) Failures() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Failure(nil), d.failures...)
}

// LegacyScores returns the score names normalized with the legacy fallback.
func (d *Diagnostics) LegacyScores() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.once[CodeLegacyNormalization]))
	for name := range d.once[CodeLegacyNormalization] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBrands returns the number of products with an unresolved brand.
func (d *Diagnostics) UnknownBrands() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unknownBrands
}
