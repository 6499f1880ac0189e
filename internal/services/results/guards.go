package results

import (
	"errors"
	"fmt"
	"math"
	"time"

	"streamocr-worker-go/internal/models"
)

// ErrInvalidInput reports guard parameters that indicate a configuration or clock bug
var ErrInvalidInput = errors.New("invalid input")

// Outcome is the result of offering a reading to the store. Rejections are not errors.
type Outcome string

const (
	Accepted         Outcome = "accepted"
	Unchanged        Outcome = "unchanged" // identical image, recognition skipped
	RejectedDecrease Outcome = "rejected_decrease"
	RejectedDelta    Outcome = "rejected_delta"
	RejectedStale    Outcome = "rejected_stale"
)

// Guards are the per-source acceptance rules
type Guards struct {
	AllowDecreasing bool
	DeltaTracking   bool
	DeltaIncrease   float64
	DeltaTimespan   float64 // Seconds
}

// GuardsFrom extracts the guard settings of a source
func GuardsFrom(s models.SchedulingSettings) Guards {
	return Guards{
		AllowDecreasing: s.AllowDecreasingValues,
		DeltaTracking:   s.DeltaTracking,
		DeltaIncrease:   s.DeltaIncrease,
		DeltaTimespan:   s.DeltaTimespan,
	}
}

// CheckMonotonic reports whether newValue may replace last
func CheckMonotonic(last *models.OcrAggregate, newValue float64, allowDecreasing bool) bool {
	if allowDecreasing || last == nil {
		return true
	}
	return newValue >= last.Value
}

// CheckDelta accepts newValue if it moved at most increase/timespanSeconds per
// second since the last accepted reading. No prior reading and an identical
// value are always accepted.
func CheckDelta(last *models.OcrAggregate, newValue, increase, timespanSeconds float64, now time.Time) (bool, error) {
	if timespanSeconds <= 0 {
		return false, fmt.Errorf("%w: delta timespan must be positive, got %v", ErrInvalidInput, timespanSeconds)
	}
	if last == nil || last.Timestamp.IsZero() {
		return true, nil
	}
	if newValue == last.Value {
		return true, nil
	}

	elapsed := now.Sub(last.Timestamp).Seconds()
	if elapsed < 0 {
		return false, fmt.Errorf("%w: reading at %s precedes last accepted reading at %s",
			ErrInvalidInput, now.Format(time.RFC3339Nano), last.Timestamp.Format(time.RFC3339Nano))
	}

	allowed := increase / timespanSeconds * elapsed
	return math.Abs(newValue-last.Value) <= allowed, nil
}

// evaluate applies the guards in order: monotonicity, then delta rate (or
// timestamp ordering when delta tracking is off).
func evaluate(last *models.OcrAggregate, candidate models.OcrAggregate, g Guards) (Outcome, error) {
	if !CheckMonotonic(last, candidate.Value, g.AllowDecreasing) {
		return RejectedDecrease, nil
	}
	if g.DeltaTracking {
		ok, err := CheckDelta(last, candidate.Value, g.DeltaIncrease, g.DeltaTimespan, candidate.Timestamp)
		if err != nil {
			return "", err
		}
		if !ok {
			return RejectedDelta, nil
		}
		return Accepted, nil
	}
	if last != nil && candidate.Timestamp.Before(last.Timestamp) {
		return RejectedStale, nil
	}
	return Accepted, nil
}
