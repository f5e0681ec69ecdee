package readings

import (
	"context"
	"errors"
	"math"
	"time"

	"equipment-diagnosis/internal/diagnosis"
)

var (
	// ErrNotFound indicates no reading exists for the requested equipment or id.
	ErrNotFound = errors.New("readings: not found")
	// ErrInvalidReading indicates a reading that cannot be stored.
	ErrInvalidReading = errors.New("readings: invalid reading")
)

// Failure labels.
const (
	LabelNormal  = 0
	LabelFailure = 1
)

// Reading is one sensor sample for an equipment at a point in time.
type Reading struct {
	ID          int64
	Timestamp   time.Time
	EquipmentID string
	Temp        float64
	Vibration   float64
	Pressure    float64
	FailureType int

	// Analysis is nil until a diagnosis has been attached.
	Analysis *diagnosis.Result
}

// Validate checks the fields a store relies on.
func (r Reading) Validate() error {
	if r.EquipmentID == "" || r.Timestamp.IsZero() {
		return ErrInvalidReading
	}
	if r.FailureType != LabelNormal && r.FailureType != LabelFailure {
		return ErrInvalidReading
	}
	for _, value := range []float64{r.Temp, r.Vibration, r.Pressure} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return ErrInvalidReading
		}
	}
	return nil
}

// Repository persists readings.
type Repository interface {
	// Append stores readings in order and returns them with assigned IDs.
	Append(ctx context.Context, readings []Reading) ([]Reading, error)
	// Latest returns the newest reading for an equipment, see NewerThan.
	Latest(ctx context.Context, equipmentID string) (*Reading, error)
	// All returns every reading ordered by insertion.
	All(ctx context.Context) ([]Reading, error)
	// AttachAnalysis sets the diagnosis of a stored reading.
	AttachAnalysis(ctx context.Context, id int64, result diagnosis.Result) error
	// Count returns the number of stored readings.
	Count(ctx context.Context) (int, error)
}

// NewerThan reports whether a should be preferred over b as the latest
// reading: later timestamp first, then later insertion.
func NewerThan(a, b Reading) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
