package memory

import (
	"context"
	"errors"
	"sync"

	"equipment-diagnosis/internal/diagnosis"
	readings "equipment-diagnosis/internal/readings/domain"
)

// ReadingRepository is a volatile, process-lifetime record store.
type ReadingRepository struct {
	mu     sync.RWMutex
	rows   []readings.Reading
	byID   map[int64]int
	nextID int64
}

// NewReadingRepository constructs an empty repository.
func NewReadingRepository() *ReadingRepository {
	return &ReadingRepository{
		byID:   make(map[int64]int),
		nextID: 1,
	}
}

// Append stores a batch under one lock so rows of concurrent uploads never interleave.
func (r *ReadingRepository) Append(ctx context.Context, batch []readings.Reading) ([]readings.Reading, error) {
	_ = ctx
	if r == nil {
		return nil, errors.New("memory reading repo: nil repository")
	}
	for _, reading := range batch {
		if err := reading.Validate(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]readings.Reading, 0, len(batch))
	for _, reading := range batch {
		reading.ID = r.nextID
		r.nextID++
		r.byID[reading.ID] = len(r.rows)
		r.rows = append(r.rows, reading)
		stored = append(stored, reading)
	}
	return stored, nil
}

// Latest returns the newest reading for an equipment.
func (r *ReadingRepository) Latest(ctx context.Context, equipmentID string) (*readings.Reading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *readings.Reading
	for i := range r.rows {
		row := r.rows[i]
		if row.EquipmentID != equipmentID {
			continue
		}
		if latest == nil || readings.NewerThan(row, *latest) {
			found := row
			latest = &found
		}
	}
	if latest == nil {
		return nil, readings.ErrNotFound
	}
	return latest, nil
}

// All returns a snapshot of every reading.
func (r *ReadingRepository) All(ctx context.Context) ([]readings.Reading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]readings.Reading, len(r.rows))
	copy(result, r.rows)
	return result, nil
}

// AttachAnalysis sets the diagnosis of a stored reading.
func (r *ReadingRepository) AttachAnalysis(ctx context.Context, id int64, result diagnosis.Result) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return readings.ErrNotFound
	}
	analysis := result
	r.rows[idx].Analysis = &analysis
	return nil
}

// Count returns the number of stored readings.
func (r *ReadingRepository) Count(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows), nil
}
