package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"equipment-diagnosis/internal/diagnosis"
	readings "equipment-diagnosis/internal/readings/domain"
)

func reading(equipmentID string, ts time.Time, temp float64) readings.Reading {
	return readings.Reading{EquipmentID: equipmentID, Timestamp: ts, Temp: temp, Vibration: 10, Pressure: 100}
}

func TestReadingRepository_AppendAssignsIDsInOrder(t *testing.T) {
	repo := NewReadingRepository()
	ctx := context.Background()
	base := time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)

	stored, err := repo.Append(ctx, []readings.Reading{reading("EQ-1", base, 1), reading("EQ-1", base, 2)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored[0].ID != 1 || stored[1].ID != 2 {
		t.Fatalf("unexpected ids: %d %d", stored[0].ID, stored[1].ID)
	}

	// Duplicates accumulate.
	if _, err := repo.Append(ctx, []readings.Reading{reading("EQ-1", base, 1)}); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}
	count, _ := repo.Count(ctx)
	if count != 3 {
		t.Fatalf("expected 3 readings, got %d", count)
	}
}

func TestReadingRepository_AppendRejectsInvalidBatch(t *testing.T) {
	repo := NewReadingRepository()
	ctx := context.Background()
	batch := []readings.Reading{
		reading("EQ-1", time.Now(), 1),
		{EquipmentID: "", Timestamp: time.Now()},
	}
	if _, err := repo.Append(ctx, batch); !errors.Is(err, readings.ErrInvalidReading) {
		t.Fatalf("expected invalid reading error, got %v", err)
	}
	if count, _ := repo.Count(ctx); count != 0 {
		t.Fatalf("expected nothing stored, got %d", count)
	}
}

func TestReadingRepository_LatestByTimestampThenInsertion(t *testing.T) {
	repo := NewReadingRepository()
	ctx := context.Background()
	base := time.Date(2023, 11, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.Append(ctx, []readings.Reading{
		reading("EQ-1", base.Add(10*time.Minute), 1),
		reading("EQ-1", base, 2),
		reading("EQ-2", base.Add(time.Hour), 3),
		reading("EQ-1", base.Add(10*time.Minute), 4),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, err := repo.Latest(ctx, "EQ-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Temp != 4 {
		t.Fatalf("expected tie broken by later insertion, got temp %v", latest.Temp)
	}

	if _, err := repo.Latest(ctx, "EQ-404"); !errors.Is(err, readings.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReadingRepository_AttachAnalysis(t *testing.T) {
	repo := NewReadingRepository()
	ctx := context.Background()
	stored, err := repo.Append(ctx, []readings.Reading{reading("EQ-1", time.Now(), 1)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	result := diagnosis.Structured(diagnosis.StatusNormal, "ok", "none")
	if err := repo.AttachAnalysis(ctx, stored[0].ID, result); err != nil {
		t.Fatalf("attach: %v", err)
	}
	all, _ := repo.All(ctx)
	if all[0].Analysis == nil || *all[0].Analysis != result {
		t.Fatalf("expected analysis attached, got %+v", all[0].Analysis)
	}

	if err := repo.AttachAnalysis(ctx, 99, result); !errors.Is(err, readings.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReadingRepository_ConcurrentBatchesStayContiguous(t *testing.T) {
	defer goleak.VerifyNone(t)
	repo := NewReadingRepository()
	ctx := context.Background()
	const uploads, rowsPerUpload = 8, 50

	var wg sync.WaitGroup
	for u := 0; u < uploads; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			batch := make([]readings.Reading, rowsPerUpload)
			for i := range batch {
				batch[i] = reading(fmt.Sprintf("EQ-%d", u), time.Now(), float64(i))
			}
			if _, err := repo.Append(ctx, batch); err != nil {
				t.Errorf("append: %v", err)
			}
		}(u)
	}
	wg.Wait()

	all, _ := repo.All(ctx)
	if len(all) != uploads*rowsPerUpload {
		t.Fatalf("expected %d rows, got %d", uploads*rowsPerUpload, len(all))
	}
	for start := 0; start < len(all); start += rowsPerUpload {
		for i := 0; i < rowsPerUpload; i++ {
			row := all[start+i]
			if row.EquipmentID != all[start].EquipmentID || row.Temp != float64(i) {
				t.Fatalf("batch interleaved at row %d: %+v", start+i, row)
			}
		}
	}
}
