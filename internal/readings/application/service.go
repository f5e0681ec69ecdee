package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"equipment-diagnosis/internal/diagnosis"
	"equipment-diagnosis/internal/observability/metrics"
	readings "equipment-diagnosis/internal/readings/domain"
)

// ErrClassification wraps classifier failures during ingestion.
var ErrClassification = errors.New("failure classification error")

// Classifier labels a reading that arrived without a failure label.
type Classifier interface {
	Predict(temp, vibration, pressure float64) (int, error)
}

// AnalysisNotifier receives completed analyses.
type AnalysisNotifier interface {
	Notify(ctx context.Context, event AnalysisEvent)
}

// AnalysisEvent describes a diagnosis attached to a reading.
type AnalysisEvent struct {
	Type        string           `json:"type"`
	ReadingID   int64            `json:"reading_id"`
	EquipmentID string           `json:"equipment_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Temp        float64          `json:"temp"`
	Vibration   float64          `json:"vibration"`
	Pressure    float64          `json:"pressure"`
	Analysis    diagnosis.Result `json:"analysis"`
	AnalyzedAt  time.Time        `json:"analyzed_at"`
}

// NewReading is a parsed upload row. FailureType is nil when the row had no label.
type NewReading struct {
	Timestamp   time.Time
	EquipmentID string
	Temp        float64
	Vibration   float64
	Pressure    float64
	FailureType *int
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Service runs the ingestion-to-diagnosis pipeline over a record store.
type Service struct {
	repo       readings.Repository
	classifier Classifier
	diagnoser  diagnosis.Diagnoser
	notifier   AnalysisNotifier
	clock      Clock
	logger     *zap.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier for completed analyses.
func WithNotifier(notifier AnalysisNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the pipeline service.
func NewService(repo readings.Repository, classifier Classifier, diagnoser diagnosis.Diagnoser, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("readings service: nil repository")
	}
	if classifier == nil {
		return nil, errors.New("readings service: nil classifier")
	}
	if diagnoser == nil {
		return nil, errors.New("readings service: nil diagnoser")
	}
	s := &Service{
		repo:       repo,
		classifier: classifier,
		diagnoser:  diagnoser,
		clock:      systemClock{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest labels unlabelled rows and appends the batch. Rows are labelled
// before anything is written, so a classifier failure stores nothing.
func (s *Service) Ingest(ctx context.Context, rows []NewReading) (int, error) {
	batch := make([]readings.Reading, 0, len(rows))
	for i, row := range rows {
		reading := readings.Reading{
			Timestamp:   row.Timestamp.UTC(),
			EquipmentID: row.EquipmentID,
			Temp:        row.Temp,
			Vibration:   row.Vibration,
			Pressure:    row.Pressure,
		}
		if row.FailureType != nil {
			reading.FailureType = *row.FailureType
		} else {
			label, err := s.classifier.Predict(row.Temp, row.Vibration, row.Pressure)
			if err != nil {
				return 0, fmt.Errorf("%w: row %d: %v", ErrClassification, i+1, err)
			}
			reading.FailureType = label
		}
		batch = append(batch, reading)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	stored, err := s.repo.Append(ctx, batch)
	if err != nil {
		return 0, err
	}
	metrics.AddIngestRows(len(stored))
	s.logger.Info("readings ingested", zap.Int("rows", len(stored)))
	return len(stored), nil
}

// Analyze diagnoses the latest reading of an equipment and attaches the
// result to it. The store is not locked while the diagnosis runs. Upstream
// failures are part of the returned result; only lookup and persistence
// failures are errors.
func (s *Service) Analyze(ctx context.Context, equipmentID string) (diagnosis.Result, error) {
	start := s.clock.Now()
	if equipmentID == "" {
		return diagnosis.Result{}, readings.ErrNotFound
	}

	latest, err := s.repo.Latest(ctx, equipmentID)
	if err != nil {
		return diagnosis.Result{}, err
	}

	result := s.diagnoser.Diagnose(ctx, diagnosis.Input{
		EquipmentID: latest.EquipmentID,
		Temp:        latest.Temp,
		Vibration:   latest.Vibration,
		Pressure:    latest.Pressure,
	})

	if err := s.repo.AttachAnalysis(ctx, latest.ID, result); err != nil {
		return diagnosis.Result{}, fmt.Errorf("attach analysis: %w", err)
	}

	now := s.clock.Now()
	metrics.ObserveAnalyze(string(result.Kind), now.Sub(start))
	s.logger.Info("analysis attached",
		zap.String("equipment_id", equipmentID),
		zap.Int64("reading_id", latest.ID),
		zap.String("kind", string(result.Kind)))

	if s.notifier != nil {
		s.notifier.Notify(ctx, AnalysisEvent{
			Type:        "analysis",
			ReadingID:   latest.ID,
			EquipmentID: latest.EquipmentID,
			Timestamp:   latest.Timestamp,
			Temp:        latest.Temp,
			Vibration:   latest.Vibration,
			Pressure:    latest.Pressure,
			Analysis:    result,
			AnalyzedAt:  now,
		})
	}
	return result, nil
}

// LatestReading returns the newest reading of an equipment.
func (s *Service) LatestReading(ctx context.Context, equipmentID string) (*readings.Reading, error) {
	if equipmentID == "" {
		return nil, readings.ErrNotFound
	}
	return s.repo.Latest(ctx, equipmentID)
}

// DashboardData returns every stored reading; an empty store yields an empty slice.
func (s *Service) DashboardData(ctx context.Context) ([]readings.Reading, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []readings.Reading{}
	}
	return all, nil
}

// TotalRecords returns the store size.
func (s *Service) TotalRecords(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
