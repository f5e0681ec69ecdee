package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RecordCounter reports the number of stored readings.
type RecordCounter interface {
	Count(ctx context.Context) (int, error)
}

func registerStoreMetrics(records RecordCounter, logger *zap.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "stored_readings",
			Help: "Sensor readings currently in the record store",
		},
		func() float64 {
			return countRecords(records, logger)
		},
	))
}

func countRecords(records RecordCounter, logger *zap.Logger) float64 {
	if records == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := records.Count(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("metrics count query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
