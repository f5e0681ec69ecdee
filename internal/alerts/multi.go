package alerts

import (
	"context"

	"equipment-diagnosis/internal/readings/application"
)

// MultiNotifier dispatches analysis events to multiple notifiers.
type MultiNotifier struct {
	notifiers []application.AnalysisNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...application.AnalysisNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event application.AnalysisEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}
