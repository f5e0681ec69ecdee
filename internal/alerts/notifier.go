package alerts

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"equipment-diagnosis/internal/diagnosis"
	"equipment-diagnosis/internal/observability/metrics"
	"equipment-diagnosis/internal/readings/application"
)

// Clock provides time for cooldown checks.
type Clock interface {
	Now() time.Time
}

// ReportURLResolver returns a report link for an equipment, or "".
type ReportURLResolver func(equipmentID string) string

// ThreatNotifier sends an alert for every analysis whose status is a threat.
// Other analyses are ignored.
type ThreatNotifier struct {
	channel   Channel
	template  *Template
	clock     Clock
	logger    *zap.Logger
	cooldown  time.Duration
	reportURL ReportURLResolver
	timeout   time.Duration

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the notifier.
type Option func(*ThreatNotifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *ThreatNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown suppresses repeated alerts for the same equipment within interval.
func WithCooldown(interval time.Duration) Option {
	return func(n *ThreatNotifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *ThreatNotifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// WithSendTimeout bounds a single webhook delivery.
func WithSendTimeout(timeout time.Duration) Option {
	return func(n *ThreatNotifier) {
		if timeout > 0 {
			n.timeout = timeout
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *ThreatNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewThreatNotifier constructs a threat notifier.
func NewThreatNotifier(channel Channel, template *Template, opts ...Option) (*ThreatNotifier, error) {
	if channel == nil {
		return nil, errors.New("threat notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &ThreatNotifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   zap.NewNop(),
		timeout:  5 * time.Second,
		sent:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.AnalysisNotifier.
func (n *ThreatNotifier) Notify(ctx context.Context, event application.AnalysisEvent) {
	if n == nil || !event.Analysis.IsThreat() {
		return
	}
	content, err := n.template.Render(n.buildTemplateData(event))
	if err != nil {
		n.logger.Warn("alert render failed", zap.Error(err))
		metrics.IncAlert(metrics.ResultError)
		return
	}
	reservedAt, ok := n.reserve(event.EquipmentID)
	if !ok {
		n.logger.Debug("alert suppressed by cooldown", zap.String("equipment_id", event.EquipmentID))
		return
	}

	// Delivery must not be cut short by the request that triggered it.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.channel.Send(sendCtx, content); err != nil {
		n.logger.Warn("alert delivery failed",
			zap.String("equipment_id", event.EquipmentID),
			zap.Error(err))
		metrics.IncAlert(metrics.ResultError)
		n.release(event.EquipmentID, reservedAt)
		return
	}
	metrics.IncAlert(metrics.ResultSuccess)
}

func (n *ThreatNotifier) buildTemplateData(event application.AnalysisEvent) TemplateData {
	reportURL := ""
	if n.reportURL != nil {
		reportURL = n.reportURL(event.EquipmentID)
	}
	return TemplateData{
		EquipmentID:    event.EquipmentID,
		ReadingID:      event.ReadingID,
		Timestamp:      event.Timestamp.UTC().Format(time.RFC3339Nano),
		Temp:           formatFloat(event.Temp),
		Vibration:      formatFloat(event.Vibration),
		Pressure:       formatFloat(event.Pressure),
		Status:         event.Analysis.Status,
		StatusLabel:    statusLabel(event.Analysis.Status),
		Diagnosis:      event.Analysis.Diagnosis,
		Recommendation: event.Analysis.Recommendation,
		AnalyzedAt:     event.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		ReportURL:      reportURL,
	}
}

func statusLabel(status string) string {
	switch status {
	case diagnosis.StatusThreat:
		return "Threat"
	case diagnosis.StatusCaution:
		return "Caution"
	case diagnosis.StatusNormal:
		return "Normal"
	default:
		return status
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// reserve claims the cooldown slot for an equipment. The check and the claim
// happen under one lock so concurrent threats for the same equipment send once.
// Content is not compared: every diagnosis text differs.
func (n *ThreatNotifier) reserve(equipmentID string) (time.Time, bool) {
	if n.cooldown <= 0 {
		return time.Time{}, true
	}
	now := n.clock.Now().UTC()
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.sent[equipmentID]; ok && now.Sub(last) < n.cooldown {
		return time.Time{}, false
	}
	n.sent[equipmentID] = now
	return now, true
}

// release frees a slot claimed by reserve after a failed delivery, so the
// next threat is not suppressed.
func (n *ThreatNotifier) release(equipmentID string, at time.Time) {
	if n.cooldown <= 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.sent[equipmentID]; ok && last.Equal(at) {
		delete(n.sent, equipmentID)
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
