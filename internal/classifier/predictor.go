package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"equipment-diagnosis/internal/observability/metrics"
)

// ErrCorruptModel indicates the persisted model file could not be used.
var ErrCorruptModel = errors.New("classifier: corrupt model file")

// Predictor lazily loads or fits the failure model and serves predictions.
// A zero path keeps the model in memory only.
type Predictor struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	model *Model
}

// NewPredictor constructs a predictor backed by the model file at path.
func NewPredictor(path string, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{path: path, logger: logger}
}

// Predict returns the failure label (0 or 1) for a reading. Load and fit
// failures are returned; there is no default label.
func (p *Predictor) Predict(temp, vibration, pressure float64) (int, error) {
	model, err := p.ensureModel()
	if err != nil {
		metrics.IncClassifierError()
		return 0, err
	}
	label := model.Predict(Features{temp, vibration, pressure})
	metrics.IncPrediction(strconv.Itoa(label))
	return label, nil
}

func (p *Predictor) ensureModel() (*Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}

	if p.path != "" {
		model, err := LoadModel(p.path)
		if err == nil {
			p.logger.Info("failure model loaded", zap.String("path", p.path))
			p.model = model
			return model, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		p.logger.Info("failure model not found, fitting exemplar model", zap.String("path", p.path))
	}

	model, err := Fit(TrainingSet(), DefaultFitOptions)
	if err != nil {
		return nil, err
	}
	if p.path != "" {
		if err := SaveModel(p.path, model); err != nil {
			return nil, err
		}
		p.logger.Info("failure model saved", zap.String("path", p.path))
	}
	p.model = model
	return model, nil
}

// LoadModel reads a model file. A missing file yields an error wrapping
// os.ErrNotExist; unreadable content wraps ErrCorruptModel.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: read model: %w", err)
	}
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptModel, path, err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptModel, path, err)
	}
	return &model, nil
}

// SaveModel writes the model atomically via a temp file and rename.
func SaveModel(path string, model *Model) error {
	if err := model.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("classifier: create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("classifier: create temp model: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("classifier: write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("classifier: write model: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("classifier: save model: %w", err)
	}
	return nil
}
