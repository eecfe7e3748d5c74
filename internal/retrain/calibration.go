package retrain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketlifecycle/config"
	"marketlifecycle/internal/inference"
	"marketlifecycle/internal/model"
	"marketlifecycle/internal/notify"
	"marketlifecycle/internal/training"
)

// CalibrationSnapshot is the most recently computed Brier/ECE/MCE
// reading for a production model, readable through Snapshot without
// recomputing it. The retrain controller and its promotion gate do not
// read it.
type CalibrationSnapshot struct {
	Brier      float64
	ECE        float64
	MCE        float64
	N          int
	ComputedAt time.Time
}

// CalibrationMonitor is a standalone long-lived task that periodically
// recomputes the production model's realized calibration from labeled
// Inference Records, independent of the drift-triggered retrain loop.
type CalibrationMonitor struct {
	Inferences *inference.Store
	Registry   *model.Repository
	Notify     *notify.Client
	Logger     *slog.Logger
	Cfg        config.RetrainConfig

	mu        sync.RWMutex
	snapshots map[string]CalibrationSnapshot
	lastAlert map[string]time.Time
}

func NewCalibrationMonitor(inferences *inference.Store, registry *model.Repository, notifier *notify.Client, logger *slog.Logger, cfg config.RetrainConfig) *CalibrationMonitor {
	return &CalibrationMonitor{
		Inferences: inferences, Registry: registry, Notify: notifier, Logger: logger, Cfg: cfg,
		snapshots: make(map[string]CalibrationSnapshot),
		lastAlert: make(map[string]time.Time),
	}
}

// Snapshot returns the last computed calibration reading for a model
// name, or false if none has been computed yet.
func (m *CalibrationMonitor) Snapshot(modelName string) (CalibrationSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[modelName]
	return s, ok
}

// Run polls every `every` tick and recomputes calibration for each
// production model named in modelNames.
func (m *CalibrationMonitor) Run(ctx context.Context, modelNames []string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range modelNames {
				m.checkOne(ctx, name)
			}
		}
	}
}

func (m *CalibrationMonitor) checkOne(ctx context.Context, modelName string) {
	production, err := m.productionRow(modelName)
	if err != nil || production == nil {
		return
	}

	records, err := m.Inferences.FetchLabeled(ctx, production.Name, production.Version, 2000)
	if err != nil {
		m.Logger.Warn("calibration: fetch labeled records failed", "model", modelName, "error", err)
		return
	}
	if len(records) < MinValidationSizeForCalibration {
		return
	}

	y := make([]int, len(records))
	p := make([]float64, len(records))
	for i, r := range records {
		y[i] = *r.RealizedLabel
		p[i] = r.Probability
	}

	brier := training.Brier(y, p)
	reliability := training.ReliabilityDecomposition(y, p)

	snap := CalibrationSnapshot{Brier: brier, ECE: reliability.ECE, MCE: reliability.MCE, N: len(records), ComputedAt: time.Now()}
	m.mu.Lock()
	prev, hadPrev := m.snapshots[modelName]
	m.snapshots[modelName] = snap
	m.mu.Unlock()

	if !hadPrev {
		return
	}

	m.mu.RLock()
	lastAlert, alerted := m.lastAlert[modelName]
	m.mu.RUnlock()
	if alerted && time.Since(lastAlert) < m.Cfg.CalibrationRetrainMinInterval {
		return
	}

	brierWorsened := brier-prev.Brier > 0.01
	eceWorsened := reliability.ECE-prev.ECE > 0.01
	if brierWorsened || eceWorsened {
		m.Logger.Warn("calibration: degradation detected", "model", modelName, "brier", brier, "prev_brier", prev.Brier, "ece", reliability.ECE, "prev_ece", prev.ECE)
		if m.Notify != nil {
			m.Notify.NotifyCalibrationDegradation(modelName, brier, reliability.ECE)
		}
		m.mu.Lock()
		m.lastAlert[modelName] = time.Now()
		m.mu.Unlock()
	}
}

func (m *CalibrationMonitor) productionRow(modelName string) (*model.Row, error) {
	rows, err := m.Registry.FetchLatestByName(modelName, 50)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Status == model.StatusProduction {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// MinValidationSizeForCalibration floors how many labeled records the
// calibration monitor needs before trusting a Brier/ECE reading.
const MinValidationSizeForCalibration = 50
