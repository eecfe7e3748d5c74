package retrain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketlifecycle/config"
	"marketlifecycle/internal/feature"
	"marketlifecycle/internal/metrics"
	"marketlifecycle/internal/model"
	"marketlifecycle/internal/notify"
	"marketlifecycle/internal/training"
)

// State is the controller's current phase, surfaced for diagnostics.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
	StateTraining   State = "training"
	StatePromoting  State = "promoting"
)

// Target is one (symbol, interval, feature-name-set) the controller
// watches for drift and retrains independently.
type Target struct {
	Symbol       string
	Interval     string
	ModelType    string
	WatchedNames []string
	DriftWindow  int
}

// Controller runs the idle -> evaluating -> training -> promoting ->
// idle loop for a set of targets, serialized across replicas by an
// advisory lock.
type Controller struct {
	Lock      *AdvisoryLock
	Training  *training.Service
	Registry  *model.Repository
	Audit     *model.AuditRepository
	Features  *feature.Store
	Notify    *notify.Client
	Logger    *slog.Logger
	RetrainCfg   config.RetrainConfig
	PromotionCfg config.PromotionConfig

	mu             sync.Mutex
	state          State
	lastRun        map[string]time.Time
	lastPromotion  map[string]time.Time
	driftStreak    map[string]int
}

func NewController(lock *AdvisoryLock, trainingSvc *training.Service, registry *model.Repository, audit *model.AuditRepository, features *feature.Store, notifier *notify.Client, logger *slog.Logger, retrainCfg config.RetrainConfig, promotionCfg config.PromotionConfig) *Controller {
	return &Controller{
		Lock: lock, Training: trainingSvc, Registry: registry, Audit: audit,
		Features: features, Notify: notifier, Logger: logger,
		RetrainCfg: retrainCfg, PromotionCfg: promotionCfg,
		state:         StateIdle,
		lastRun:       make(map[string]time.Time),
		lastPromotion: make(map[string]time.Time),
		driftStreak:   make(map[string]int),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func targetKey(t Target) string { return t.Symbol + "|" + t.Interval + "|" + t.ModelType }

// Run polls every `every` tick, evaluating drift for each target and
// running the full retrain+promote cycle when triggered.
func (c *Controller) Run(ctx context.Context, targets []Target, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, targets)
		}
	}
}

func (c *Controller) tick(ctx context.Context, targets []Target) {
	acquired, err := c.Lock.TryAcquire(ctx)
	if err != nil {
		c.Logger.Error("retrain: advisory lock error", "error", err)
		return
	}
	if !acquired {
		c.Logger.Debug("retrain: lock held elsewhere, skipping tick")
		return
	}
	defer func() {
		if err := c.Lock.Release(ctx); err != nil {
			c.Logger.Error("retrain: advisory unlock error", "error", err)
		}
	}()

	for _, t := range targets {
		c.evaluateTarget(ctx, t)
	}
}

func (c *Controller) evaluateTarget(ctx context.Context, t Target) {
	c.setState(StateEvaluating)
	key := targetKey(t)

	c.mu.Lock()
	lastRun, ranBefore := c.lastRun[key]
	c.mu.Unlock()
	if ranBefore && time.Since(lastRun) < c.RetrainCfg.MinInterval {
		c.setState(StateIdle)
		return
	}

	zScores := make(map[string]float64, len(t.WatchedNames))
	for _, name := range t.WatchedNames {
		series, err := c.Features.FetchValues(ctx, t.Symbol, t.Interval, name, t.DriftWindow*2)
		if err != nil {
			c.Logger.Warn("retrain: fetch feature series failed", "feature", name, "error", err)
			continue
		}
		z, ok := feature.ComputeDrift(series, t.DriftWindow)
		if ok {
			zScores[name] = z
		}
	}

	aggZ := feature.AggregateDrift(zScores, c.RetrainCfg.DriftAggregation)
	metrics.DriftZScore.WithLabelValues(key).Set(aggZ)

	triggered := aggZ >= c.RetrainCfg.DriftZThreshold
	c.mu.Lock()
	if triggered {
		c.driftStreak[key]++
	} else {
		c.driftStreak[key] = 0
	}
	streak := c.driftStreak[key]
	c.mu.Unlock()

	if streak < c.RetrainCfg.RequiredConsecutiveDrifts {
		c.setState(StateIdle)
		return
	}

	c.Logger.Info("retrain: drift threshold met, retraining", "symbol", t.Symbol, "interval", t.Interval, "z", aggZ, "streak", streak)
	metrics.AutoRetrainTriggeredTotal.WithLabelValues(key, "drift").Inc()
	c.runRetrain(ctx, t)

	c.mu.Lock()
	c.lastRun[key] = time.Now()
	c.driftStreak[key] = 0
	c.mu.Unlock()
}

func (c *Controller) runRetrain(ctx context.Context, t Target) {
	c.setState(StateTraining)

	now := time.Now()
	toMs := now.UnixMilli()
	fromMs := toMs - 90*24*60*60*1000 // trailing 90-day training window

	result, err := c.Training.Run(ctx, t.Symbol, t.Interval, fromMs, toMs)
	if err != nil {
		c.Logger.Error("retrain: training run failed", "symbol", t.Symbol, "interval", t.Interval, "error", err)
		c.setState(StateIdle)
		return
	}
	if result.Status != training.StatusTrained {
		c.Logger.Info("retrain: training skipped", "symbol", t.Symbol, "interval", t.Interval, "status", result.Status, "reason", result.SkipReason)
		c.setState(StateIdle)
		return
	}

	c.setState(StatePromoting)
	c.promote(ctx, t, result)
	c.setState(StateIdle)
}

func (c *Controller) promote(ctx context.Context, t Target, result training.Result) {
	key := targetKey(t)

	c.mu.Lock()
	lastPromo, ok := c.lastPromotion[key]
	c.mu.Unlock()
	intervalElapsed := !ok || time.Since(lastPromo) >= c.PromotionCfg.MinInterval

	latest, err := c.Registry.FetchLatest(c.PromotionCfg.ModelName, t.ModelType, 20)
	var incumbent *model.Row
	for i := range latest {
		if latest[i].Status == model.StatusProduction {
			incumbent = &latest[i]
			break
		}
	}
	if err != nil {
		c.Logger.Warn("retrain: fetch incumbent failed", "error", err)
	}

	if incumbent != nil {
		if candAUC, ok := result.Metrics["cv_auc"].(float64); ok {
			if incAUC, ok := incumbent.Metrics()["cv_auc"].(float64); ok {
				if ratio, ok := training.CVDegradationRatio(candAUC, incAUC); ok {
					metrics.CVDegradationRatio.WithLabelValues(c.PromotionCfg.ModelName).Set(ratio)
				}
			}
		}
	}

	metrics.AutoPromotionAttemptsTotal.Inc()
	decision := EvaluatePromotion(c.PromotionCfg, incumbent, result.Metrics, intervalElapsed)

	var incumbentID *int64
	var samplesOld, samplesNew *float64
	if incumbent != nil {
		id := incumbent.ID
		incumbentID = &id
		if v, ok := incumbent.Metrics()["n_samples"].(float64); ok {
			samplesOld = &v
		}
	}
	if v, ok := result.Metrics["n_samples"].(float64); ok {
		samplesNew = &v
	}

	if !decision.Promote {
		c.Logger.Info("retrain: promotion blocked", "symbol", t.Symbol, "interval", t.Interval, "reason", decision.Reason)
		if err := c.Audit.LogPromotion(result.ModelID, incumbentID, "blocked", decision.Reason, samplesOld, samplesNew); err != nil {
			c.Logger.Error("retrain: audit log failed", "error", err)
		}
		if c.Notify != nil {
			c.Notify.NotifyPromotion(c.PromotionCfg.ModelName, result.Version, "blocked", decision.Reason)
		}
		return
	}

	if _, err := c.Registry.Promote(result.ModelID); err != nil {
		c.Logger.Error("retrain: promote failed", "error", err)
		_ = c.Audit.LogPromotion(result.ModelID, incumbentID, "failed", ReasonPromotionCallFailed, samplesOld, samplesNew)
		return
	}
	if err := c.Registry.DemoteOthers(c.PromotionCfg.ModelName, t.ModelType, result.ModelID); err != nil {
		c.Logger.Error("retrain: demote others failed", "error", err)
	}
	if incumbent != nil {
		if err := c.Registry.AddLineage(result.ModelID, incumbent.ID, "supersedes"); err != nil {
			c.Logger.Error("retrain: lineage write failed", "error", err)
		}
	}

	metrics.AutoPromotionSuccessTotal.Inc()
	_ = c.Audit.LogPromotion(result.ModelID, incumbentID, "promoted", decision.Reason, samplesOld, samplesNew)

	c.mu.Lock()
	c.lastPromotion[key] = time.Now()
	c.mu.Unlock()

	c.Logger.Info("retrain: promoted", "symbol", t.Symbol, "interval", t.Interval, "model_id", result.ModelID, "version", result.Version)
	if c.Notify != nil {
		c.Notify.NotifyPromotion(c.PromotionCfg.ModelName, result.Version, "promoted", decision.Reason)
	}
}
