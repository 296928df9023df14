package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
)

// stageWeights apportions the overall percentage across the pipeline.
// Values sum to 100.
var stageWeights = map[model.SearchStage]float64{
	model.StageQueryGeneration:   10,
	model.StageWebSearch:         25,
	model.StageContentScraping:   30,
	model.StageContactExtraction: 25,
	model.StageResultAggregation: 5,
	model.StageFinalization:      5,
}

// progressAt returns the percentage at which a stage begins.
func progressAt(stage model.SearchStage) float64 {
	total := 0.0
	for s, w := range stageWeights {
		if s.Ordinal() < stage.Ordinal() {
			total += w
		}
	}
	return total
}

// setStage advances the job to a new stage and persists the transition.
// Regressions and transitions out of terminal states are ignored, which
// makes replayed updates harmless.
func (o *Orchestrator) setStage(ctx context.Context, h *jobHandle, stage model.SearchStage) {
	h.mu.Lock()
	o.setStageLocked(h.job, stage)
	id := h.job.ID
	progress := h.job.Progress
	h.mu.Unlock()

	if err := o.store.UpdateSearchStage(ctx, id, stage); err != nil {
		zap.L().Warn("orchestrator: persist stage", zap.String("search_id", id), zap.Error(err))
	}
	if err := o.store.UpdateSearchProgress(ctx, id, progress); err != nil {
		zap.L().Warn("orchestrator: persist progress", zap.String("search_id", id), zap.Error(err))
	}
}

// setStageLocked mutates the stage fields. Caller holds h.mu.
func (o *Orchestrator) setStageLocked(job *model.SearchJob, stage model.SearchStage) {
	if job.Stage.Terminal() || stage.Ordinal() < job.Stage.Ordinal() {
		return
	}
	job.Stage = stage
	job.Progress.CurrentStage = stage
	if p := progressAt(stage); p > job.Progress.Percentage {
		job.Progress.Percentage = p
	}
	job.UpdatedAt = time.Now().UTC()
}

// setStageProgress records fractional completion within a stage. Both the
// overall percentage and the per-stage fraction only ever increase.
func (o *Orchestrator) setStageProgress(ctx context.Context, h *jobHandle, stage model.SearchStage, frac float64) {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	h.mu.Lock()
	if h.job.Progress.StageProgress == nil {
		h.job.Progress.StageProgress = make(map[model.SearchStage]float64)
	}
	if frac > h.job.Progress.StageProgress[stage] {
		h.job.Progress.StageProgress[stage] = frac
	}
	if p := progressAt(stage) + frac*stageWeights[stage]; p > h.job.Progress.Percentage {
		h.job.Progress.Percentage = p
	}
	h.job.UpdatedAt = time.Now().UTC()
	id := h.job.ID
	progress := h.job.Progress
	h.mu.Unlock()

	if err := o.store.UpdateSearchProgress(ctx, id, progress); err != nil {
		zap.L().Warn("orchestrator: persist progress", zap.String("search_id", id), zap.Error(err))
	}
}

// appendError records a non-fatal failure on the job's error list.
func (o *Orchestrator) appendError(ctx context.Context, h *jobHandle, serr model.SearchError) {
	h.mu.Lock()
	h.job.Errors = append(h.job.Errors, serr)
	id := h.job.ID
	h.mu.Unlock()

	if err := o.store.AppendSearchError(ctx, id, serr); err != nil {
		zap.L().Warn("orchestrator: persist error", zap.String("search_id", id), zap.Error(err))
	}
}

func (h *jobHandle) id() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.ID
}

func (h *jobHandle) config() model.SearchConfiguration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Config
}

// setResults publishes stage output onto the job snapshot so Status and
// cancellation see partial results.
func (h *jobHandle) setResults(results []model.SearchResult) {
	h.mu.Lock()
	h.job.Results = results
	h.job.UpdatedAt = time.Now().UTC()
	h.mu.Unlock()
}
