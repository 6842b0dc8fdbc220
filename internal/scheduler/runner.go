package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/budget"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/fetcher"
	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/pipeline"
	"invoice-harvester-go/internal/store"
)

// Processor handles one message; *pipeline.Pipeline implements it
type Processor interface {
	Process(ctx context.Context, msg *models.CandidateMessage, runGuard *budget.Guard, processed pipeline.ProcessedSet) models.Outcome
}

// Continuer arranges a follow-up run after delay
type Continuer interface {
	ScheduleContinuation(delay time.Duration) error
}

// RunLogStore persists run bookkeeping; *store.RunLogRepository implements it
type RunLogStore interface {
	Create(ctx context.Context, log *models.RunLog) error
	Finish(ctx context.Context, log *models.RunLog) error
}

// RunObserver receives run-level events
type RunObserver interface {
	RunFinished(summary *models.RunSummary, err error)
	BreakerTripped()
}

// RunnerConfig holds the run-level settings
type RunnerConfig struct {
	RunBudget         time.Duration
	MaxThreadsPerRun  int
	BatchSize         int
	BatchPause        time.Duration
	ContinuationDelay time.Duration
	BreakerThreshold  int
	Search            config.SearchConfig
}

// NewRunnerConfig collects the run settings from the application config
func NewRunnerConfig(cfg *config.Config) RunnerConfig {
	return RunnerConfig{
		RunBudget:         cfg.Budget.Run,
		MaxThreadsPerRun:  cfg.Scheduler.MaxThreadsPerRun,
		BatchSize:         cfg.Scheduler.BatchSize,
		BatchPause:        cfg.Scheduler.BatchPause,
		ContinuationDelay: cfg.Scheduler.ContinuationDelay,
		BreakerThreshold:  cfg.Budget.BreakerThreshold,
		Search:            cfg.Search,
	}
}

// Runner executes one harvesting run: search, balance, batch, process
type Runner struct {
	cfg      RunnerConfig
	source   fetcher.MessageSource
	proc     Processor
	kv       store.KeyValueStore
	runs     RunLogStore
	clk      clock.Clock
	log      logrus.FieldLogger
	observer RunObserver
}

// NewRunner creates a runner. runs and observer may be nil.
func NewRunner(cfg RunnerConfig, source fetcher.MessageSource, proc Processor, kv store.KeyValueStore, runs RunLogStore, clk clock.Clock, log logrus.FieldLogger, observer RunObserver) *Runner {
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = 5*time.Minute + 30*time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = budget.DefaultBreakerThreshold
	}
	if cfg.ContinuationDelay <= 0 {
		cfg.ContinuationDelay = time.Minute
	}
	if cfg.Search.InitialLookback <= 0 {
		cfg.Search.InitialLookback = 90 * 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runner{
		cfg:      cfg,
		source:   source,
		proc:     proc,
		kv:       kv,
		runs:     runs,
		clk:      clk,
		log:      log,
		observer: observer,
	}
}

// Run executes one run. trigger labels what started it. When the run
// budget runs out with work left, cont (if any) is asked for a follow-up.
// The returned summary is never nil.
func (r *Runner) Run(ctx context.Context, trigger string, cont Continuer) (summary *models.RunSummary, err error) {
	started := r.clk.Now()
	guard := budget.New("run", r.cfg.RunBudget, r.clk)
	summary = &models.RunSummary{RunState: models.RunState{RunID: uuid.NewString(), StartedAt: started}}
	log := r.log.WithFields(logrus.Fields{"run_id": summary.RunID, "trigger": trigger})
	log.Info("Starting harvesting run")

	runLog := &models.RunLog{RunID: summary.RunID, Trigger: trigger, StartedAt: started}
	if r.runs != nil {
		if cerr := r.runs.Create(ctx, runLog); cerr != nil {
			log.WithError(cerr).Warn("Failed to record run start")
		}
	}

	defer func() {
		summary.Elapsed = guard.Elapsed()
		deadline := summary.DeadlineReached || guard.Expired()
		if deadline && (summary.Remaining > 0 || err != nil) && cont != nil {
			summary.DeadlineReached = true
			if cerr := cont.ScheduleContinuation(r.cfg.ContinuationDelay); cerr != nil {
				log.WithError(cerr).Warn("Failed to schedule continuation")
			} else {
				summary.ContinuationScheduled = true
				log.WithField("delay", r.cfg.ContinuationDelay.String()).Info("Continuation scheduled")
			}
		}
		r.finish(log, runLog, summary, err)
	}()

	processed, err := store.LoadProcessedIndex(ctx, r.kv, store.MaxProcessedIDs)
	if err != nil {
		return summary, fmt.Errorf("failed to load processed messages: %w", err)
	}
	since, err := r.searchStart(ctx, started)
	if err != nil {
		return summary, err
	}

	queries := fetcher.Strategies(r.cfg.Search, since, started)
	candidates, err := fetcher.Collect(ctx, r.source, queries, processed.Contains, log)
	if err != nil {
		return summary, fmt.Errorf("failed to search messages: %w", err)
	}
	selected, rest := Balance(candidates, r.cfg.MaxThreadsPerRun)
	summary.Candidates = len(candidates)
	summary.Remaining = len(candidates)
	log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"selected":   len(selected),
		"deferred":   len(rest),
		"since":      since.Format(time.RFC3339),
	}).Info("Candidates collected")

	timeouts := r.processBatches(ctx, guard, selected, processed, summary, log)

	if ferr := processed.Flush(ctx); ferr != nil {
		log.WithError(ferr).Warn("Failed to flush processed messages")
	}
	if ctx.Err() != nil {
		return summary, nil
	}
	if summary.Remaining == 0 && summary.Errors == 0 && timeouts == 0 && !summary.BreakerTripped {
		if serr := store.SetLastRunAt(ctx, r.kv, started); serr != nil {
			log.WithError(serr).Warn("Failed to record last run time")
		}
	}
	return summary, nil
}

// processBatches drives the pipeline and returns the number of timeouts
func (r *Runner) processBatches(ctx context.Context, guard *budget.Guard, selected []models.CandidateMessage, processed *store.ProcessedIndex, summary *models.RunSummary, log logrus.FieldLogger) int {
	breaker := budget.NewCircuitBreaker(r.cfg.BreakerThreshold)
	timeouts := 0

	for start := 0; start < len(selected); start += r.cfg.BatchSize {
		if start > 0 && r.cfg.BatchPause > 0 {
			if err := r.clk.Sleep(ctx, r.cfg.BatchPause); err != nil {
				log.Info("Run interrupted between batches")
				return timeouts
			}
		}
		if err := guard.CheckOrFail("batch"); err != nil {
			summary.DeadlineReached = true
			log.WithField("remaining", summary.Remaining).Warn("Run budget exhausted before batch")
			return timeouts
		}

		end := min(start+r.cfg.BatchSize, len(selected))
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				log.Info("Run interrupted")
				return timeouts
			}
			if err := guard.CheckOrFail("item"); err != nil {
				summary.DeadlineReached = true
				log.WithField("remaining", summary.Remaining).Warn("Run budget exhausted before message")
				return timeouts
			}

			msg := selected[i]
			out := r.proc.Process(ctx, &msg, guard, processed)
			summary.Record(out)
			summary.Remaining--
			summary.Outcomes = append(summary.Outcomes, out)
			if out.Kind == models.OutcomeSkippedTimeout {
				timeouts++
			}

			breaker.Observe(out.Kind)
			summary.ConsecutiveTimeouts = breaker.Consecutive()
			if breaker.Open() {
				summary.BreakerTripped = true
				if r.observer != nil {
					r.observer.BreakerTripped()
				}
				log.WithField("consecutive_timeouts", breaker.Consecutive()).Warn("Circuit breaker open, stopping run")
				return timeouts
			}
		}
	}
	return timeouts
}

// searchStart is last_run_at minus the overlap, or the initial lookback
func (r *Runner) searchStart(ctx context.Context, now time.Time) (time.Time, error) {
	last, ok, err := store.LastRunAt(ctx, r.kv)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last run time: %w", err)
	}
	if !ok {
		return now.Add(-r.cfg.Search.InitialLookback), nil
	}
	return last.Add(-r.cfg.Search.Overlap), nil
}

func (r *Runner) finish(log logrus.FieldLogger, runLog *models.RunLog, summary *models.RunSummary, err error) {
	finished := summary.StartedAt.Add(summary.Elapsed)
	runLog.FinishedAt = &finished
	runLog.Candidates = summary.Candidates
	runLog.Processed = summary.Processed
	runLog.Created = summary.Created
	runLog.Skipped = summary.Skipped
	runLog.Errors = summary.Errors
	runLog.BreakerTripped = summary.BreakerTripped
	runLog.ContinuationScheduled = summary.ContinuationScheduled
	if err != nil {
		runLog.ErrorMsg = err.Error()
	}
	if r.runs != nil {
		if ferr := r.runs.Finish(context.Background(), runLog); ferr != nil {
			log.WithError(ferr).Warn("Failed to record run end")
		}
	}
	if r.observer != nil {
		r.observer.RunFinished(summary, err)
	}

	entry := log.WithFields(logrus.Fields{
		"processed":    summary.Processed,
		"created":      summary.Created,
		"skipped":      summary.Skipped,
		"errors":       summary.Errors,
		"remaining":    summary.Remaining,
		"breaker":      summary.BreakerTripped,
		"continuation": summary.ContinuationScheduled,
		"elapsed":      summary.Elapsed.Round(time.Millisecond).String(),
	})
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		entry.WithError(err).Error("Harvesting run failed")
	default:
		entry.Info("Harvesting run completed")
	}
}
