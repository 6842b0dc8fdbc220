package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/models"
)

// Job is a single harvesting run; *Runner implements it
type Job interface {
	Run(ctx context.Context, trigger string, cont Continuer) (*models.RunSummary, error)
}

const (
	TriggerCron         = "cron"
	TriggerContinuation = "continuation"
	TriggerManual       = "manual"
)

// onceSchedule fires a single time at at
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// Scheduler drives periodic runs and one-shot continuations. Runs never
// overlap: a trigger firing while a run is active is dropped.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	contID  cron.EntryID
	contAt  time.Time
	config  *config.SchedulerConfig
	job     Job
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	isRunning     bool
	busy          bool
	continuations int
	lastRun       time.Time
	lastSummary   *models.RunSummary
	mu            sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, job Job, log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: cfg,
		job:    job,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// cronSpec turns the interval into a cron expression
func cronSpec(minutes int) string {
	if minutes > 0 && minutes < 60 && 60%minutes == 0 {
		return fmt.Sprintf("0 */%d * * * *", minutes)
	}
	return fmt.Sprintf("@every %dm", minutes)
}

// Start starts the periodic trigger
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}

	entryID, err := s.cron.AddFunc(cronSpec(s.config.IntervalMinutes), func() { s.execute(TriggerCron) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	s.log.WithField("interval_minutes", s.config.IntervalMinutes).Info("Scheduler started")
	return nil
}

// Stop stops the trigger, cancels an active run and drops any pending
// continuation
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning && s.contID == 0 {
		s.cron.Stop()
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	if s.isRunning {
		s.cron.Remove(s.entryID)
	}
	if s.contID != 0 {
		s.cron.Remove(s.contID)
		s.contID = 0
		s.contAt = time.Time{}
	}
	stopCtx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		s.log.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the periodic trigger is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Busy reports whether a run is in progress
func (s *Scheduler) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

func (s *Scheduler) execute(trigger string) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if _, err := s.runJob(ctx, trigger); err != nil && !errors.Is(err, ErrBusy) {
		s.log.WithError(err).WithField("trigger", trigger).Error("Scheduled run failed")
	}
}

// ErrBusy is returned when a trigger fires during an active run
var ErrBusy = errors.New("a run is already in progress")

func (s *Scheduler) runJob(ctx context.Context, trigger string) (*models.RunSummary, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.log.WithField("trigger", trigger).Warn("Run already in progress, trigger skipped")
		return nil, ErrBusy
	}
	s.busy = true
	s.lastRun = time.Now()
	if trigger != TriggerContinuation {
		s.continuations = 0
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	summary, err := s.job.Run(ctx, trigger, s)

	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()
	return summary, err
}

// RunOnce runs synchronously, outside the periodic schedule
func (s *Scheduler) RunOnce(ctx context.Context) (*models.RunSummary, error) {
	s.log.Info("Running harvest once")
	return s.runJob(ctx, TriggerManual)
}

// ScheduleContinuation registers a one-shot run after delay. At most
// MaxContinuations follow each other before a regular trigger resets the
// count.
func (s *Scheduler) ScheduleContinuation(delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped")
	}
	if s.config.MaxContinuations > 0 && s.continuations >= s.config.MaxContinuations {
		return fmt.Errorf("continuation limit of %d reached", s.config.MaxContinuations)
	}
	if s.contID != 0 {
		s.cron.Remove(s.contID)
	}
	at := time.Now().Add(delay)
	var id cron.EntryID
	id = s.cron.Schedule(onceSchedule{at: at}, cron.FuncJob(func() {
		s.mu.Lock()
		if s.contID == id {
			s.contID = 0
			s.contAt = time.Time{}
		}
		ctx := s.ctx
		s.mu.Unlock()
		s.cron.Remove(id)
		if _, err := s.runJob(ctx, TriggerContinuation); err != nil && !errors.Is(err, ErrBusy) {
			s.log.WithError(err).Error("Continuation run failed")
		}
	}))
	s.contID = id
	s.contAt = at
	s.continuations++
	s.cron.Start()
	return nil
}

// PendingContinuation returns when the next continuation fires, or zero
func (s *Scheduler) PendingContinuation() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contAt
}

// GetNextRun returns the time of the next periodic run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when the last run started
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// LastSummary returns the summary of the last finished run
func (s *Scheduler) LastSummary() *models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// Wait waits for an active run to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
