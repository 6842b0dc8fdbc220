package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/models"
)

type fakeJob struct {
	mu       sync.Mutex
	triggers []string
	started  chan string
	release  chan struct{}
}

func newFakeJob() *fakeJob {
	return &fakeJob{started: make(chan string, 8)}
}

func (j *fakeJob) Run(ctx context.Context, trigger string, _ Continuer) (*models.RunSummary, error) {
	j.mu.Lock()
	j.triggers = append(j.triggers, trigger)
	j.mu.Unlock()
	j.started <- trigger
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
		}
	}
	return &models.RunSummary{RunState: models.RunState{RunID: trigger, Created: 1}}, nil
}

func newTestScheduler(cfg *config.SchedulerConfig, job Job) *Scheduler {
	log, _ := test.NewNullLogger()
	return NewScheduler(cfg, job, log)
}

func TestSchedulerRestart(t *testing.T) {
	sched := newTestScheduler(&config.SchedulerConfig{IntervalMinutes: 60}, newFakeJob())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.GetNextRun().IsZero())
	assert.Error(t, sched.Start(), "second start while running")

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	// context should be active again
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err())
	require.NoError(t, sched.Stop())
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	sched := newTestScheduler(&config.SchedulerConfig{}, newFakeJob())
	assert.Error(t, sched.Start())
}

func TestRunOnceStoresSummary(t *testing.T) {
	job := newFakeJob()
	sched := newTestScheduler(&config.SchedulerConfig{IntervalMinutes: 15}, job)

	summary, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, summary.RunID)
	assert.Same(t, summary, sched.LastSummary())
	assert.False(t, sched.GetLastRun().IsZero())
	assert.False(t, sched.Busy())
}

func TestRunOnceWhileBusy(t *testing.T) {
	job := newFakeJob()
	job.release = make(chan struct{})
	sched := newTestScheduler(&config.SchedulerConfig{IntervalMinutes: 15}, job)

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(context.Background())
		done <- err
	}()
	<-job.started
	assert.True(t, sched.Busy())

	_, err := sched.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(job.release)
	require.NoError(t, <-done)
	sched.Wait()
	assert.False(t, sched.Busy())
}

func TestContinuationRuns(t *testing.T) {
	job := newFakeJob()
	sched := newTestScheduler(&config.SchedulerConfig{IntervalMinutes: 60, MaxContinuations: 3}, job)

	require.NoError(t, sched.ScheduleContinuation(20*time.Millisecond))
	assert.False(t, sched.PendingContinuation().IsZero())

	select {
	case trigger := <-job.started:
		assert.Equal(t, TriggerContinuation, trigger)
	case <-time.After(3 * time.Second):
		t.Fatal("continuation did not run")
	}
	sched.Wait()
	assert.Eventually(t, func() bool { return sched.PendingContinuation().IsZero() }, time.Second, 10*time.Millisecond)
	require.NoError(t, sched.Stop())
}

func TestContinuationLimit(t *testing.T) {
	job := newFakeJob()
	sched := newTestScheduler(&config.SchedulerConfig{IntervalMinutes: 60, MaxContinuations: 2}, job)

	require.NoError(t, sched.ScheduleContinuation(time.Hour))
	require.NoError(t, sched.ScheduleContinuation(time.Hour))
	assert.Error(t, sched.ScheduleContinuation(time.Hour))

	// a regular run starts a new chain
	_, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.ScheduleContinuation(time.Hour))

	require.NoError(t, sched.Stop())
	assert.True(t, sched.PendingContinuation().IsZero())
	assert.Error(t, sched.ScheduleContinuation(time.Hour), "stopped scheduler refuses continuations")
}

func TestCronSpec(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{15, "0 */15 * * * *"},
		{1, "0 */1 * * * *"},
		{30, "0 */30 * * * *"},
		{45, "@every 45m"},
		{60, "@every 60m"},
		{90, "@every 90m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cronSpec(tt.minutes), "minutes=%d", tt.minutes)
	}
}
