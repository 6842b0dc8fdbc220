package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/models"
)

func TestGuardCheckOrFail(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	g := New("message", 5*time.Second, clk)

	assert.NoError(t, g.CheckOrFail("pre-call"))
	assert.Equal(t, 5*time.Second, g.Remaining())

	clk.Advance(5 * time.Second)
	assert.NoError(t, g.CheckOrFail("post-call"), "exactly at budget is still fine")
	assert.Equal(t, time.Duration(0), g.Remaining())

	clk.Advance(time.Millisecond)
	err := g.CheckOrFail("post-parse")
	require.Error(t, err)
	assert.True(t, apperr.IsTimeout(err))
	assert.Contains(t, err.Error(), "message/post-parse")
}

func TestGuardChildIsCappedByParent(t *testing.T) {
	clk := clock.NewFake(time.Now())
	run := New("run", 10*time.Second, clk)
	clk.Advance(8 * time.Second)

	msg := run.Child("message", 5*time.Second)
	assert.Equal(t, 2*time.Second, msg.Budget())
}

func TestCheckAllReturnsOutermostFailure(t *testing.T) {
	clk := clock.NewFake(time.Now())
	run := New("run", time.Second, clk)
	call := New("call", time.Minute, clk)
	clk.Advance(2 * time.Second)

	err := CheckAll("pre-call", run, nil, call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run/pre-call")
	assert.Equal(t, time.Duration(0), Tightest(run, call))
	assert.Equal(t, time.Duration(0), Tightest())
}

func TestGuardContextDeadline(t *testing.T) {
	g := New("call", time.Hour, nil)
	ctx, cancel := g.Context(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)
}

func TestCircuitBreaker(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []models.OutcomeKind
		open     bool
		count    int
	}{
		{
			name:     "two consecutive timeouts trip",
			outcomes: []models.OutcomeKind{models.OutcomeSkippedTimeout, models.OutcomeSkippedTimeout},
			open:     true,
			count:    2,
		},
		{
			name:     "success in between resets",
			outcomes: []models.OutcomeKind{models.OutcomeSkippedTimeout, models.OutcomeCreated, models.OutcomeSkippedTimeout},
			open:     false,
			count:    1,
		},
		{
			name:     "non-timeout error resets",
			outcomes: []models.OutcomeKind{models.OutcomeSkippedTimeout, models.OutcomeError, models.OutcomeSkippedTimeout},
			open:     false,
			count:    1,
		},
		{
			name:     "not-invoice resets",
			outcomes: []models.OutcomeKind{models.OutcomeSkippedTimeout, models.OutcomeSkippedNotInvoice},
			open:     false,
			count:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCircuitBreaker(0)
			for _, o := range tt.outcomes {
				b.Observe(o)
			}
			assert.Equal(t, tt.open, b.Open())
			assert.Equal(t, tt.count, b.Consecutive())
		})
	}
}
