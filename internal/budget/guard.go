package budget

import (
	"context"
	"fmt"
	"time"

	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/clock"
)

// Guard tracks a fixed time budget that started at construction.
// The budget is never recomputed once the guard exists.
type Guard struct {
	name    string
	budget  time.Duration
	started time.Time
	clk     clock.Clock
}

// New starts a guard named name with the given budget
func New(name string, budget time.Duration, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Guard{name: name, budget: budget, started: clk.Now(), clk: clk}
}

// Name returns the scope the guard protects (run, message, call)
func (g *Guard) Name() string { return g.name }

// Budget returns the configured budget
func (g *Guard) Budget() time.Duration { return g.budget }

// StartedAt returns the moment the guard was created
func (g *Guard) StartedAt() time.Time { return g.started }

// Elapsed returns time spent since the guard started
func (g *Guard) Elapsed() time.Duration {
	return g.clk.Now().Sub(g.started)
}

// Remaining returns the unspent budget, never negative
func (g *Guard) Remaining() time.Duration {
	r := g.budget - g.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether elapsed time exceeds the budget
func (g *Guard) Expired() bool {
	return g.Elapsed() > g.budget
}

// CheckOrFail returns a timeout error when the budget is exhausted.
// phase names the checkpoint for diagnostics.
func (g *Guard) CheckOrFail(phase string) error {
	if !g.Expired() {
		return nil
	}
	return apperr.Timeout(g.name+"/"+phase,
		fmt.Errorf("budget %s exceeded after %s", g.budget, g.Elapsed().Round(time.Millisecond)))
}

// Context derives a context whose deadline is the end of this budget
func (g *Guard) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, g.Remaining())
}

// Child starts a nested guard whose budget is capped at what remains here
func (g *Guard) Child(name string, budget time.Duration) *Guard {
	if r := g.Remaining(); budget > r {
		budget = r
	}
	return New(name, budget, g.clk)
}

// CheckAll runs CheckOrFail on every guard, innermost last, and returns the
// first failure.
func CheckAll(phase string, guards ...*Guard) error {
	for _, g := range guards {
		if g == nil {
			continue
		}
		if err := g.CheckOrFail(phase); err != nil {
			return err
		}
	}
	return nil
}

// Tightest returns the smallest remaining budget across guards
func Tightest(guards ...*Guard) time.Duration {
	least := time.Duration(-1)
	for _, g := range guards {
		if g == nil {
			continue
		}
		if r := g.Remaining(); least < 0 || r < least {
			least = r
		}
	}
	if least < 0 {
		return 0
	}
	return least
}
