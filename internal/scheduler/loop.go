package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/models"
)

// loopContinuer records a continuation request for RunLoop
type loopContinuer struct {
	requested bool
	delay     time.Duration
}

func (l *loopContinuer) ScheduleContinuation(delay time.Duration) error {
	l.requested = true
	l.delay = delay
	return nil
}

// RunLoop runs job in the foreground. While a run asks for a continuation
// it sleeps for the requested delay and runs again, at most
// maxContinuations times. A continuation requested by a failed run is
// still followed; the error of the last run is returned.
func RunLoop(ctx context.Context, job Job, maxContinuations int, clk clock.Clock, log logrus.FieldLogger) ([]*models.RunSummary, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	var summaries []*models.RunSummary
	trigger := TriggerManual
	for i := 0; ; i++ {
		cont := &loopContinuer{}
		var c Continuer = cont
		if maxContinuations >= 0 && i >= maxContinuations {
			c = nil
		}
		summary, err := job.Run(ctx, trigger, c)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if !cont.requested {
			return summaries, err
		}

		entry := log.WithFields(logrus.Fields{
			"delay":        cont.delay.String(),
			"continuation": i + 1,
		})
		if err != nil {
			entry.WithError(err).Warn("Run failed after its deadline, continuing")
		} else {
			entry.Info("Waiting for continuation run")
		}
		if serr := clk.Sleep(ctx, cont.delay); serr != nil {
			return summaries, errors.Join(err, serr)
		}
		trigger = TriggerContinuation
	}
}
