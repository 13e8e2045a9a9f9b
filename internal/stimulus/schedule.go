// Package stimulus drives traffic at a deployed app while its log stream is
// being tailed: paced warmup calls before the tail starts, and a timed
// schedule of pokes while it runs.
package stimulus

import (
	"context"
	"log"
	"time"
)

// Action is one side-effecting stimulus call.
type Action func(ctx context.Context) error

// Step is a delayed action. After is measured from the completion of the
// previous step, not from schedule start, so steps never overlap.
type Step struct {
	Name  string
	After time.Duration
	Do    Action
}

// Schedule is an ordered list of steps.
type Schedule []Step

// Run executes the schedule in order. Step failures are logged and never
// stop the remaining steps. Run returns early only when ctx is canceled; it
// reports how many actions were attempted.
func (s Schedule) Run(ctx context.Context, logf func(format string, args ...any)) int {
	if logf == nil {
		logf = log.Printf
	}
	attempted := 0
	for _, step := range s {
		if !sleep(ctx, step.After) {
			return attempted
		}
		if step.Do == nil {
			continue
		}
		attempted++
		if err := step.Do(ctx); err != nil {
			if ctx.Err() != nil {
				return attempted
			}
			logf("stimulus: step %q: %v", step.Name, err)
		}
	}
	return attempted
}

// sleep waits d or until ctx is canceled, reporting whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
