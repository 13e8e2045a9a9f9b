package stimulus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder captures step executions with their start times.
type recorder struct {
	mu      sync.Mutex
	names   []string
	started []time.Time
}

func (r *recorder) step(name string, after time.Duration, hold time.Duration, fail error) Step {
	return Step{
		Name:  name,
		After: after,
		Do: func(ctx context.Context) error {
			r.mu.Lock()
			r.names = append(r.names, name)
			r.started = append(r.started, time.Now())
			r.mu.Unlock()
			if hold > 0 {
				time.Sleep(hold)
			}
			return fail
		},
	}
}

func TestScheduleRunsStepsInOrder(t *testing.T) {
	rec := &recorder{}
	sched := Schedule{
		rec.step("first", 20*time.Millisecond, 0, nil),
		rec.step("second", 20*time.Millisecond, 0, nil),
		rec.step("third", 20*time.Millisecond, 0, nil),
	}

	begin := time.Now()
	attempted := sched.Run(context.Background(), t.Logf)

	if attempted != 3 {
		t.Fatalf("attempted = %d, want 3", attempted)
	}
	want := []string{"first", "second", "third"}
	for i, name := range want {
		if rec.names[i] != name {
			t.Fatalf("step %d = %q, want %q", i, rec.names[i], name)
		}
	}
	if since := rec.started[2].Sub(begin); since < 60*time.Millisecond {
		t.Fatalf("third step started %v in, want at least the three 20ms delays", since)
	}
}

func TestScheduleDelaysMeasuredFromPreviousCompletion(t *testing.T) {
	rec := &recorder{}
	sched := Schedule{
		rec.step("slow", 0, 40*time.Millisecond, nil),
		rec.step("after-slow", 25*time.Millisecond, 0, nil),
	}

	begin := time.Now()
	sched.Run(context.Background(), t.Logf)

	// The second delay starts when the first action finishes, so the second
	// step cannot begin before hold+delay has passed.
	if since := rec.started[1].Sub(begin); since < 65*time.Millisecond {
		t.Fatalf("second step started %v in, want >= 65ms (40ms action + 25ms delay)", since)
	}
}

func TestScheduleStepFailureDoesNotStopRemainingSteps(t *testing.T) {
	rec := &recorder{}
	var logged []string
	logf := func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}
	sched := Schedule{
		rec.step("ok-1", 0, 0, nil),
		rec.step("broken", 0, 0, errors.New("boom")),
		rec.step("ok-2", 0, 0, nil),
	}

	attempted := sched.Run(context.Background(), logf)

	if attempted != 3 {
		t.Fatalf("attempted = %d, want all 3 despite the failure", attempted)
	}
	if len(rec.names) != 3 || rec.names[2] != "ok-2" {
		t.Fatalf("executed steps = %v, want all three in order", rec.names)
	}
	found := false
	for _, line := range logged {
		if strings.Contains(line, "broken") && strings.Contains(line, "boom") {
			found = true
		}
	}
	if !found {
		t.Fatalf("failure was not logged: %v", logged)
	}
}

func TestScheduleStopsWhenCanceledDuringDelay(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	sched := Schedule{
		rec.step("first", 0, 0, nil),
		rec.step("never", 500*time.Millisecond, 0, nil),
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	begin := time.Now()
	attempted := sched.Run(ctx, t.Logf)

	if attempted != 1 {
		t.Fatalf("attempted = %d, want 1: the second step's delay was canceled", attempted)
	}
	if elapsed := time.Since(begin); elapsed > 400*time.Millisecond {
		t.Fatalf("schedule took %v, cancelation should have cut the 500ms delay short", elapsed)
	}
}

func TestScheduleSkipsNilActions(t *testing.T) {
	rec := &recorder{}
	sched := Schedule{
		{Name: "noop", After: 0},
		rec.step("real", 0, 0, nil),
	}

	attempted := sched.Run(context.Background(), t.Logf)

	if attempted != 1 {
		t.Fatalf("attempted = %d, want 1: nil actions do not count", attempted)
	}
	if len(rec.names) != 1 || rec.names[0] != "real" {
		t.Fatalf("executed steps = %v, want just the real one", rec.names)
	}
}
