package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"challengeflow/internal/challenge"
)

// scriptedObserver returns the scripted texts in order, repeating the last.
type scriptedObserver struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls int
}

func (f *scriptedObserver) Capture(ctx context.Context) (challenge.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return challenge.Snapshot{}, err
	}
	if f.err != nil {
		return challenge.Snapshot{}, f.err
	}
	text := ""
	if len(f.texts) > 0 {
		text = f.texts[0]
		if len(f.texts) > 1 {
			f.texts = f.texts[1:]
		}
	}
	return challenge.Snapshot{
		Image:      []byte(fmt.Sprintf("img-%d", f.calls)),
		Text:       text,
		CapturedAt: time.Unix(int64(f.calls), 0),
	}, nil
}

// scriptedActor records taps and answers presence checks from a script,
// falling back to fallback once the script runs out.
type scriptedActor struct {
	mu        sync.Mutex
	taps      []challenge.Position
	presence  []bool
	fallback  bool
	lookupErr error
	lookups   int
	selectors []string
	tapErr    error
}

func (f *scriptedActor) Tap(ctx context.Context, pos challenge.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.taps = append(f.taps, pos)
	return f.tapErr
}

func (f *scriptedActor) ElementPresent(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	f.selectors = append(f.selectors, selector)
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	if len(f.presence) > 0 {
		v := f.presence[0]
		f.presence = f.presence[1:]
		return v, nil
	}
	return f.fallback, nil
}

func (f *scriptedActor) tapped() []challenge.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]challenge.Position(nil), f.taps...)
}

// fakeSolver records submissions and returns scripted results.
type fakeSolver struct {
	mu         sync.Mutex
	submitted  []challenge.SolveTask
	submitErrs []error
	solution   challenge.Solution
	awaitErr   error
	awaitFn    func(ctx context.Context, h challenge.SolveHandle) (challenge.Solution, error)
	awaited    []challenge.SolveHandle
}

func (f *fakeSolver) Submit(ctx context.Context, task challenge.SolveTask) (challenge.SolveHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, task)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return challenge.SolveHandle(fmt.Sprintf("task-%d", len(f.submitted))), nil
}

func (f *fakeSolver) Await(ctx context.Context, h challenge.SolveHandle) (challenge.Solution, error) {
	f.mu.Lock()
	f.awaited = append(f.awaited, h)
	fn := f.awaitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, h)
	}
	if f.awaitErr != nil {
		return challenge.Solution{}, f.awaitErr
	}
	return f.solution, nil
}

// fakeClock is advanced by clockSleeper.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// clockSleeper records every wait and advances the fake clock instantly.
type clockSleeper struct {
	mu    sync.Mutex
	clock *fakeClock
	slept []time.Duration
}

func (s *clockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.advance(d)
	}
	return nil
}

// memRecorder keeps journaled events in memory.
type memRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *memRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
