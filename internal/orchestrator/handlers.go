package orchestrator

import (
	"context"
	"fmt"

	"challengeflow/internal/challenge"

	"go.uber.org/zap"
)

func (o *Orchestrator) onComplete(ctx context.Context, s *session, _ challenge.Snapshot) (step, error) {
	o.logger.Info("verification complete, checking for a follow-up challenge")
	if err := o.sleep(ctx, o.settings.CompletePause); err != nil {
		return stepNext, err
	}
	present, err := o.ensurePresent(ctx)
	if err != nil {
		return stepNext, err
	}
	if !present {
		return stepCleared, nil
	}
	return stepNext, nil
}

func (o *Orchestrator) onTryAgain(ctx context.Context, s *session, _ challenge.Snapshot) (step, error) {
	if err := o.tap(ctx, s, challenge.TryAgainButton); err != nil {
		return stepNext, err
	}
	if err := o.sleep(ctx, o.settings.ActionPause); err != nil {
		return stepNext, err
	}
	present, err := o.ensurePresent(ctx)
	if err != nil {
		return stepNext, err
	}
	if !present {
		return stepCleared, nil
	}
	_, tag, err := o.observe(ctx, s)
	if err != nil {
		return stepNext, err
	}
	if tag == challenge.AwaitingVerify {
		return o.verifyAndMonitor(ctx, s)
	}
	o.logger.Info("no verify prompt after try again", zap.Stringer("classification", tag))
	return stepNext, nil
}

func (o *Orchestrator) onVerify(ctx context.Context, s *session, _ challenge.Snapshot) (step, error) {
	return o.verifyAndMonitor(ctx, s)
}

func (o *Orchestrator) onSelection(ctx context.Context, s *session, snap challenge.Snapshot) (step, error) {
	if challenge.Classify(snap.Text) == challenge.Ambiguous {
		o.logger.Info("unrecognised prompt, treating it as another challenge")
	}
	st, err := o.solveAndApply(ctx, s, snap)
	if err != nil || st == stepCleared {
		return st, err
	}
	if err := o.sleep(ctx, o.settings.ActionPause); err != nil {
		return stepNext, err
	}
	return stepNext, nil
}

func (o *Orchestrator) onObservationFailed(context.Context, *session, challenge.Snapshot) (step, error) {
	return stepNext, fmt.Errorf("%w: no text extracted", challenge.ErrObservation)
}

func (o *Orchestrator) verifyAndMonitor(ctx context.Context, s *session) (step, error) {
	if err := o.tap(ctx, s, challenge.VerifyButton); err != nil {
		return stepNext, err
	}
	if err := o.sleep(ctx, o.settings.ActionPause); err != nil {
		return stepNext, err
	}
	return o.monitor(ctx, s)
}

// monitor re-observes on a fixed interval until a selection prompt appears
// (solved in place), verification completes, or the challenge disappears.
// Without a configured cap it has no deadline of its own; the attempt
// budget is only checked once it returns.
func (o *Orchestrator) monitor(ctx context.Context, s *session) (step, error) {
	o.logger.Info("continuous monitoring started")
	start := o.now()
	for {
		if limit := o.settings.MonitorMaxDuration; limit > 0 && o.now().Sub(start) >= limit {
			return stepNext, ErrMonitorTimeout
		}
		if err := o.sleep(ctx, o.settings.MonitorInterval); err != nil {
			return stepNext, err
		}
		present, err := o.ensurePresent(ctx)
		if err != nil {
			return stepNext, err
		}
		if !present {
			return stepCleared, nil
		}
		snap, tag, err := o.observe(ctx, s)
		if err != nil {
			return stepNext, err
		}
		switch tag {
		case challenge.AwaitingSelection:
			return o.solveAndApply(ctx, s, snap)
		case challenge.VerificationComplete:
			o.logger.Info("verification complete during monitoring")
			if err := o.sleep(ctx, o.settings.CompletePause); err != nil {
				return stepNext, err
			}
			return stepNext, nil
		default:
			o.logger.Debug("selection prompt not yet shown, monitoring", zap.Stringer("classification", tag))
		}
	}
}

// solveAndApply submits the snapshot exactly once, waits for the solution,
// taps it, and follows up with verify when the screen asks for it.
func (o *Orchestrator) solveAndApply(ctx context.Context, s *session, snap challenge.Snapshot) (step, error) {
	if s.pending != "" {
		return stepNext, fmt.Errorf("solver task %s still outstanding", s.pending)
	}
	task := challenge.NewSolveTask(snap)
	handle, err := o.solver.Submit(ctx, task)
	s.out.TasksSubmitted++
	if err != nil {
		o.record(ctx, s, Event{Kind: EventSubmitFailed, GridType: task.GridType.WireName(), Text: task.InstructionText, Detail: err.Error()})
		return stepNext, fmt.Errorf("submitting task: %w", err)
	}
	s.pending = handle
	o.logger.Info("task submitted", zap.String("task_id", string(handle)), zap.Stringer("grid_type", task.GridType))
	o.record(ctx, s, Event{Kind: EventTaskSubmitted, Handle: handle, GridType: task.GridType.WireName(), Text: task.InstructionText})

	sol, err := o.solver.Await(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			// s.pending stays set so the interrupt path reports it.
			return stepNext, ctx.Err()
		}
		s.pending = ""
		o.record(ctx, s, Event{Kind: EventSolveFailed, Handle: handle, Detail: err.Error()})
		return stepNext, fmt.Errorf("awaiting solution: %w", err)
	}
	s.pending = ""
	s.out.Solved++
	o.record(ctx, s, Event{Kind: EventSolution, Handle: handle, Cells: sol.Cells})

	if err := o.applySolution(ctx, s, sol); err != nil {
		return stepNext, err
	}

	present, err := o.ensurePresent(ctx)
	if err != nil {
		return stepNext, err
	}
	if !present {
		return stepCleared, nil
	}
	_, tag, err := o.observe(ctx, s)
	if err != nil {
		return stepNext, err
	}
	if tag == challenge.AwaitingVerify {
		return o.verifyAndMonitor(ctx, s)
	}
	return stepNext, nil
}

// applySolution taps each valid cell in order, waiting a random settle
// interval after each tap. Out-of-range indices are logged and skipped.
func (o *Orchestrator) applySolution(ctx context.Context, s *session, sol challenge.Solution) error {
	o.logger.Info("applying solution", zap.Ints("cells", sol.Cells))
	for _, cell := range sol.Cells {
		if cell < 1 || cell > o.settings.CellCount {
			s.out.InvalidIndices++
			o.logger.Error("invalid solution index", zap.Int("cell", cell), zap.Int("cell_count", o.settings.CellCount))
			o.record(ctx, s, Event{Kind: EventInvalidIndex, Cells: []int{cell}})
			continue
		}
		if err := o.tap(ctx, s, challenge.Cell(cell)); err != nil {
			return err
		}
		if err := o.sleep(ctx, o.settle()); err != nil {
			return err
		}
	}
	return nil
}
