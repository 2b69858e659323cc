package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"challengeflow/internal/backoff"
	"challengeflow/internal/browser"
	"challengeflow/internal/capture"
	"challengeflow/internal/challenge"
	"challengeflow/internal/config"
	"challengeflow/internal/journal"
	"challengeflow/internal/logging"
	"challengeflow/internal/orchestrator"
	"challengeflow/internal/solver"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runSessionsFlag int
	runNoWait       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Wait for the challenge and resolve it",
	Long: `Connects to the browser, waits until the challenge is on screen, then runs a
resolution Session. With --sessions N a failed Session is retried up to N
times in total; an interrupted Session is never retried.`,
	RunE: runResolve,
}

func init() {
	runCmd.Flags().IntVar(&runSessionsFlag, "sessions", 1, "Maximum number of Sessions to run until one succeeds")
	runCmd.Flags().BoolVar(&runNoWait, "no-wait", false, "Start immediately instead of waiting for the challenge to appear")
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := logging.For(logger, logging.CategoryBoot)

	var recorder orchestrator.Recorder
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder = j
		boot.Info("journal opened", zap.String("path", j.Path()))
	}

	sm := browser.NewSessionManager(cfg.Browser, cfg.Layout, logger)
	if err := sm.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := sm.Shutdown(); err != nil {
			boot.Warn("browser shutdown failed", zap.Error(err))
		}
	}()
	page, err := sm.Open(ctx)
	if err != nil {
		return err
	}

	observer := capture.New(page, capture.Tesseract{
		Binary:   cfg.Capture.OCRBinary,
		Language: cfg.Capture.OCRLanguage,
		Timeout:  cfg.OCRTimeout(),
	}, cfg.Capture, capture.WithLogger(logger))
	client := solver.NewClient(solverConfig(cfg), solver.WithLogger(logger))

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, orchestrator.WithRecorder(recorder))
	}
	orch := orchestrator.New(orchestrator.SettingsFromConfig(cfg), observer, page, client, opts...)

	if !runNoWait {
		if err := waitForChallenge(ctx, page, cfg.Layout.PresenceSelector, cfg.WaitForChallenge(), backoff.RealSleeper, boot); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), renderOutcome(orchestrator.Outcome{Status: orchestrator.StatusInterrupted, Reason: "interrupted"}))
			return err
		}
	}

	out := runSessions(ctx, orch, runSessionsFlag, boot)
	fmt.Fprintln(cmd.OutOrStdout(), renderOutcome(out))
	if out.Status != orchestrator.StatusSuccess {
		return fmt.Errorf("session ended: %s", out)
	}
	return nil
}

func solverConfig(cfg *config.Config) solver.Config {
	return solver.Config{
		BaseURL:       cfg.Solver.BaseURL,
		ClientKey:     cfg.Solver.ClientKey,
		SubmitTimeout: cfg.GetSubmitTimeout(),
		PollTimeout:   cfg.GetPollTimeout(),
		Backoff: backoff.Policy{
			Initial: cfg.GetPollInitial(),
			Max:     cfg.GetPollMax(),
			Factor:  2,
		},
	}
}

// waitForChallenge polls the presence selector until the challenge shows up.
func waitForChallenge(ctx context.Context, actor challenge.Actor, selector string, interval time.Duration, sleeper backoff.Sleeper, log *zap.Logger) error {
	for {
		present, err := actor.ElementPresent(ctx, selector)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Debug("presence lookup failed while waiting", zap.Error(err))
		}
		if present {
			log.Info("challenge detected")
			return nil
		}
		log.Info("challenge not detected, waiting", zap.Duration("interval", interval))
		if err := sleeper.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

type sessionRunner interface {
	Run(ctx context.Context) orchestrator.Outcome
}

// runSessions repeats failed Sessions up to max times. Success and
// interruption end the loop immediately.
func runSessions(ctx context.Context, r sessionRunner, max int, log *zap.Logger) orchestrator.Outcome {
	if max < 1 {
		max = 1
	}
	var out orchestrator.Outcome
	for i := 1; i <= max; i++ {
		out = r.Run(ctx)
		if out.Status != orchestrator.StatusFailure {
			return out
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return out
		}
		if i < max {
			log.Warn("session failed, starting another", zap.Int("session", i), zap.Int("max_sessions", max), zap.String("reason", out.Reason))
		}
	}
	return out
}
