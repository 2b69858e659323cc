// Package capture turns a full screenshot into a challenge Snapshot: crop to
// the challenge region, JPEG-compress under the size target, and OCR the
// instruction text.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"time"

	"challengeflow/internal/challenge"
	"challengeflow/internal/config"
	"challengeflow/internal/logging"

	"go.uber.org/zap"
)

// Screen produces a full screenshot in any format image.Decode understands.
type Screen interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Pipeline implements challenge.Observer.
type Pipeline struct {
	screen Screen
	ocr    TextExtractor
	cfg    config.CaptureConfig
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock replaces time.Now for CapturedAt.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New builds a Pipeline.
func New(screen Screen, ocr TextExtractor, cfg config.CaptureConfig, opts ...Option) *Pipeline {
	p := &Pipeline{screen: screen, ocr: ocr, cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.For(p.logger, logging.CategoryObservation)
	return p
}

// Capture takes a screenshot and reduces it to a Snapshot. An OCR failure
// is logged and yields empty text rather than an error; the classifier
// treats that as a failed observation.
func (p *Pipeline) Capture(ctx context.Context) (challenge.Snapshot, error) {
	raw, err := p.screen.Screenshot(ctx)
	if err != nil {
		return challenge.Snapshot{}, fmt.Errorf("%w: screenshot: %v", challenge.ErrObservation, err)
	}
	if len(raw) == 0 {
		return challenge.Snapshot{}, fmt.Errorf("%w: empty screenshot", challenge.ErrObservation)
	}
	at := p.now()

	full, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return challenge.Snapshot{}, fmt.Errorf("%w: decoding screenshot: %v", challenge.ErrObservation, err)
	}
	cropped, err := Crop(full, p.cfg.Region)
	if err != nil {
		return challenge.Snapshot{}, fmt.Errorf("%w: %v", challenge.ErrObservation, err)
	}
	comp, err := Compress(cropped, p.cfg)
	if err != nil {
		return challenge.Snapshot{}, fmt.Errorf("%w: %v", challenge.ErrObservation, err)
	}
	size := zap.Float64("size_kb", float64(len(comp.Data))/1024)
	if comp.WithinTarget {
		p.logger.Debug("challenge image compressed", zap.Int("quality", comp.Quality), size)
	} else {
		p.logger.Warn("could not compress below target", zap.Int("quality", comp.Quality),
			zap.Int("target_kb", p.cfg.TargetSizeKB), size)
	}

	text, err := p.ocr.ExtractText(ctx, comp.Data)
	if err != nil {
		if ctx.Err() != nil {
			return challenge.Snapshot{}, ctx.Err()
		}
		p.logger.Error("ocr failed", zap.Error(err))
		text = ""
	}
	p.logger.Info("extracted instructions", zap.String("text", text))

	return challenge.Snapshot{Image: comp.Data, Text: text, CapturedAt: at}, nil
}
