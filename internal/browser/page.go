package browser

import (
	"context"
	"fmt"
	"time"

	"challengeflow/internal/challenge"
	"challengeflow/internal/config"
	"challengeflow/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Page is one browser tab bound to a layout. It satisfies challenge.Actor
// and capture.Screen.
type Page struct {
	page    *rod.Page
	layout  config.LayoutConfig
	timeout time.Duration
	logger  *zap.Logger
}

func newPage(p *rod.Page, layout config.LayoutConfig, timeout time.Duration, logger *zap.Logger) *Page {
	return &Page{page: p, layout: layout, timeout: timeout, logger: logging.For(logger, logging.CategoryAction)}
}

// Screenshot captures the viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	pg := p.page.Context(ctx).Timeout(p.timeout)
	defer pg.CancelTimeout()
	data, err := pg.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

// Tap clicks the coordinate the layout assigns to pos.
func (p *Page) Tap(ctx context.Context, pos challenge.Position) error {
	pt, err := PointFor(p.layout, pos)
	if err != nil {
		return err
	}
	pg := p.page.Context(ctx).Timeout(p.timeout)
	defer pg.CancelTimeout()

	for _, typ := range []proto.InputDispatchMouseEventType{
		proto.InputDispatchMouseEventTypeMouseMoved,
		proto.InputDispatchMouseEventTypeMousePressed,
		proto.InputDispatchMouseEventTypeMouseReleased,
	} {
		ev := proto.InputDispatchMouseEvent{Type: typ, X: pt.X, Y: pt.Y}
		if typ != proto.InputDispatchMouseEventTypeMouseMoved {
			ev.Button = proto.InputMouseButtonLeft
			ev.ClickCount = 1
		}
		if err := ev.Call(pg); err != nil {
			return fmt.Errorf("tap %s at (%.0f,%.0f): %w", pos, pt.X, pt.Y, err)
		}
	}
	p.logger.Debug("clicked coordinate", zap.Stringer("position", pos), zap.Float64("x", pt.X), zap.Float64("y", pt.Y))
	return nil
}

// ElementPresent reports whether selector matches an element right now.
func (p *Page) ElementPresent(ctx context.Context, selector string) (bool, error) {
	pg := p.page.Context(ctx).Timeout(p.timeout)
	defer pg.CancelTimeout()
	has, _, err := pg.Has(selector)
	if err != nil {
		return false, fmt.Errorf("looking up %q: %w", selector, err)
	}
	return has, nil
}

// PointFor maps a logical position onto the layout.
func PointFor(layout config.LayoutConfig, pos challenge.Position) (config.Point, error) {
	switch pos.Kind {
	case challenge.PositionVerify:
		return layout.Verify, nil
	case challenge.PositionTryAgain:
		return layout.TryAgain, nil
	case challenge.PositionRefresh:
		return layout.Refresh, nil
	case challenge.PositionCell:
		if pos.Cell < 1 || pos.Cell > len(layout.Cells) {
			return config.Point{}, fmt.Errorf("cell %d outside layout of %d cells", pos.Cell, len(layout.Cells))
		}
		return layout.Cells[pos.Cell-1], nil
	}
	return config.Point{}, fmt.Errorf("unknown position %s", pos)
}
