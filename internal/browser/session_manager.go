// Package browser adapts a Chromium page driven over the DevTools protocol
// to the observation and action ports: full screenshots for the capture
// pipeline, taps at layout coordinates, and selector presence checks.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"challengeflow/internal/config"
	"challengeflow/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// SessionManager owns the Chrome connection. It either attaches to a running
// browser through DebuggerURL or launches its own.
type SessionManager struct {
	cfg        config.BrowserConfig
	layout     config.LayoutConfig
	logger     *zap.Logger
	base       *zap.Logger
	mu         sync.Mutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
}

// NewSessionManager creates a session manager; nothing connects until Start.
func NewSessionManager(cfg config.BrowserConfig, layout config.LayoutConfig, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		cfg:    cfg,
		layout: layout,
		logger: logging.For(logger, logging.CategoryBrowser),
		base:   logger,
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		m.closeLocked()
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(m.cfg.Headless)
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		m.launcher = l
		controlURL = url
		m.logger.Info("launched chrome", zap.Bool("headless", m.cfg.Headless))
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		m.closeLocked()
		return fmt.Errorf("connect to chrome: %w", err)
	}
	m.browser = b
	m.controlURL = controlURL
	m.logger.Info("browser connected", zap.Bool("attached", m.launcher == nil))
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// Open returns the page to work on. With a StartURL a new page is created
// and navigated there; otherwise the first existing page of an attached
// browser is used.
func (m *SessionManager) Open(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, errors.New("browser not connected")
	}

	var page *rod.Page
	if m.cfg.StartURL == "" {
		pages, err := b.Pages()
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		if len(pages) == 0 {
			return nil, errors.New("no open page to attach to and no start_url configured")
		}
		page = pages.First()
	} else {
		p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return nil, fmt.Errorf("create page: %w", err)
		}
		page = p
	}

	if m.cfg.ViewportWidth > 0 && m.cfg.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             m.cfg.ViewportWidth,
			Height:            m.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            true,
		}).Call(page); err != nil {
			m.logger.Warn("failed to set viewport", zap.Error(err))
		}
	}

	if m.cfg.StartURL != "" {
		pg := page.Context(ctx).Timeout(30 * time.Second)
		defer pg.CancelTimeout()
		if err := pg.Navigate(m.cfg.StartURL); err != nil {
			return nil, fmt.Errorf("navigate to %s: %w", m.cfg.StartURL, err)
		}
		if err := pg.WaitLoad(); err != nil {
			m.logger.Warn("page load not confirmed", zap.Error(err))
		}
		m.logger.Info("navigated", zap.String("url", m.cfg.StartURL))
	}

	return newPage(page, m.layout, m.actionTimeout(), m.base), nil
}

func (m *SessionManager) actionTimeout() time.Duration {
	d, err := time.ParseDuration(m.cfg.ActionTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// Shutdown closes a launched browser. An attached browser is only
// disconnected; it belongs to whoever started it.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *SessionManager) closeLocked() error {
	var err error
	if m.browser != nil && m.launcher != nil {
		err = m.browser.Close()
	}
	if m.launcher != nil {
		if m.browser == nil {
			m.launcher.Kill()
		}
		m.launcher.Cleanup()
	}
	m.browser = nil
	m.launcher = nil
	m.controlURL = ""
	return err
}
