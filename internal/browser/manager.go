package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/specterhq/specterqa/internal/config"
)

// Manager owns the browser process and hands out isolated tab sessions.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewManager configures a Chrome exec allocator. The browser process itself
// starts lazily with the first session.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := splitChromeArg(arg)
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser_manager"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// NewSession opens a fresh tab with the configured viewport emulation.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	// Pin the logical viewport and scale factor so coordinate conversion has
	// a stable frame of reference.
	err := chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(
			int64(m.cfg.ViewportWidth),
			int64(m.cfg.ViewportHeight),
			m.cfg.DeviceScaleFactor,
			false,
		),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	s := &Session{
		id:            uuid.NewString(),
		ctx:           tabCtx,
		cancel:        tabCancel,
		logger:        m.logger.Named("session"),
		navTimeout:    m.cfg.NavigationTimeout,
		actionTimeout: m.cfg.ActionTimeout,
	}
	m.logger.Info("Browser session created", zap.String("session_id", s.id))
	return s, nil
}

// Shutdown terminates the browser process and every session spawned from it.
func (m *Manager) Shutdown() {
	m.allocCancel()
	m.logger.Info("Browser manager shut down")
}

// splitChromeArg normalizes "--flag=value", "flag=value" and bare "--flag".
func splitChromeArg(arg string) (name, value string, hasValue bool) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return arg, "", false
}
