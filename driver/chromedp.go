package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/types"
)

// ChromeDriver runs pages against one headless Chrome allocator. Each
// OpenPage call creates an isolated browser context (its own tab tree,
// cookies shared per allocator process).
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger
}

// NewChromeDriver creates a chromedp-backed driver.
func NewChromeDriver(cfg config.BrowserConfig, logger *zap.Logger) *ChromeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "chrome_driver")),
	}
}

// OpenPage starts a new browser context and waits for it to come up.
func (d *ChromeDriver) OpenPage(ctx context.Context) (Page, error) {
	pageCtx, cancel := chromedp.NewContext(d.allocCtx)

	startCtx, startCancel := context.WithTimeout(pageCtx, d.cfg.Timeout)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		return nil, types.NewError(types.ErrDriver, "failed to start browser context").WithCause(err)
	}

	d.logger.Debug("browser context opened", zap.Bool("headless", d.cfg.Headless))
	return &chromePage{
		ctx:     pageCtx,
		cancel:  cancel,
		timeout: d.cfg.Timeout,
		logger:  d.logger,
	}, nil
}

// Close tears down the allocator and every page opened from it.
func (d *ChromeDriver) Close() error {
	d.allocCancel()
	return nil
}

// chromePage implements Page on one chromedp browser context.
type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.Mutex
}

// callContext derives a per-call context from the page context with the
// given timeout, canceled early when the caller context is canceled. The
// page context stays the parent so chromedp keeps its browser target.
func callContext(pageCtx, callerCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithTimeout(pageCtx, timeout)
	stop := context.AfterFunc(callerCtx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

// run executes chromedp actions under the per-call driver timeout. The
// caller context is consulted first so canceled tasks never issue calls,
// and cancellation mid-call aborts the in-flight actions.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	callCtx, cancel := callContext(p.ctx, ctx, p.timeout)
	defer cancel()
	return chromedp.Run(callCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return types.Errorf(types.ErrDriver, "navigate %s", url).WithCause(err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	err := p.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return types.Errorf(types.ErrDriver, "click %s", selector).WithCause(err)
	}
	return nil
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	err := p.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return types.Errorf(types.ErrDriver, "type into %s", selector).WithCause(err)
	}
	return nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	callCtx, cancel := callContext(p.ctx, ctx, timeout)
	defer cancel()
	if err := chromedp.Run(callCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return types.Errorf(types.ErrDriver, "wait for %s", selector).WithCause(err)
	}
	return nil
}

func (p *chromePage) Extract(ctx context.Context, selector, dataType string) (string, error) {
	var (
		data   string
		action chromedp.Action
	)
	switch dataType {
	case "html":
		action = chromedp.InnerHTML(selector, &data, chromedp.ByQuery)
	case "value":
		action = chromedp.Value(selector, &data, chromedp.ByQuery)
	default:
		action = chromedp.Text(selector, &data, chromedp.ByQuery)
	}
	if err := p.run(ctx, action); err != nil {
		return "", types.Errorf(types.ErrDriver, "extract %s from %s", dataType, selector).WithCause(err)
	}
	return data, nil
}

func (p *chromePage) CaptureStructure(ctx context.Context) (*PageStructure, error) {
	var (
		url      string
		title    string
		elements []PageElement
	)
	err := p.run(ctx,
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Evaluate(structureJS, &elements),
	)
	if err != nil {
		return nil, types.NewError(types.ErrDriver, "capture page structure").WithCause(err)
	}
	return &PageStructure{URL: url, Title: title, Elements: elements}, nil
}

func (p *chromePage) CaptureImage(ctx context.Context) (*Screenshot, error) {
	var (
		url  string
		data []byte
	)
	err := p.run(ctx,
		chromedp.Location(&url),
		chromedp.CaptureScreenshot(&data),
	)
	if err != nil {
		return nil, types.NewError(types.ErrDriver, "capture screenshot").WithCause(err)
	}
	return &Screenshot{Data: data, URL: url, TakenAt: time.Now()}, nil
}

func (p *chromePage) MarkElements(ctx context.Context, max int) ([]PageElement, error) {
	if max <= 0 {
		max = 50
	}
	var marked []PageElement
	script := fmt.Sprintf("%s(%d)", markJS, max)
	if err := p.run(ctx, chromedp.Evaluate(script, &marked)); err != nil {
		return nil, types.NewError(types.ErrDriver, "inject visual markers").WithCause(err)
	}
	p.logger.Debug("marked elements for vision", zap.Int("count", len(marked)))
	return marked, nil
}

func (p *chromePage) ClearMarks(ctx context.Context) error {
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(clearMarksJS, &ok)); err != nil {
		return types.NewError(types.ErrDriver, "remove visual markers").WithCause(err)
	}
	return nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
