package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeLauncher starts a dedicated Chrome process per driver through chromedp.
type ChromeLauncher struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// ActionTimeout bounds element actions and HTML reads. Defaults to 10s.
	ActionTimeout time.Duration
}

const defaultActionTimeout = 10 * time.Second

// Launch starts a new browser. The browser lives until Close is called on the
// returned driver; ctx only bounds the startup.
func (l ChromeLauncher) Launch(ctx context.Context) (Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, Fault("launch chrome", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, Fault("launch chrome", ctx.Err())
	}

	actionTimeout := l.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = defaultActionTimeout
	}
	return &chromeDriver{ctx: browserCtx, cancel: cancel, actionTimeout: actionTimeout}, nil
}

type chromeDriver struct {
	ctx           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (d *chromeDriver) Open(ctx context.Context, url string, timeout time.Duration) error {
	return d.run(ctx, timeout, "open", url, chromedp.Navigate(url))
}

func (d *chromeDriver) Find(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	if err := d.run(ctx, timeout, "find", selector, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return &chromeElement{d: d, selector: selector}, nil
}

func (d *chromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, d.actionTimeout, "html", "html", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close shuts the browser down. Calling it more than once is harmless.
func (d *chromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return Fault("close chrome", err)
	}
	return nil
}

// run executes actions on the page bounded by timeout and by the caller
// context, translating chromedp failures into driver errors.
func (d *chromeDriver) run(ctx context.Context, timeout time.Duration, op, target string, actions ...chromedp.Action) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if timeout <= 0 {
		timeout = d.actionTimeout
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(op, target)
	case d.ctx.Err() != nil:
		return ErrClosed
	default:
		return Fault(op+" "+target, err)
	}
}

type chromeElement struct {
	d        *chromeDriver
	selector string
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	return e.d.run(ctx, e.d.actionTimeout, "type", e.selector, chromedp.SendKeys(e.selector, text, chromedp.ByQuery))
}

func (e *chromeElement) Clear(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, "clear", e.selector, chromedp.Clear(e.selector, chromedp.ByQuery))
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.d.run(ctx, e.d.actionTimeout, "click", e.selector, chromedp.Click(e.selector, chromedp.ByQuery))
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.d.run(ctx, e.d.actionTimeout, "text", e.selector, chromedp.Text(e.selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}
