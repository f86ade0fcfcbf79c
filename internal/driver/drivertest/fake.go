// Package drivertest provides an in-memory scripted driver for tests.
package drivertest

import (
	"context"
	"sync"
	"time"

	"github.com/sahl-financial/sahl_api/internal/driver"
)

// Launcher hands out fake drivers and counts launches.
type Launcher struct {
	// Setup, when set, scripts every driver before it is returned.
	Setup func(d *Driver)
	// Err makes Launch fail.
	Err error

	mu      sync.Mutex
	drivers []*Driver
}

// Launch implements driver.Launcher.
func (l *Launcher) Launch(_ context.Context) (driver.Driver, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	d := NewDriver()
	if l.Setup != nil {
		l.Setup(d)
	}
	l.mu.Lock()
	l.drivers = append(l.drivers, d)
	l.mu.Unlock()
	return d, nil
}

// Launched returns how many drivers were created.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.drivers)
}

// Drivers returns the created drivers in launch order.
func (l *Launcher) Drivers() []*Driver {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Driver, len(l.drivers))
	copy(out, l.drivers)
	return out
}

type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Driver is a fake page made of selectors. Find succeeds for present selectors
// and times out immediately otherwise.
type Driver struct {
	// OpenErr makes Open fail.
	OpenErr error
	// CloseErr is returned by Close. The close is still counted.
	CloseErr error

	mu       sync.Mutex
	elements map[string]*Element
	onClick  map[string]func(*Driver)
	gates    map[string]*gate
	html     string
	opened   []string
	closes   int
}

// NewDriver returns an empty page.
func NewDriver() *Driver {
	return &Driver{
		elements: make(map[string]*Element),
		onClick:  make(map[string]func(*Driver)),
		gates:    make(map[string]*gate),
	}
}

// Add places an element with the given text on the page.
func (d *Driver) Add(selector, text string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := &Element{d: d, selector: selector, text: text}
	d.elements[selector] = el
	return el
}

// Remove deletes an element from the page.
func (d *Driver) Remove(selector string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.elements, selector)
}

// Element returns the element registered for selector, or nil.
func (d *Driver) Element(selector string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[selector]
}

// SetHTML replaces the markup returned by HTML.
func (d *Driver) SetHTML(html string) {
	d.mu.Lock()
	d.html = html
	d.mu.Unlock()
}

// OnClick runs fn whenever the element at selector is clicked.
func (d *Driver) OnClick(selector string, fn func(*Driver)) {
	d.mu.Lock()
	d.onClick[selector] = fn
	d.mu.Unlock()
}

// Block makes the next Find for selector stall until release is called. The
// entered channel is closed once the Find call is waiting.
func (d *Driver) Block(selector string) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	d.mu.Lock()
	d.gates[selector] = g
	d.mu.Unlock()
	return g.entered, func() { g.once.Do(func() { close(g.release) }) }
}

// Opened lists the URLs passed to Open.
func (d *Driver) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.opened))
	copy(out, d.opened)
	return out
}

// Closes reports how many times Close was called.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Driver) Open(_ context.Context, url string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closes > 0 {
		return driver.ErrClosed
	}
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = append(d.opened, url)
	return nil
}

func (d *Driver) Find(ctx context.Context, selector string, _ time.Duration) (driver.Element, error) {
	d.mu.Lock()
	g := d.gates[selector]
	delete(d.gates, selector)
	d.mu.Unlock()
	if g != nil {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, driver.Timeout("find", selector)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closes > 0 {
		return nil, driver.ErrClosed
	}
	el, ok := d.elements[selector]
	if !ok {
		return nil, driver.Timeout("find", selector)
	}
	return el, nil
}

func (d *Driver) HTML(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closes > 0 {
		return "", driver.ErrClosed
	}
	return d.html, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	d.closes++
	err := d.CloseErr
	d.mu.Unlock()
	return err
}

// Element is a fake page control recording what was typed into it.
type Element struct {
	// ClickErr makes Click fail.
	ClickErr error

	d        *Driver
	selector string

	mu      sync.Mutex
	text    string
	value   string
	strokes []string
	clears  int
}

func (e *Element) Type(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value += text
	e.strokes = append(e.strokes, text)
	return nil
}

func (e *Element) Clear(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = ""
	e.clears++
	return nil
}

func (e *Element) Click(_ context.Context) error {
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.d.mu.Lock()
	fn := e.d.onClick[e.selector]
	e.d.mu.Unlock()
	if fn != nil {
		fn(e.d)
	}
	return nil
}

func (e *Element) Text(_ context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text, nil
}

// Value returns everything typed since the last Clear.
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Strokes returns each Type call in order, ignoring clears.
func (e *Element) Strokes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.strokes))
	copy(out, e.strokes)
	return out
}

// Clears reports how many times Clear was called.
func (e *Element) Clears() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clears
}
