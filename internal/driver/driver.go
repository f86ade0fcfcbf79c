// Package driver abstracts the browser automation channel used to operate the
// bank portal. The scrape engine only talks to these interfaces; Chrome is one
// implementation, drivertest provides a scripted fake.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout reports that a page or element did not appear before its deadline.
	ErrTimeout = errors.New("driver: wait timed out")
	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("driver: closed")
	// ErrFault reports a broken automation channel (crashed browser, protocol error).
	ErrFault = errors.New("driver: automation fault")
)

// Launcher creates driver instances. Each call starts one isolated browser.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// Driver controls a single browser page. Implementations are not safe for
// concurrent use; callers serialize access.
type Driver interface {
	Open(ctx context.Context, url string, timeout time.Duration) error
	// Find waits up to timeout for selector to be present in the page.
	Find(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Element is a located page control.
type Element interface {
	Type(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
}

// Fault wraps err so that errors.Is(err, ErrFault) holds while keeping the cause.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrFault, err)
}

// Timeout builds a wait timeout error for op.
func Timeout(op, selector string) error {
	return fmt.Errorf("%s %q: %w", op, selector, ErrTimeout)
}
