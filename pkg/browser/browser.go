// Package browser defines the DOM automation capability used by form
// filling: a small Automator interface plus a Source abstraction for checking
// browsers out of a pool (or dialling a fixed endpoint).
package browser

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned when a selector matches nothing on the page.
var ErrElementNotFound = errors.New("browser: element not found")

// Automator drives a single browser page. Implementations are not required
// to be safe for concurrent use; a fill job owns its automator exclusively.
type Automator interface {
	// Navigate loads the URL and waits for the page to finish loading.
	Navigate(ctx context.Context, url string) error

	// SetValue types value into the element matched by selector and fires
	// input/change events. Fails with [ErrElementNotFound] when the selector
	// matches nothing.
	SetValue(ctx context.Context, selector, value string) error

	// SelectOption picks the option whose visible text matches value on the
	// select element matched by selector.
	SelectOption(ctx context.Context, selector, value string) error

	// Exists reports whether selector matches an element on the page.
	Exists(ctx context.Context, selector string) (bool, error)

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the page connection. Idempotent.
	Close() error
}

// ReleaseFunc returns a checked-out automator to its source. It must be
// called exactly once, on every exit path, or the browser leaks.
type ReleaseFunc func(ctx context.Context) error

// Source hands out automators. Acquisition is a scoped checkout: the caller
// gets exclusive use until it calls the release function.
type Source interface {
	// Acquire checks out an automator for the given job ID.
	Acquire(ctx context.Context, id string) (Automator, ReleaseFunc, error)

	// Ping reports whether the source can currently provide browsers.
	Ping(ctx context.Context) error
}
