// Package mock provides recording browser.Automator and browser.Source
// implementations for form-fill tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/arji-ai/arji/pkg/browser"
)

// Action records one DOM interaction.
type Action struct {
	Kind     string // "navigate", "set", "select"
	Selector string
	Value    string
}

// Automator is a scriptable browser.Automator. The zero value behaves like an
// empty, loadable page. Safe for concurrent use.
type Automator struct {
	mu sync.Mutex

	// Present lists selectors Exists reports true for.
	Present map[string]bool

	// FailSelector, when set, makes SetValue/SelectOption on that selector
	// fail.
	FailSelector string

	// NavigateErr, when non-nil, is returned by Navigate.
	NavigateErr error

	// ScreenshotData is returned by Screenshot (default a PNG stub).
	ScreenshotData []byte

	// Actions records every interaction in order.
	Actions []Action

	closed bool
}

// Compile-time interface assertion.
var _ browser.Automator = (*Automator)(nil)

// Navigate implements browser.Automator.
func (a *Automator) Navigate(_ context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.NavigateErr != nil {
		return a.NavigateErr
	}
	a.Actions = append(a.Actions, Action{Kind: "navigate", Value: url})
	return nil
}

// SetValue implements browser.Automator.
func (a *Automator) SetValue(_ context.Context, selector, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if selector == a.FailSelector && a.FailSelector != "" {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	a.Actions = append(a.Actions, Action{Kind: "set", Selector: selector, Value: value})
	return nil
}

// SelectOption implements browser.Automator.
func (a *Automator) SelectOption(_ context.Context, selector, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if selector == a.FailSelector && a.FailSelector != "" {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	a.Actions = append(a.Actions, Action{Kind: "select", Selector: selector, Value: value})
	return nil
}

// Exists implements browser.Automator.
func (a *Automator) Exists(_ context.Context, selector string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Present[selector], nil
}

// Screenshot implements browser.Automator.
func (a *Automator) Screenshot(context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ScreenshotData != nil {
		return a.ScreenshotData, nil
	}
	return []byte("mock-png"), nil
}

// Close implements browser.Automator.
func (a *Automator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Applied returns selector→value for every set/select action.
func (a *Automator) Applied() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.Actions))
	for _, act := range a.Actions {
		if act.Kind == "set" || act.Kind == "select" {
			out[act.Selector] = act.Value
		}
	}
	return out
}

// Source hands out a fixed Automator and counts checkouts and releases.
type Source struct {
	mu sync.Mutex

	// Automator is handed to every Acquire call. Defaults to a fresh mock.
	Automator *Automator

	// AcquireErr, when non-nil, fails Acquire.
	AcquireErr error

	// PingErr, when non-nil, fails Ping.
	PingErr error

	Acquired int
	Released int
}

// Compile-time interface assertion.
var _ browser.Source = (*Source)(nil)

// Acquire implements browser.Source.
func (s *Source) Acquire(context.Context, string) (browser.Automator, browser.ReleaseFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AcquireErr != nil {
		return nil, nil, s.AcquireErr
	}
	if s.Automator == nil {
		s.Automator = &Automator{}
	}
	s.Acquired++
	release := func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.Released++
		return nil
	}
	return s.Automator, release, nil
}

// Ping implements browser.Source.
func (s *Source) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Balanced reports whether every checkout was released.
func (s *Source) Balanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Acquired == s.Released
}
