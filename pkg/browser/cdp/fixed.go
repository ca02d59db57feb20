package cdp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/arji-ai/arji/pkg/browser"
)

// Compile-time assertion that Fixed satisfies browser.Source.
var _ browser.Source = (*Fixed)(nil)

// Fixed is a browser source backed by one externally managed Chrome instance.
// Each acquire dials a fresh page websocket; release closes it. Checkouts are
// not serialised — the external Chrome is assumed to tolerate one page per
// caller.
type Fixed struct {
	// URL is either a DevTools page websocket URL (ws://...) or the HTTP
	// base of the DevTools endpoint (http://host:9222), in which case the
	// first page target is resolved via /json.
	URL string

	// Opts are passed through to [Dial].
	Opts []Option

	// HTTPClient is used for target resolution. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Acquire implements [browser.Source].
func (f *Fixed) Acquire(ctx context.Context, _ string) (browser.Automator, browser.ReleaseFunc, error) {
	wsURL := f.URL
	if strings.HasPrefix(wsURL, "http://") || strings.HasPrefix(wsURL, "https://") {
		resolved, err := ResolvePageURL(ctx, f.httpClient(), wsURL)
		if err != nil {
			return nil, nil, err
		}
		wsURL = resolved
	}

	client, err := Dial(ctx, wsURL, f.Opts...)
	if err != nil {
		return nil, nil, err
	}
	release := func(context.Context) error {
		return client.Close()
	}
	return client, release, nil
}

// Ping implements [browser.Source].
func (f *Fixed) Ping(ctx context.Context) error {
	base := f.URL
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		// A page websocket URL carries no version endpoint to probe.
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/json/version", nil)
	if err != nil {
		return fmt.Errorf("cdp: ping: %w", err)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("cdp: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cdp: ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (f *Fixed) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}
