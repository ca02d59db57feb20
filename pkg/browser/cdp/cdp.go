// Package cdp implements browser.Automator over the Chrome DevTools Protocol.
//
// The client speaks raw JSON-RPC on a DevTools page websocket: requests carry
// a monotonically increasing id, the read loop correlates responses back to
// the waiting caller. Only the handful of methods form filling needs are
// wrapped: Page.enable, Page.navigate, Runtime.evaluate, and
// Page.captureScreenshot.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/arji-ai/arji/pkg/browser"
)

// Compile-time assertion that Client satisfies browser.Automator.
var _ browser.Automator = (*Client)(nil)

const (
	defaultCallTimeout = 15 * time.Second

	// maxMessageSize raises the websocket read limit; screenshot payloads
	// arrive as one base64 text frame.
	maxMessageSize = 32 << 20
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithCallTimeout bounds each protocol call (default 15s).
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// Client is a DevTools page connection.
type Client struct {
	conn        *websocket.Conn
	callTimeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan response
	nextID  int64
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *protocolError  `json:"error"`
}

type envelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *protocolError  `json:"error"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("cdp: protocol error %d: %s", e.Code, e.Message)
}

// Dial connects to a DevTools page websocket URL and enables the Page domain.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:        conn,
		callTimeout: defaultCallTimeout,
		pending:     make(map[int64]chan response),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	go c.readLoop()

	if _, err := c.call(ctx, "Page.enable", nil); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// readLoop correlates responses to waiting calls. Protocol events (frames
// with a method instead of an id) are discarded.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.failPending()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Method != "" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if ok {
			ch <- response{Result: env.Result, Error: env.Error}
		}
	}
}

// failPending unblocks every waiting caller after the connection drops.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call sends one protocol request and waits for its response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: %s: connection closed", method)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("cdp: marshal %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("cdp: %s: %w", method, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp: %s: connection closed", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("cdp: %s: %w", method, resp.Error)
		}
		return resp.Result, nil
	}
}

// evaluate runs a JS expression and returns its result value.
func (c *Client) evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	raw, err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cdp: decode evaluate result: %w", err)
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("cdp: evaluate: %s", out.ExceptionDetails.Text)
	}
	return out.Result.Value, nil
}

// evaluateBool runs an expression expected to yield a boolean.
func (c *Client) evaluateBool(ctx context.Context, expression string) (bool, error) {
	value, err := c.evaluate(ctx, expression)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(value, &b); err != nil {
		return false, fmt.Errorf("cdp: expected boolean result, got %s", value)
	}
	return b, nil
}

// Navigate implements [browser.Automator]. It issues Page.navigate and then
// polls document.readyState until the page has loaded or ctx expires.
func (c *Client) Navigate(ctx context.Context, url string) error {
	if _, err := c.call(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return err
	}

	for {
		ready, err := c.evaluateBool(ctx, `document.readyState === "complete"`)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cdp: navigate %s: %w", url, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetValue implements [browser.Automator]. The value is committed through
// input and change events so framework bindings pick it up.
func (c *Client) SetValue(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		el.blur();
		return true;
	})()`, strconv.Quote(selector), strconv.Quote(value))

	found, err := c.evaluateBool(ctx, expr)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return nil
}

// SelectOption implements [browser.Automator]. The option is matched by
// trimmed, case-insensitive visible text, falling back to value equality.
func (c *Client) SelectOption(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return "missing";
		const want = %s.trim().toLowerCase();
		const opt = Array.from(el.options || []).find(o =>
			o.textContent.trim().toLowerCase() === want || o.value.trim().toLowerCase() === want);
		if (!opt) return "nooption";
		el.value = opt.value;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return "ok";
	})()`, strconv.Quote(selector), strconv.Quote(value))

	raw, err := c.evaluate(ctx, expr)
	if err != nil {
		return err
	}
	var outcome string
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return fmt.Errorf("cdp: decode select outcome: %w", err)
	}
	switch outcome {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	default:
		return fmt.Errorf("cdp: select %s: no option matching %q", selector, value)
	}
}

// Exists implements [browser.Automator].
func (c *Client) Exists(ctx context.Context, selector string) (bool, error) {
	return c.evaluateBool(ctx, fmt.Sprintf("!!document.querySelector(%s)", strconv.Quote(selector)))
}

// Screenshot implements [browser.Automator].
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	raw, err := c.call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}

	var out struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cdp: decode screenshot: %w", err)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.Data))
	if err != nil {
		return nil, fmt.Errorf("cdp: decode screenshot data: %w", err)
	}
	return png, nil
}

// Close implements [browser.Automator]. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.conn.Close(websocket.StatusNormalClosure, "done")
		<-c.done
	})
	return nil
}
