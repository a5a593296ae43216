/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package console drives one-shot request/response exchanges against a fixed
// catalog of operations and keeps a navigable history of them per endpoint.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxResponseSize = 32 << 20

var ErrMalformedRequest = errors.New("console: request is not valid JSON")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Result describes one finished exchange, successful or not.
type Result struct {
	ID       string
	Key      string
	Status   int
	Response string
	Latency  time.Duration
	Appended bool
}

// StatusError is a response the console could not record: a non-2xx status,
// or a 2xx whose body was not JSON.
type StatusError struct {
	Status     int
	StatusText string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d:%s", e.Status, e.StatusText)
}

var errorBodyUnescaper = strings.NewReplacer(`\n`, "\n", `\t`, "  ")

// Text renders the error the way it is shown in the response pane: status
// line, blank line, then the body pretty-printed with escaped newlines and
// tabs expanded.
func (e *StatusError) Text() string {
	body := strings.TrimSpace(string(e.Body))
	if pretty, err := prettyJSON(e.Body); err == nil {
		body = errorBodyUnescaper.Replace(pretty)
	}

	return fmt.Sprintf("%d:%s\n\n%s", e.Status, e.StatusText, body)
}

// Console holds the catalog, the history, and the two panes: the request
// being edited and the last response shown.
type Console struct {
	catalog *Catalog
	history *History
	client  Doer
	baseURL string
	log     logrus.FieldLogger

	mu       sync.Mutex
	active   string
	request  string
	response string
}

type Option func(*Console)

func WithHTTPClient(d Doer) Option {
	return func(c *Console) {
		c.client = d
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Console) {
		c.log = l
	}
}

// WithHistory shares an existing history instead of starting empty.
func WithHistory(h *History) Option {
	return func(c *Console) {
		c.history = h
	}
}

// New returns a Console that sends requests to baseURL + "/" + endpoint key.
func New(catalog *Catalog, baseURL string, opts ...Option) *Console {
	c := &Console{
		catalog: catalog,
		history: NewHistory(),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) Catalog() *Catalog {
	return c.catalog
}

func (c *Console) History() *History {
	return c.history
}

// Active returns the selected endpoint key, or "" before any selection.
func (c *Console) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active
}

func (c *Console) Panes() (request, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.request, c.response
}

// SetRequest replaces the request pane, as when the user edits it.
func (c *Console) SetRequest(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.request = text
}

// Select makes key the active endpoint. Selecting the already active endpoint
// changes nothing. Otherwise the panes show the newest history entry, or the
// operation's sample payload and an empty response when there is none.
func (c *Console) Select(key string) error {
	op, err := c.catalog.Lookup(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == key {
		return nil
	}

	c.active = key

	if e, ok := c.history.Latest(key); ok {
		c.request, c.response = e.Request, e.Response
	} else {
		c.request, c.response = op.Sample(), ""
	}

	return nil
}

// StepBack shows the previous history entry of key. It returns false without
// touching the panes when the cursor is already at the oldest entry.
func (c *Console) StepBack(key string) bool {
	return c.show(key, c.history.StepBack)
}

// StepForward shows the next history entry of key.
func (c *Console) StepForward(key string) bool {
	return c.show(key, c.history.StepForward)
}

func (c *Console) show(key string, step func(string) (Entry, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, moved := step(key)
	if !moved {
		return false
	}

	if c.active == key {
		c.request, c.response = e.Request, e.Response
	}

	return true
}

// ResetToTemplate puts the operation's sample payload back in the request
// pane and clears the response pane.
func (c *Console) ResetToTemplate(key string) error {
	op, err := c.catalog.Lookup(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.request, c.response = op.Sample(), ""

	return nil
}

// SendActive sends the request pane to the active endpoint.
func (c *Console) SendActive(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	key, text := c.active, c.request
	c.mu.Unlock()

	if key == "" {
		return nil, fmt.Errorf("%w: no endpoint selected", ErrUnknownEndpoint)
	}

	return c.Send(ctx, key, text)
}

// Send performs one exchange against key. A non-empty requestText that is
// not valid JSON is rejected before anything touches the network. A
// successful JSON reply is recorded in the history; failures are returned as
// *StatusError (or a transport error) and never recorded. Two sends to the
// same endpoint in flight at once are not ordered against each other.
func (c *Console) Send(ctx context.Context, key, requestText string) (*Result, error) {
	op, err := c.catalog.Lookup(key)
	if err != nil {
		return nil, err
	}

	if requestText != "" && !json.Valid([]byte(requestText)) {
		return nil, ErrMalformedRequest
	}

	req, err := c.newRequest(ctx, key, op.Method, requestText)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:  uuid.NewString(),
		Key: key,
	}

	log := c.log.WithFields(logrus.Fields{
		"request_id": res.ID,
		"endpoint":   key,
		"method":     op.Method,
	})

	start := time.Now()
	body, status, statusText, err := c.do(req)
	res.Latency = time.Since(start)
	res.Status = status

	if err != nil {
		log.WithError(err).Warnf("exchange failed after %s", res.Latency.Round(time.Millisecond))

		return res, fmt.Errorf("%s %s: %w", op.Method, key, err)
	}

	if status < 200 || status > 299 || !json.Valid(body) {
		serr := &StatusError{Status: status, StatusText: statusText, Body: body}
		if status >= 200 && status <= 299 {
			serr.StatusText = "parsererror"
		}
		res.Response = serr.Text()

		c.mu.Lock()
		if c.active == key {
			c.response = res.Response
		}
		c.mu.Unlock()

		log.Warnf("exchange returned %s in %s", serr, res.Latency.Round(time.Millisecond))

		return res, serr
	}

	res.Response, err = prettyJSON(body)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	res.Appended = c.history.Append(key, Entry{Request: requestText, Response: res.Response})
	if c.active == key {
		c.request, c.response = requestText, res.Response
	}
	c.mu.Unlock()

	log.WithField("appended", res.Appended).Debugf("exchange returned %d in %s", status, res.Latency.Round(time.Millisecond))

	return res, nil
}

func (c *Console) newRequest(ctx context.Context, key string, method Method, requestText string) (*http.Request, error) {
	target := c.baseURL + "/" + key

	var (
		req *http.Request
		err error
	)

	switch method {
	case MethodGet:
		query, qerr := queryFromJSON(requestText)
		if qerr != nil {
			return nil, qerr
		}
		if len(query) > 0 {
			target += "?" + query.Encode()
		}

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(requestText))
		if err == nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}
	default:
		return nil, fmt.Errorf("console: %s: unsupported method %q", key, method)
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	return req, nil
}

func (c *Console) do(req *http.Request) (body []byte, status int, statusText string, err error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}

	statusText = strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if statusText == "" {
		statusText = http.StatusText(resp.StatusCode)
	}

	return body, resp.StatusCode, statusText, nil
}

// queryFromJSON turns the top-level fields of a JSON object into query
// parameters. Strings are sent as-is, everything else (nested objects and
// arrays included) as its JSON text.
func queryFromJSON(text string) (url.Values, error) {
	values := url.Values{}
	if strings.TrimSpace(text) == "" {
		return values, nil
	}

	obj := gjson.Parse(text)
	if !obj.IsObject() {
		return nil, fmt.Errorf("%w: GET parameters must be a JSON object", ErrMalformedRequest)
	}

	obj.ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.String {
			values.Add(k.String(), v.String())
		} else {
			values.Add(k.String(), v.Raw)
		}
		return true
	})

	return values, nil
}

// prettyJSON re-indents data with tabs. Key order and the server's spelling
// of numbers and escapes are kept.
func prettyJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "\t"); err != nil {
		return "", err
	}

	return buf.String(), nil
}
