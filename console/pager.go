/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrPagerDone = errors.New("console: no more pages")

// Page is one batch of items from a paginated list endpoint.
type Page struct {
	Items     []gjson.Result
	StartID   int64
	LastScore int64
	Done      bool
}

// Pager walks a list endpoint that continues from the id and score of the
// last item it returned (match/listUserWeb and its relatives). Every page is
// fetched through the Console, so each one lands in the endpoint's history.
type Pager struct {
	console *Console
	key     string
	fields  string
	limit   int

	startID   int64
	lastScore int64
	done      bool
}

// NewPager prepares a pager for key. fields is a JSON object with the
// endpoint's fixed parameters (UserId and the like); it may be empty.
func NewPager(c *Console, key, fields string, limit int) (*Pager, error) {
	if _, err := c.catalog.Lookup(key); err != nil {
		return nil, err
	}

	if fields == "" {
		fields = "{}"
	}
	if !gjson.Valid(fields) || !gjson.Parse(fields).IsObject() {
		return nil, fmt.Errorf("%w: pager fields must be a JSON object", ErrMalformedRequest)
	}

	if limit <= 0 {
		return nil, fmt.Errorf("console: pager limit must be positive, got %d", limit)
	}

	return &Pager{
		console: c,
		key:     key,
		fields:  fields,
		limit:   limit,
	}, nil
}

func (p *Pager) Done() bool {
	return p.done
}

// Next fetches the page after the last one. A page shorter than the limit is
// the final one.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, ErrPagerDone
	}

	body, err := p.request()
	if err != nil {
		return nil, err
	}

	res, err := p.console.Send(ctx, p.key, body)
	if err != nil {
		return nil, err
	}

	reply := gjson.Parse(res.Response)
	items := reply.Get("Matches").Array()

	for _, item := range items {
		p.startID = item.Get("Id").Int()
	}
	if ls := reply.Get("LastScore"); ls.Exists() {
		p.lastScore = ls.Int()
	}
	p.done = len(items) < p.limit

	return &Page{
		Items:     items,
		StartID:   p.startID,
		LastScore: p.lastScore,
		Done:      p.done,
	}, nil
}

func (p *Pager) request() (string, error) {
	body := p.fields

	var err error
	for _, kv := range []struct {
		key   string
		value int64
	}{
		{"StartId", p.startID},
		{"LastScore", p.lastScore},
		{"Limit", int64(p.limit)},
	} {
		body, err = sjson.Set(body, kv.key, kv.value)
		if err != nil {
			return "", fmt.Errorf("build page request: %w", err)
		}
	}

	return body, nil
}
