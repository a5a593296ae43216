/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package console

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed catalog.json
var defaultCatalog []byte

var ErrUnknownEndpoint = errors.New("console: unknown endpoint")

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Operation is one remote call described by the catalog.
type Operation struct {
	Name   string          `json:"name"`
	Method Method          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// HasSample reports whether the operation ships a sample payload. An empty
// string, null, or a missing data field all mean no sample.
func (o Operation) HasSample() bool {
	d := bytes.TrimSpace(o.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte(`""`)) && !bytes.Equal(d, []byte(`null`))
}

// Sample returns the sample payload indented with tabs, or "" when there is
// none.
func (o Operation) Sample() string {
	if !o.HasSample() {
		return ""
	}

	text, err := prettyJSON(o.Data)
	if err != nil {
		return string(o.Data)
	}

	return text
}

type Category struct {
	Tab        string      `json:"tab"`
	Path       string      `json:"path"`
	Operations []Operation `json:"apis"`
}

// Catalog is the fixed tree of categories and operations. It is not modified
// after loading.
type Catalog struct {
	categories []Category
	byKey      map[string]Operation
}

// Key joins a category path and operation name into an endpoint key.
func Key(path, name string) string {
	return path + "/" + name
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic("console: embedded catalog is invalid: " + err.Error())
	}

	return c
}

// LoadCatalog reads a catalog file in the same layout as the embedded one.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var categories []Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		categories: categories,
		byKey:      make(map[string]Operation),
	}

	for _, cat := range categories {
		if cat.Path == "" || strings.Contains(cat.Path, "/") {
			return nil, fmt.Errorf("catalog: invalid category path %q", cat.Path)
		}

		for _, op := range cat.Operations {
			if op.Name == "" || strings.Contains(op.Name, "/") {
				return nil, fmt.Errorf("catalog: invalid operation name %q in %s", op.Name, cat.Path)
			}

			switch op.Method {
			case MethodGet, MethodPost:
			default:
				return nil, fmt.Errorf("catalog: %s: unsupported method %q", Key(cat.Path, op.Name), op.Method)
			}

			key := Key(cat.Path, op.Name)
			if _, dup := c.byKey[key]; dup {
				return nil, fmt.Errorf("catalog: duplicate endpoint %s", key)
			}

			if op.HasSample() && !json.Valid(op.Data) {
				return nil, fmt.Errorf("catalog: %s: sample payload is not valid JSON", key)
			}

			c.byKey[key] = op
		}
	}

	return c, nil
}

// Lookup returns the operation for an endpoint key.
func (c *Catalog) Lookup(key string) (Operation, error) {
	op, ok := c.byKey[key]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, key)
	}

	return op, nil
}

func (c *Catalog) Categories() []Category {
	return append([]Category(nil), c.categories...)
}

// Keys lists every endpoint key in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.byKey))
	for _, cat := range c.categories {
		for _, op := range cat.Operations {
			keys = append(keys, Key(cat.Path, op.Name))
		}
	}

	return keys
}
