package console

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type backend struct {
	srv   *httptest.Server
	calls atomic.Int32
}

// newBackend starts a server whose handler is picked per request path.
func newBackend(t *testing.T, routes map[string]http.HandlerFunc) *backend {
	t.Helper()

	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(b.srv.Close)

	return b
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestConsole(t *testing.T, b *backend) *Console {
	t.Helper()

	catalog, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	return New(catalog, b.srv.URL, WithLogger(quietLogger()), WithHTTPClient(b.srv.Client()))
}

func TestSendRecordsAndDedups(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(data))
			mu.Unlock()
			assert.Equal(t, http.MethodPost, r.Method)
			reply(http.StatusOK, `{"Id":7}`)(w, r)
		},
	})
	c := newTestConsole(t, b)
	require.NoError(t, c.Select("pack/new"))

	res, err := c.Send(context.Background(), "pack/new", `{"Title":"x"}`)
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.NotEmpty(t, res.ID)
	assert.True(t, res.Latency > 0)

	want := []Entry{{Request: `{"Title":"x"}`, Response: "{\n\t\"Id\": 7\n}"}}
	assert.Equal(t, want, c.History().Entries("pack/new"))

	idx, ok := c.History().Cursor("pack/new")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	res, err = c.Send(context.Background(), "pack/new", `{"Title":"x"}`)
	require.NoError(t, err)
	assert.False(t, res.Appended)
	assert.Equal(t, want, c.History().Entries("pack/new"))

	_, err = c.Send(context.Background(), "pack/new", `{"Title":"y"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, c.History().Len("pack/new"))

	mu.Lock()
	assert.Equal(t, []string{`{"Title":"x"}`, `{"Title":"x"}`, `{"Title":"y"}`}, bodies)
	mu.Unlock()

	req, resp := c.Panes()
	assert.Equal(t, `{"Title":"y"}`, req)
	assert.Equal(t, "{\n\t\"Id\": 7\n}", resp)
}

func TestSendRejectsMalformedJSON(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": reply(http.StatusOK, `{}`),
	})
	c := newTestConsole(t, b)

	res, err := c.Send(context.Background(), "pack/new", `{"Title":`)
	assert.ErrorIs(t, err, ErrMalformedRequest)
	assert.Nil(t, res)
	assert.Zero(t, b.calls.Load())
	assert.Zero(t, c.History().Len("pack/new"))
}

func TestSendRejectsBlankRequest(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new":  reply(http.StatusOK, `{}`),
		"/pack/list": reply(http.StatusOK, `[]`),
	})
	c := newTestConsole(t, b)

	for _, key := range []string{"pack/new", "pack/list"} {
		res, err := c.Send(context.Background(), key, "  \n\t")
		assert.ErrorIs(t, err, ErrMalformedRequest, key)
		assert.Nil(t, res)
	}
	assert.Zero(t, b.calls.Load())
}

func TestSendEmptyBody(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/info": reply(http.StatusOK, `{"Ok":true}`),
	})
	c := newTestConsole(t, b)

	res, err := c.Send(context.Background(), "pack/info", "")
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.Equal(t, []Entry{{Request: "", Response: "{\n\t\"Ok\": true\n}"}}, c.History().Entries("pack/info"))
}

func TestSendUnknownEndpoint(t *testing.T) {
	b := newBackend(t, nil)
	c := newTestConsole(t, b)

	_, err := c.Send(context.Background(), "pack/missing", "{}")
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
	assert.Zero(t, b.calls.Load())
}

func TestSendGetUsesQuery(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/list": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			q := r.URL.Query()
			assert.Equal(t, "0", q.Get("StartId"))
			assert.Equal(t, "12", q.Get("Limit"))
			assert.Equal(t, "art", q.Get("Tag"))
			reply(http.StatusOK, `[]`)(w, r)
		},
	})
	c := newTestConsole(t, b)

	_, err := c.Send(context.Background(), "pack/list", `{"StartId":0,"Limit":12,"Tag":"art"}`)
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.calls.Load())

	_, err = c.Send(context.Background(), "pack/list", `[1,2]`)
	assert.ErrorIs(t, err, ErrMalformedRequest)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestSendFailureIsNotRecorded(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": reply(http.StatusInternalServerError, `{"Error":"boom\nline"}`),
	})
	c := newTestConsole(t, b)
	require.NoError(t, c.Select("pack/new"))

	res, err := c.Send(context.Background(), "pack/new", `{"Title":"x"}`)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusInternalServerError, serr.Status)
	assert.Equal(t, "Internal Server Error", serr.StatusText)

	want := "500:Internal Server Error\n\n{\n\t\"Error\": \"boom\nline\"\n}"
	assert.Equal(t, want, res.Response)
	assert.Zero(t, c.History().Len("pack/new"))

	_, resp := c.Panes()
	assert.Equal(t, want, resp)
}

func TestSendNonJSONReply(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": reply(http.StatusOK, `not json`),
	})
	c := newTestConsole(t, b)

	res, err := c.Send(context.Background(), "pack/new", `{}`)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "parsererror", serr.StatusText)
	assert.Equal(t, "200:parsererror\n\nnot json", res.Response)
	assert.Zero(t, c.History().Len("pack/new"))
}

func TestSendTransportError(t *testing.T) {
	b := newBackend(t, nil)
	c := newTestConsole(t, b)
	b.srv.Close()

	res, err := c.Send(context.Background(), "pack/new", `{}`)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Zero(t, c.History().Len("pack/new"))
}

func TestSelectWithoutHistoryShowsSample(t *testing.T) {
	c := newTestConsole(t, newBackend(t, nil))

	require.NoError(t, c.Select("pack/new"))
	assert.Equal(t, "pack/new", c.Active())

	req, resp := c.Panes()
	assert.Equal(t, "{\n\t\"Title\": \"\"\n}", req)
	assert.Equal(t, "", resp)

	require.NoError(t, c.Select("pack/info"))
	req, resp = c.Panes()
	assert.Equal(t, "", req)
	assert.Equal(t, "", resp)

	assert.ErrorIs(t, c.Select("nope/nope"), ErrUnknownEndpoint)
	assert.Equal(t, "pack/info", c.Active())
}

func TestSelectWithHistoryShowsLatest(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new":  reply(http.StatusOK, `{"Id":1}`),
		"/pack/info": reply(http.StatusOK, `{}`),
	})
	c := newTestConsole(t, b)

	for _, text := range []string{`{"Title":"a"}`, `{"Title":"b"}`} {
		_, err := c.Send(context.Background(), "pack/new", text)
		require.NoError(t, err)
	}

	require.NoError(t, c.Select("pack/new"))
	require.True(t, c.StepBack("pack/new"))

	require.NoError(t, c.Select("pack/info"))
	require.NoError(t, c.Select("pack/new"))

	idx, _ := c.History().Cursor("pack/new")
	assert.Equal(t, 1, idx)
	req, resp := c.Panes()
	assert.Equal(t, `{"Title":"b"}`, req)
	assert.Equal(t, "{\n\t\"Id\": 1\n}", resp)
}

func TestSelectSameEndpointKeepsPanes(t *testing.T) {
	c := newTestConsole(t, newBackend(t, nil))

	require.NoError(t, c.Select("pack/new"))
	c.SetRequest(`{"Title":"edited"}`)
	require.NoError(t, c.Select("pack/new"))

	req, _ := c.Panes()
	assert.Equal(t, `{"Title":"edited"}`, req)
}

func TestStepThroughHistory(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			reply(http.StatusOK, `{"Echo":`+string(data)+`}`)(w, r)
		},
	})
	c := newTestConsole(t, b)
	require.NoError(t, c.Select("pack/new"))

	texts := []string{`1`, `2`, `3`}
	for _, text := range texts {
		_, err := c.Send(context.Background(), "pack/new", text)
		require.NoError(t, err)
	}
	n := len(texts)

	for i := 0; i < n+5; i++ {
		c.StepBack("pack/new")
	}
	idx, _ := c.History().Cursor("pack/new")
	assert.Equal(t, 0, idx)
	req, resp := c.Panes()
	assert.Equal(t, `1`, req)
	assert.Equal(t, "{\n\t\"Echo\": 1\n}", resp)

	// At the bound the panes are not redrawn.
	c.SetRequest("draft")
	assert.False(t, c.StepBack("pack/new"))
	req, _ = c.Panes()
	assert.Equal(t, "draft", req)

	for i := 0; i < n+5; i++ {
		c.StepForward("pack/new")
	}
	idx, _ = c.History().Cursor("pack/new")
	assert.Equal(t, n-1, idx)
	req, _ = c.Panes()
	assert.Equal(t, `3`, req)
}

func TestResetToTemplate(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"/pack/new": reply(http.StatusOK, `{"Id":7}`),
	})
	c := newTestConsole(t, b)
	require.NoError(t, c.Select("pack/new"))

	_, err := c.SendActive(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.ResetToTemplate("pack/new"))
	req, resp := c.Panes()
	assert.Equal(t, "{\n\t\"Title\": \"\"\n}", req)
	assert.Equal(t, "", resp)

	assert.Equal(t, 1, c.History().Len("pack/new"))

	require.NoError(t, c.ResetToTemplate("pack/info"))
	req, _ = c.Panes()
	assert.Equal(t, "", req)
}

func TestSendActiveNeedsSelection(t *testing.T) {
	c := newTestConsole(t, newBackend(t, nil))

	_, err := c.SendActive(context.Background())
	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestPrettyJSONKeepsServerSpelling(t *testing.T) {
	got, err := prettyJSON([]byte(`{"b":1.0,"a":"caf\u00e9","c":[1,2]}`))
	require.NoError(t, err)

	assert.Equal(t, "{\n\t\"b\": 1.0,\n\t\"a\": \"caf\\u00e9\",\n\t\"c\": [\n\t\t1,\n\t\t2\n\t]\n}", got)
}

func TestQueryFromJSONNestedValues(t *testing.T) {
	q, err := queryFromJSON(`{"Tags":["a","b"],"Page":{"Id":1},"Ok":true,"Nil":null,"Name":"x y"}`)
	require.NoError(t, err)

	assert.Equal(t, `["a","b"]`, q.Get("Tags"))
	assert.Equal(t, `{"Id":1}`, q.Get("Page"))
	assert.Equal(t, "true", q.Get("Ok"))
	assert.Equal(t, "null", q.Get("Nil"))
	assert.Equal(t, "x y", q.Get("Name"))
	assert.Equal(t, "Name=x+y&Nil=null&Ok=true&Page=%7B%22Id%22%3A1%7D&Tags=%5B%22a%22%2C%22b%22%5D", q.Encode())
}
