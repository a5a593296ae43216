package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/battlebox/console"
	"github.com/sirupsen/logrus"
)

const consoleHelp = `commands:
  ls [category]   list endpoints
  use <key>       select an endpoint, e.g. use pack/list
  req <json>      replace the request pane
  send            send the request pane to the selected endpoint
  back            show the previous history entry
  fwd             show the next history entry
  reset           put the sample payload back in the request pane
  show            print both panes
  history         list the recorded exchanges of the selected endpoint
  more            fetch the next page of match/listUserWeb
  help            show this message
  quit            exit
`

const pagerEndpoint = "match/listUserWeb"

// printer serializes writes from handler goroutines and the input loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, format, a...)
}

func (p *printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.w.Write(b)
}

// readLines delivers trimmed input lines until EOF or until ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

func loadCatalog(cfg *Config) (*console.Catalog, error) {
	if cfg.catalogPath == "" {
		return console.DefaultCatalog(), nil
	}

	return console.LoadCatalog(cfg.catalogPath)
}

type consoleREPL struct {
	cfg     *Config
	console *console.Console
	out     *printer
	pager   *console.Pager
}

func runConsole(ctx context.Context, cfg *Config, log logrus.FieldLogger, in io.Reader, out io.Writer) error {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	repl := &consoleREPL{
		cfg: cfg,
		console: console.New(catalog, cfg.apiURL,
			console.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
			console.WithLogger(log),
		),
		out: &printer{w: out},
	}

	repl.out.printf("%d endpoints against %s, type help for commands\n", len(catalog.Keys()), cfg.apiURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	input := readLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}

			if repl.command(ctx, line) {
				return nil
			}
		}
	}
}

// command runs one input line. It reports whether the console should exit.
func (r *consoleREPL) command(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	c := r.console

	switch cmd {
	case "":
	case "ls":
		printCatalog(r.out, c.Catalog(), rest)
	case "use":
		if err := c.Select(rest); err != nil {
			r.out.printf("error: %v\n", err)
			return false
		}
		r.showPanes()
	case "req":
		c.SetRequest(rest)
	case "send":
		res, err := c.SendActive(ctx)
		r.printResult(res, err)
	case "back", "fwd":
		if !r.needActive() {
			return false
		}
		step := c.StepBack
		if cmd == "fwd" {
			step = c.StepForward
		}
		if !step(c.Active()) {
			r.out.printf("no further history\n")
			return false
		}
		r.showPanes()
	case "reset":
		if !r.needActive() {
			return false
		}
		if err := c.ResetToTemplate(c.Active()); err != nil {
			r.out.printf("error: %v\n", err)
			return false
		}
		r.showPanes()
	case "show":
		if !r.needActive() {
			return false
		}
		r.showPanes()
	case "history":
		if !r.needActive() {
			return false
		}
		r.showHistory()
	case "more":
		r.more(ctx)
	case "help":
		r.out.printf("%s", consoleHelp)
	case "quit", "exit":
		return true
	default:
		r.out.printf("unknown command %q, type help for commands\n", cmd)
	}

	return false
}

func (r *consoleREPL) needActive() bool {
	if r.console.Active() == "" {
		r.out.printf("no endpoint selected, see use\n")
		return false
	}
	return true
}

func (r *consoleREPL) showPanes() {
	key := r.console.Active()
	request, response := r.console.Panes()

	position := "no history"
	if i, ok := r.console.History().Cursor(key); ok {
		position = fmt.Sprintf("%d/%d", i+1, r.console.History().Len(key))
	}

	r.out.printf("== %s (%s)\n-- request\n%s\n-- response\n%s\n", key, position, request, response)
}

func (r *consoleREPL) showHistory() {
	key := r.console.Active()
	cursor, _ := r.console.History().Cursor(key)

	entries := r.console.History().Entries(key)
	if len(entries) == 0 {
		r.out.printf("no history\n")
		return
	}

	for i, e := range entries {
		mark := " "
		if i == cursor {
			mark = "*"
		}
		r.out.printf("%s %d %s\n", mark, i+1, strings.Join(strings.Fields(e.Request), " "))
	}
}

func (r *consoleREPL) printResult(res *console.Result, err error) {
	var serr *console.StatusError

	switch {
	case errors.Is(err, console.ErrMalformedRequest):
		r.out.printf("parse json error\n")
	case errors.As(err, &serr):
		if res != nil {
			r.out.printf("%s %s in %s\n", res.ID, res.Key, res.Latency.Round(time.Millisecond))
		}
		r.out.printf("%s\n", serr.Text())
	case err != nil:
		r.out.printf("error: %v\n", err)
	default:
		note := ""
		if !res.Appended {
			note = " (repeat, not recorded)"
		}
		r.out.printf("%s %s %d in %s%s\n%s\n", res.ID, res.Key, res.Status, res.Latency.Round(time.Millisecond), note, res.Response)
	}
}

func (r *consoleREPL) more(ctx context.Context) {
	if r.pager == nil || r.pager.Done() {
		fields := fmt.Sprintf(`{"UserId":%d}`, r.cfg.userID)

		pager, err := console.NewPager(r.console, pagerEndpoint, fields, r.cfg.pageLimit)
		if err != nil {
			r.out.printf("error: %v\n", err)
			return
		}
		r.pager = pager
	}

	page, err := r.pager.Next(ctx)
	if err != nil {
		r.pager = nil
		r.printResult(nil, err)
		return
	}

	for _, item := range page.Items {
		r.out.printf("%s\n", item.Raw)
	}

	if page.Done {
		r.out.printf("-- end of list\n")
	} else {
		r.out.printf("-- more\n")
	}
}
