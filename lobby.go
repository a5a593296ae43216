/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Seednode/battlebox/router"
	"github.com/sirupsen/logrus"
)

const lobbyHelp = `commands:
  pair [token]          pair with any waiting player
  auth [room] [token]   pair inside a named room
  talk <text>           send text to the opponent
  ready                 mark yourself ready for the next round
  progress <n>          report how many sliders are done
  finish <msec>         report the time taken for the round
  help                  show this message
  quit                  disconnect and exit
`

var errUsage = errors.New("usage")

// runLobby connects to the battle server and turns each input line into one
// outbound frame, printing inbound frames as they arrive.
func runLobby(ctx context.Context, cfg *Config, log logrus.FieldLogger, in io.Reader, out io.Writer) error {
	p := &printer{w: out}

	r := router.New(router.WithLogger(log))
	registerLobbyHandlers(r, p)

	if err := r.Connect(ctx, cfg.wsURL); err != nil {
		return err
	}
	defer r.Close()

	p.printf("connected to %s, type help for commands\n", cfg.wsURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	input := readLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Done():
			p.printf("connection closed\n")

			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}

			quit, err := lobbyCommand(r, cfg, p, line)
			switch {
			case errors.Is(err, errUsage):
				p.printf("%v\n", err)
			case err != nil:
				p.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func registerLobbyHandlers(r *router.Router, p *printer) {
	r.Register(router.TypePairing, func(router.Frame) {
		p.printf("waiting for an opponent\n")
	})

	r.Register(router.TypePaired, func(f router.Frame) {
		var msg router.PairedMessage
		if err := f.Decode(&msg); err != nil {
			p.printf("error: %v\n", err)
			return
		}
		p.printf("paired with %s (%d sliders)\n", msg.FoeName, msg.SliderNum)
	})

	r.Register(router.TypeReady, func(router.Frame) {
		p.printf("ready, waiting for the opponent\n")
	})

	r.Register(router.TypeStart, func(router.Frame) {
		p.printf("start!\n")
	})

	r.Register(router.TypeTalk, func(f router.Frame) {
		var msg router.TalkMessage
		if err := f.Decode(&msg); err != nil {
			p.printf("error: %v\n", err)
			return
		}
		p.printf("opponent: %s\n", msg.Text)
	})

	r.Register(router.TypeProgress, func(f router.Frame) {
		var msg router.ProgressMessage
		if err := f.Decode(&msg); err != nil {
			p.printf("error: %v\n", err)
			return
		}
		p.printf("opponent progress: %d\n", msg.CompleteNum)
	})

	r.Register(router.TypeEnd, func(f router.Frame) {
		var msg router.EndMessage
		if err := f.Decode(&msg); err != nil {
			p.printf("error: %v\n", err)
			return
		}

		result := "you lose"
		switch {
		case msg.Win:
			result = "you win"
		case msg.Msec == msg.FoeMsec:
			result = "tie"
		}
		p.printf("round over: %dms vs %dms, %s\n", msg.Msec, msg.FoeMsec, result)
	})

	r.Register(router.TypeErr, func(f router.Frame) {
		var msg router.ErrMessage
		if err := f.Decode(&msg); err != nil {
			p.printf("error: %v\n", err)
			return
		}
		p.printf("server error: %s\n", msg.String)
	})

	r.Register(router.TypeFoeDisconnect, func(router.Frame) {
		p.printf("opponent disconnected\n")
	})
}

// lobbyCommand runs one input line. It reports whether the lobby should exit.
func lobbyCommand(r *router.Router, cfg *Config, p *printer, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch cmd {
	case "":
		return false, nil
	case "pair":
		token := cfg.token
		if len(args) > 0 {
			token = args[0]
		}
		return false, r.Pair(token)
	case "auth":
		room, token := cfg.room, cfg.token
		if len(args) > 0 {
			room = args[0]
		}
		if len(args) > 1 {
			token = args[1]
		}
		if room == "" {
			return false, fmt.Errorf("%w: auth <room> [token]", errUsage)
		}
		return false, r.AuthPair(token, room)
	case "talk":
		if rest == "" {
			return false, fmt.Errorf("%w: talk <text>", errUsage)
		}
		return false, r.Talk(rest)
	case "ready":
		return false, r.Ready()
	case "progress":
		n, err := intArg(args, "progress <n>")
		if err != nil {
			return false, err
		}
		return false, r.Progress(n)
	case "finish":
		msec, err := intArg(args, "finish <msec>")
		if err != nil {
			return false, err
		}
		return false, r.Finish(msec)
	case "help":
		p.printf("%s", lobbyHelp)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type help for commands", cmd)
	}
}

func intArg(args []string, usage string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: %s", errUsage, usage)
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s", errUsage, usage)
	}

	return n, nil
}
