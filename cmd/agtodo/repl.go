package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haricheung/agentic-todo/internal/ui"
)

func startDisplay(ctx context.Context, a *app, w io.Writer, width int) *ui.Display {
	d := ui.New(a.bus.NewTap(), w, width)
	go d.Run(ctx)
	return d
}

func runREPL(ctx context.Context, a *app) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agtodo> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		HistoryLimit:    200,
	})
	if err != nil {
		return fmt.Errorf("repl: init readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	disp := startDisplay(ctx, a, out, readline.GetScreenWidth())
	fmt.Fprintln(out, "agtodo: chat with your task list (type 'exit' to quit)")

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("repl: read: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		reply := a.chat.Handle(ctx, input)
		disp.WaitTurn(turnWait)
		fmt.Fprintf(out, "\n%s\n", reply)
	}
}
