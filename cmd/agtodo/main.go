package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haricheung/agentic-todo/internal/auditor"
	"github.com/haricheung/agentic-todo/internal/bus"
	"github.com/haricheung/agentic-todo/internal/capability"
	"github.com/haricheung/agentic-todo/internal/chat"
	"github.com/haricheung/agentic-todo/internal/config"
	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/llm"
	"github.com/haricheung/agentic-todo/internal/server"
	"github.com/haricheung/agentic-todo/internal/store"
	"github.com/haricheung/agentic-todo/internal/transcript"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agtodo",
		Short: "In-memory task manager with an LLM chat assistant",
		Long: `agtodo keeps a task list in memory and exposes it over a REST API and a
chat endpoint where an LLM turns natural language into task operations.

Running agtodo with no subcommand is the same as "agtodo serve".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "chat [message...]",
		Short: "Chat with the assistant in the terminal (one-shot when a message is given)",
		Long: `Chat runs the assistant in-process against a fresh task list.
With arguments it runs a single turn and prints the reply; without, it starts
an interactive prompt (type 'exit' to quit).`,
		RunE: runChat,
	})
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyFlags(cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is one wired process: a fresh store, the capability bridge, the chat
// orchestrator and its observers on a shared bus.
type app struct {
	bus        *bus.Bus
	store      *store.Store
	registry   *capability.Registry
	chat       *chat.Orchestrator
	transcript *transcript.Transcript
	auditor    *auditor.Auditor
}

func newApp(cfg *config.Config) (*app, error) {
	b := bus.New()
	s := store.New()
	reg := capability.Default()

	var completer chat.Completer = offlineLLM{}
	if !cfg.Offline {
		client := llm.New(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err := client.Validate(); err != nil {
			return nil, err
		}
		completer = client
	}

	tr, err := transcript.New(b, cfg.Transcript.Limit)
	if err != nil {
		return nil, err
	}
	return &app{
		bus:        b,
		store:      s,
		registry:   reg,
		chat:       chat.New(b, completer, dispatch.New(s, reg), reg, cfg.LLM.Timeout),
		transcript: tr,
		auditor:    auditor.New(b.Tap(), cfg.Audit.Path),
	}, nil
}

// start launches the background observers.
func (a *app) start(ctx context.Context) {
	go a.transcript.Run(ctx)
	go a.auditor.Run(ctx)
}

// close releases what outlives the observers; call it after the server has
// drained.
func (a *app) close() {
	if err := a.transcript.Close(); err != nil {
		log.Printf("[MAIN] WARNING: %v", err)
	}
}

var errOffline = errors.New("running offline: no LLM configured")

// offlineLLM fails every call so chat turns degrade to the standard apology.
type offlineLLM struct{}

func (offlineLLM) Complete(context.Context, llm.Request) (llm.Reply, llm.Usage, error) {
	return nil, llm.Usage{}, errOffline
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	a.start(ctx)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := server.New(server.Options{
		Store:       a.store,
		Chat:        a.chat,
		History:     a.transcript,
		Registry:    a.registry,
		CORSOrigins: cfg.CORS.Origins,
		Logger:      logger,
	})
	if cfg.Offline {
		log.Printf("[MAIN] offline mode: /chat will apologise instead of calling an LLM")
	}
	return srv.ListenAndServe(ctx, cfg.Addr)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Component logs would interleave with the prompt; send them to a file.
	restore := redirectLogs()
	defer restore()

	ctx, cancel := signalContext()
	defer cancel()
	a.start(ctx)

	if len(args) > 0 {
		return oneShot(ctx, a, strings.Join(args, " "), cmd.OutOrStdout())
	}
	return runREPL(ctx, a)
}

// redirectLogs points the standard logger (and slog's default handler, which
// writes through it) at $XDG_CACHE_HOME/agtodo/debug.log, or discards them
// when that is not writable.
func redirectLogs() func() {
	prev := log.Writer()
	var out io.Writer = io.Discard
	var f *os.File
	if dir, err := os.UserCacheDir(); err == nil {
		path := filepath.Join(dir, "agtodo", "debug.log")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = f
			}
		}
	}
	log.SetOutput(out)
	return func() {
		log.SetOutput(prev)
		if f != nil {
			f.Close()
		}
	}
}

// turnWait bounds how long the CLI waits for the display to close a turn box
// before printing the reply anyway.
const turnWait = 500 * time.Millisecond

func oneShot(ctx context.Context, a *app, message string, out io.Writer) error {
	disp := startDisplay(ctx, a, out, 0)
	reply := a.chat.Handle(ctx, message)
	disp.WaitTurn(turnWait)
	_, err := fmt.Fprintln(out, reply)
	return err
}
