// Command matchctl is the terminal client for the analytics backend: it logs
// in, runs analyses, prepares days and lists users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/kiranshivaraju/matchdesk/internal/analysis"
	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/busy"
	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/internal/retry"
	"github.com/kiranshivaraju/matchdesk/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	a := newApp(cfg, client, session.NewFileStore(cfg.Session.File), clock.Real{}, logger)
	a.stdin, a.stdout = stdin, stdout
	defer a.close()

	if err := a.dispatch(ctx, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintln(stderr, "error:", userMessage(err))
		return 1
	}
	return 0
}

// app holds the components every subcommand shares.
type app struct {
	cfg      *config.Config
	client   backend.Client
	sessions *session.Manager
	gate     *busy.Coordinator
	analyzer *analysis.Orchestrator
	poller   *jobs.Poller
	clock    clock.Clock
	logger   *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

type command struct {
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":        {"log in and store the session", (*app).login},
	"logout":       {"end the session", (*app).logout},
	"whoami":       {"show the logged-in user", (*app).whoami},
	"analyze":      {"rank matches for a time range and market", (*app).analyze},
	"export":       {"run an analysis and save it as PDF", (*app).export},
	"prepare":      {"prepare a day's data (admin)", (*app).prepare},
	"availability": {"check whether a day is prepared", (*app).availability},
	"users":        {"list registered users (admin)", (*app).users},
}

func newApp(cfg *config.Config, client backend.Client, store session.Store, clk clock.Clock, logger *slog.Logger) *app {
	busyCfg := busy.ConfigFrom(cfg.Loader)
	busyCfg.Location = cfg.Scheduler.Location()
	gate := busy.New(client, clk, busy.LogIndicator{Logger: logger}, logger, busyCfg)
	return &app{
		cfg:      cfg,
		client:   client,
		sessions: session.NewManager(client, store, logger),
		gate:     gate,
		analyzer: analysis.New(client, retry.FromConfig(cfg.Retry, clk, logger), clk, logger,
			analysis.WithGate(gate),
			analysis.WithTimeout(cfg.Analysis.Timeout),
		),
		poller: jobs.NewPoller(client, clk, jobs.ConfigFrom(cfg.Jobs), logger,
			jobs.WithBusy(gate),
		),
		clock:  clk,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

func (a *app) close() {
	a.gate.Close()
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		return flag.ErrHelp
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(a, ctx, args[1:])
}

func (a *app) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("usage: matchctl <command> [flags]\n\ncommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprint(a.stdout, b.String())
}

// userMessage turns an error into the line shown to the user.
func userMessage(err error) string {
	var failed *jobs.FailedError
	switch {
	case errors.Is(err, session.ErrNoSession):
		return "not logged in; run matchctl login"
	case errors.Is(err, session.ErrNotAdmin):
		return "admin privileges required"
	case errors.As(err, &failed):
		return failed.UserMessage()
	case errors.Is(err, backend.ErrUnauthorized):
		return "session expired or invalid; run matchctl login"
	case errors.Is(err, backend.ErrUnreachable):
		return "cannot reach the backend at the configured BACKEND_BASE_URL"
	}
	return err.Error()
}
