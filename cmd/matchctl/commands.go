package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/analysis"
	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

const dateLayout = "2006-01-02"

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("matchctl "+name, flag.ContinueOnError)
	fs.SetOutput(a.stdout)
	return fs
}

// ─── session ────────────────────────────────────────────────────────────────

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "password; read from stdin when empty")
	remember := fs.Bool("remember", false, "ask the backend for a long-lived session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}
	if *password == "" {
		fmt.Fprint(a.stdout, "Password: ")
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimRight(line, "\r\n")
	}

	s, err := a.sessions.Login(ctx, models.Credentials{Email: *email, Password: *password, RememberMe: *remember})
	if err != nil {
		return err
	}
	role := ""
	if s.User.IsAdmin {
		role = " [admin]"
	}
	fmt.Fprintf(a.stdout, "Logged in as %s <%s>%s\n", s.User.Name(), s.User.Email, role)
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	if err := a.flags("logout").Parse(args); err != nil {
		return err
	}
	if err := a.sessions.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return nil
}

func (a *app) whoami(_ context.Context, args []string) error {
	fs := a.flags("whoami")
	format := formatFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.sessions.Current()
	if err != nil {
		return err
	}
	return render(a.stdout, *format, s.User, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Name\t%s\nEmail\t%s\nAdmin\t%t\n", s.User.Name(), s.User.Email, s.User.IsAdmin)
	})
}

// ─── analysis ───────────────────────────────────────────────────────────────

type analysisFlags struct {
	from, to, market, action *string
	live                     *bool
}

func addAnalysisFlags(fs *flag.FlagSet) analysisFlags {
	return analysisFlags{
		from:   fs.String("from", "", "range start, RFC3339 or YYYY-MM-DDTHH:MM (local time)"),
		to:     fs.String("to", "", "range end, same formats as -from"),
		market: fs.String("market", "", "1h_over05, gg1h, 1h_over15 or ft_over15"),
		action: fs.String("action", "", "dashboard action instead of -market: O05, GG, O15, FT_O15"),
		live:   fs.Bool("live", false, "let the backend fetch fresh data from its upstream APIs"),
	}
}

func (f analysisFlags) request() (analysis.Request, error) {
	market := models.MarketForAction(*f.action)
	if *f.market != "" {
		m, err := analysis.ParseMarket(*f.market)
		if err != nil {
			return analysis.Request{}, err
		}
		market = m
	}
	from, err := parseTime(*f.from)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("-from: %w", err)
	}
	to, err := parseTime(*f.to)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("-to: %w", err)
	}
	return analysis.Request{From: from, To: to, Market: market, LiveFetch: *f.live}, nil
}

func (a *app) runAnalysis(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	if s, err := a.sessions.Current(); err == nil {
		req.RequestedBy = s.User.Email
	}
	return a.analyzer.Run(ctx, req, func(st analysis.State) {
		if st == analysis.StateWaiting {
			fmt.Fprintln(a.stdout, "A prepare-day job is running; waiting for it to finish...")
		}
		a.logger.Debug("analysis state", "state", st)
	})
}

func (a *app) analyze(ctx context.Context, args []string) error {
	fs := a.flags("analyze")
	af := addAnalysisFlags(fs)
	format := formatFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := af.request()
	if err != nil {
		return err
	}

	res, err := a.runAnalysis(ctx, req)
	if err != nil {
		return err
	}
	return render(a.stdout, *format, res.Matches, func(w *tabwriter.Writer) {
		if len(res.Matches) == 0 {
			fmt.Fprintln(w, "No matches found for this range.")
			return
		}
		fmt.Fprintln(w, "#\tMatch\tLeague\tKickoff\tFinal %")
		for i, m := range res.Matches {
			fmt.Fprintf(w, "%d\t%s - %s\t%s\t%s\t%s\n", i+1, m.Team1, m.Team2, m.League, m.Kickoff, percent(m.FinalPercent))
		}
	})
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := a.flags("export")
	af := addAnalysisFlags(fs)
	out := fs.String("out", "", "output file; defaults to matches-<timestamp>.pdf")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token := a.sessions.Token()
	if token == "" {
		return fmt.Errorf("%w: export needs a session", backend.ErrUnauthorized)
	}
	req, err := af.request()
	if err != nil {
		return err
	}

	res, err := a.runAnalysis(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Matches) == 0 {
		return errors.New("no matches to export")
	}

	pdf, err := a.client.SavePDF(ctx, token, res.Matches)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = "matches-" + a.clock.Now().Format("20060102-1504") + ".pdf"
	}
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(a.stdout, "Saved %d matches to %s\n", len(res.Matches), path)
	return nil
}

// ─── prepare-day ────────────────────────────────────────────────────────────

func (a *app) prepare(ctx context.Context, args []string) error {
	fs := a.flags("prepare")
	date := fs.String("date", "", "day to prepare, YYYY-MM-DD; defaults to today")
	force := fs.Bool("force", false, "prepare even when the day is already complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.sessions.RequireAdmin()
	if err != nil {
		return err
	}
	day, err := a.day(*date)
	if err != nil {
		return err
	}

	if !*force {
		avail, err := a.poller.Availability(ctx, s.SessionID, day)
		if err != nil {
			a.logger.Warn("availability probe failed, preparing anyway", "date", day, "error", err)
		} else if avail.AnalysisComplete {
			fmt.Fprintf(a.stdout, "%s is already prepared (%d fixtures). Use -force to run again.\n", day, avail.FixturesCount)
			return nil
		}
	}

	fmt.Fprintf(a.stdout, "Preparing %s...\n", day)
	result, err := a.poller.Run(ctx, jobs.Request{Token: s.SessionID, Date: day, RequestedBy: s.User.Email}, func(u jobs.Update) {
		line := u.Detail
		if line == "" {
			line = string(u.Status)
		}
		if u.Progress != nil {
			line = fmt.Sprintf("%s (%.0f%%)", line, *u.Progress)
		}
		fmt.Fprintln(a.stdout, "  "+line)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, jobs.FormatSummary(result))
	return nil
}

func (a *app) availability(ctx context.Context, args []string) error {
	fs := a.flags("availability")
	date := fs.String("date", "", "day to check, YYYY-MM-DD; defaults to today")
	format := formatFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.sessions.Current()
	if err != nil {
		return err
	}
	day, err := a.day(*date)
	if err != nil {
		return err
	}

	avail, err := a.poller.Availability(ctx, s.SessionID, day)
	if err != nil {
		return err
	}
	return render(a.stdout, *format, avail, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Date\t%s\nComplete\t%t\nExists\t%t\nFixtures\t%d\nModel outputs\t%d\n",
			avail.Date, avail.AnalysisComplete, avail.AnalysisExists, avail.FixturesCount, avail.ModelOutputsCount)
	})
}

// day defaults to today in the scheduler's zone.
func (a *app) day(raw string) (string, error) {
	if raw == "" {
		return a.clock.Now().In(a.cfg.Scheduler.Location()).Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", fmt.Errorf("-date must be YYYY-MM-DD, got %q", raw)
	}
	return raw, nil
}

// ─── users ──────────────────────────────────────────────────────────────────

func (a *app) users(ctx context.Context, args []string) error {
	fs := a.flags("users")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "users per page")
	search := fs.String("search", "", "filter by email or name")
	format := formatFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.sessions.RequireAdmin()
	if err != nil {
		return err
	}

	res, err := a.client.ListUsers(ctx, s.SessionID, backend.UserQuery{Page: *page, Limit: *limit, Search: *search})
	if err != nil {
		return err
	}
	return render(a.stdout, *format, res, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "ID\tEmail\tName\tAdmin\tLast login")
		for _, u := range res.Users {
			last := u.LastLogin
			if last == "" {
				last = "never"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", u.ID, u.Email, u.Name(), u.IsAdmin, last)
		}
		fmt.Fprintf(w, "\nPage %d, %d of %d users\n", *page, len(res.Users), res.Total)
	})
}

// ─── helpers ────────────────────────────────────────────────────────────────

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
