package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"fintrack/internal/amqp"
	initcli "fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/fx"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

func main() {
	initcli.LoadEnvFile()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "ledgerctl",
		Usage:  "operate on a fintrack ledger",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database path (default $FINTRACK_DB_PATH)"},
			&cli.Int64Flag{Name: "user", Usage: "user id (default $FINTRACK_USER_ID)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "rebuild",
				Usage: "recompute every monthly rollup from the ledger",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "notify", Usage: "publish a change event for every rebuilt month"},
				},
				Action: rebuild,
			},
			{
				Name:      "verify",
				Usage:     "compare one month's stored rollup with the ledger",
				ArgsUsage: "YYYY-MM",
				Action:    verify,
			},
			{
				Name:  "balance",
				Usage: "reconstruct the balance at an instant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "RFC 3339 instant or YYYY-MM-DD (end of that day); default now"},
				},
				Action: balance,
			},
			{
				Name:  "anchor",
				Usage: "record a balance checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "amount", Usage: "balance as a signed decimal, e.g. -12.50", Required: true},
					&cli.StringFlag{Name: "at", Usage: "RFC 3339 instant or YYYY-MM-DD (end of that day); default now"},
					&cli.StringFlag{Name: "note"},
				},
				Action: anchor,
			},
			{
				Name:  "post-due",
				Usage: "post every due recurring occurrence once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "today", Usage: "YYYY-MM-DD; default today in FINTRACK_TIMEZONE"},
				},
				Action: postDue,
			},
		},
		// Exit codes are decided in main.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

type session struct {
	cfg    *config.Config
	repo   *storage.SQLiteRepository
	logger *log.Logger
}

func (s *session) Close() error {
	return s.repo.Close()
}

// open applies the global flags over the environment configuration and
// opens the ledger.
func open(c *cli.Context) (*session, error) {
	cfg := config.Load()
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("user") {
		cfg.UserID = c.Int64("user")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lc := log.DefaultConfig()
	lc.Component = log.ComponentCLI
	lc.Level = log.ParseLevel(cfg.LogLevel)
	lc.Output = c.App.ErrWriter
	if lc.Output == nil {
		lc.Output = os.Stderr
	}
	logger := log.New(lc)
	log.SetDefault(logger)

	repo, err := storage.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, repo: repo, logger: logger}, nil
}

func rebuild(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	rollups := services.NewRollupService(s.repo, s.cfg.RebuildConcurrency)
	n, err := rollups.RebuildAll(c.Context, s.cfg.UserID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "rebuilt %d months\n", n)

	if !c.Bool("notify") {
		return nil
	}
	client := initcli.InitAMQP(s.logger, s.cfg)
	if client == nil {
		return fmt.Errorf("--notify needs a reachable AMQP_URL")
	}
	defer client.Close()
	months, err := s.repo.Queries().ListRollupMonths(c.Context, s.cfg.UserID)
	if err != nil {
		return err
	}
	for _, ym := range months {
		if err := client.PublishMonthChanged(c.Context, s.cfg.UserID, ym, amqp.ReasonRebuild); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.App.Writer, "published %d change events\n", len(months))
	return nil
}

func verify(c *cli.Context) error {
	ym, err := parseYearMonth(c.Args().First())
	if err != nil {
		return err
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	drift, err := services.NewRollupService(s.repo, 1).Verify(c.Context, s.cfg.UserID, ym.Year, ym.Month)
	if err != nil {
		return err
	}
	if drift {
		return cli.Exit(fmt.Sprintf("%s: rollup drifted, run rebuild", ym), 2)
	}
	fmt.Fprintf(c.App.Writer, "%s: ok\n", ym)
	return nil
}

func balance(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	at, err := parseInstant(c.String("at"), s.cfg.Location(), time.Now())
	if err != nil {
		return err
	}
	cents, err := services.NewBalanceService(s.repo).BalanceAsOf(c.Context, s.cfg.UserID, at)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s at %s\n", core.FormatCents(cents), s.cfg.BaseCurrency, at.Format(time.RFC3339))
	return nil
}

func anchor(c *cli.Context) error {
	cents, err := core.ParseSignedCents(c.String("amount"))
	if err != nil {
		return err
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	at, err := parseInstant(c.String("at"), s.cfg.Location(), time.Now())
	if err != nil {
		return err
	}
	a, err := services.NewBalanceService(s.repo).CreateAnchor(c.Context, s.cfg.UserID, core.AnchorInput{
		AsOf:         at,
		BalanceCents: cents,
		Note:         c.String("note"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "anchor %d: %s %s at %s\n", a.ID, core.FormatCents(a.Balance.Cents), s.cfg.BaseCurrency, a.AsOf.Format(time.RFC3339))
	return nil
}

func postDue(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	defer s.Close()

	var publisher services.ChangePublisher
	if client := initcli.InitAMQP(s.logger, s.cfg); client != nil {
		defer client.Close()
		publisher = client
	}
	converter := fx.NewFrankfurter(fx.FrankfurterConfig{
		BaseURL:   s.cfg.FXBaseURL,
		Target:    s.cfg.Currency(),
		Timeout:   s.cfg.FXTimeout,
		MarkupBPS: s.cfg.FXMarkupBPS,
		CacheSize: s.cfg.FXCacheSize,
		CacheTTL:  s.cfg.FXCacheTTL,
	})
	rollups := services.NewRollupService(s.repo, s.cfg.RebuildConcurrency)
	engine := services.NewRecurringEngine(s.repo, rollups, converter, s.cfg.Currency(), publisher, s.cfg.Location())

	today := engine.Today()
	if v := c.String("today"); v != "" {
		if today, err = core.ParseDate(v); err != nil {
			return err
		}
	}
	moved, err := engine.PostDueRules(c.Context, s.cfg.UserID, today)
	fmt.Fprintf(c.App.Writer, "%d rules advanced as of %s\n", moved, today)
	return err
}

// parseInstant accepts an RFC 3339 timestamp or a civil date, which means
// the last instant of that day in loc. Empty means now.
func parseInstant(v string, loc *time.Location, now time.Time) (time.Time, error) {
	if v == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return time.Time{}, core.Invalidf("invalid instant %q: want RFC 3339 or YYYY-MM-DD", v)
	}
	return core.Period{Start: d, End: d}.EndInstant(loc), nil
}

func parseYearMonth(v string) (core.YearMonth, error) {
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return core.YearMonth{}, core.Invalidf("invalid month %q: want YYYY-MM", v)
	}
	return core.YearMonth{Year: t.Year(), Month: int(t.Month())}, nil
}
