package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/ringbot/apiclient"
	"github.com/go-authgate/ringbot/approval"
	"github.com/go-authgate/ringbot/broker"
	"github.com/go-authgate/ringbot/credential"
	"github.com/go-authgate/ringbot/discord"
	"github.com/go-authgate/ringbot/routing"
	"github.com/go-authgate/ringbot/scheduler"
	"github.com/go-authgate/ringbot/tui"
)

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.Is(err, errMissingBotToken):
		printMissingToken(os.Stderr)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	warnInsecure(os.Stderr, cfg)

	logger, level, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if isTTY() {
		// Keep log lines from tearing the TUI until startup is done.
		configured := level.Level()
		if configured < zapcore.WarnLevel {
			level.SetLevel(zapcore.WarnLevel)
		}

		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		var once sync.Once
		release := func() {
			once.Do(func() {
				p.Quit() // let BubbleTea drain terminal query responses before exiting
				wg.Wait()
				level.SetLevel(configured)
			})
		}

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr = run(ctx, cfg, logger, d, release)
		release()
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		runErr = run(ctx, cfg, logger, d, func() {})
	}

	_ = logger.Sync()
	if runErr != nil {
		stop()
		os.Exit(1)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		},
	}
}

// run primes credentials, wires every component and serves until ctx ends.
// started is called once the bot is connected and startup output is done.
func run(ctx context.Context, cfg *config, logger *zap.Logger, d tui.Displayer, started func()) error {
	fail := func(err error) error {
		if ctx.Err() != nil {
			return nil
		}
		d.Fatal(err)
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fail(fmt.Errorf("create state directory: %w", err))
	}

	baseHTTPClient := newHTTPClient()

	var booting atomic.Bool
	booting.Store(true)
	tokens := broker.New(baseHTTPClient, cfg.AuthBaseURL, cfg.IdentitySecret, logger.Named("broker"),
		broker.WithRetryDelay(cfg.MintRetryDelay),
		broker.WithMintAttempts(cfg.MintAttempts),
		broker.WithRetryHook(func(op string, attempt int, err error) {
			if booting.Load() {
				d.Retrying(op, attempt, err)
			}
		}),
	)
	store := credential.NewStore(cfg.credentialFile(), logger.Named("credential"))

	if _, err := bootstrap(ctx, d, store, tokens, logger, time.Now); err != nil {
		return fail(err)
	}

	apiTransport, err := apiclient.NewTransport(baseHTTPClient, broker.RetryLogger(logger.Named("http")))
	if err != nil {
		return fail(fmt.Errorf("create api transport: %w", err))
	}

	var apiOpts []apiclient.Option
	if cfg.APIRateLimit > 0 {
		burst := max(1, int(math.Ceil(cfg.APIRateLimit)))
		apiOpts = append(apiOpts, apiclient.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.APIRateLimit), burst)))
	}
	api := apiclient.New(
		apiTransport,
		cfg.APIBaseURL,
		store,
		tokens.Renew,
		logger.Named("api"),
		apiOpts...,
	)

	routes := routing.NewStore(cfg.routingFile(), logger.Named("routing"))
	routes.Load()
	d.RoutingLoaded(configuredChannels(routes.Snapshot()), len(routing.Categories))

	ledger, err := approval.OpenSQLiteLedger(cfg.ledgerFile())
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Warn("failed to close decision ledger", zap.Error(err))
		}
	}()

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return fail(fmt.Errorf("create discord session: %w", err))
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages

	hub := approval.NewHub()
	bot := discord.New(session, hub, api, routes, logger.Named("discord"),
		discord.WithReasonTimeout(cfg.ReasonTimeout),
	)
	workflow := approval.New(bot, api, routes, hub, logger.Named("approval"),
		approval.WithLedger(ledger),
		approval.WithTimeout(cfg.DecisionTimeout),
	)
	bot.SetWorkflow(workflow)

	g, gctx := errgroup.WithContext(ctx)

	// Decisions must be registered before the gateway delivers clicks.
	resumed, expired, err := workflow.Recover(gctx)
	if err != nil {
		logger.Error("failed to recover pending decisions", zap.Error(err))
	}
	d.DecisionsRecovered(resumed, expired)

	connected := make(chan struct{})
	removeReady := session.AddHandlerOnce(func(_ *discordgo.Session, _ *discordgo.Ready) {
		close(connected)
	})
	defer removeReady()

	d.Connecting()
	sched := scheduler.New(store, tokens.Renew, cfg.RefreshInterval, logger.Named("scheduler"))
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return bot.Run(gctx, session) })
	g.Go(func() error {
		select {
		case <-connected:
		case <-gctx.Done():
			return nil
		}
		booting.Store(false)
		cur, now := store.Get(), time.Now()
		d.Ready(cur.Preview(),
			time.Unix(cur.AccessExpiresAt, 0).Sub(now),
			time.Unix(cur.RefreshExpiresAt, 0).Sub(now),
		)
		started()
		logger.Info("ringbot running",
			zap.String("api", cfg.APIBaseURL),
			zap.Duration("refresh_interval", cfg.RefreshInterval),
		)
		return nil
	})

	err = g.Wait()
	workflow.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	if err != nil {
		return fail(err)
	}
	return nil
}

func configuredChannels(entries []routing.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Set {
			n++
		}
	}
	return n
}
