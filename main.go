package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"rssreader/internal/config"
	"rssreader/internal/feed"
	"rssreader/internal/poller"
	"rssreader/internal/server"
	"rssreader/internal/store"
	"rssreader/internal/subscribe"
)

func main() {
	setupLogging(slog.LevelInfo)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env file", "err", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("rssreader failed", "err", err)
		os.Exit(1)
	}
}

func setupLogging(level slog.Level) {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rssreader",
		Usage: "Aggregate RSS feeds and stream new posts",
		Description: `Subscribes to RSS feeds, re-fetches them on a fixed interval and
exposes the aggregate over a JSON API with a websocket change stream.

Flags can be set via environment variables, e.g.:

--addr => RSSREADER_ADDR=:8080
--proxy-url => RSSREADER_PROXY_URL=https://proxy.example`,
		Commands: []*cli.Command{
			serveCmd(),
			checkCmd(),
		},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "TOML configuration file",
			EnvVars: []string{"RSSREADER_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "proxy-url",
			Usage:   "pass-through proxy answering /get?url=...",
			EnvVars: []string{"RSSREADER_PROXY_URL"},
		},
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Usage:   "per-request fetch timeout",
			EnvVars: []string{"RSSREADER_FETCH_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "allow-private-hosts",
			Usage:   "accept feed URLs on loopback and private networks",
			EnvVars: []string{"RSSREADER_ALLOW_PRIVATE_HOSTS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			EnvVars: []string{"RSSREADER_LOG_LEVEL"},
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server and the poller",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				EnvVars: []string{"RSSREADER_ADDR"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "delay between the end of one poll round and the next",
				EnvVars: []string{"RSSREADER_POLL_INTERVAL"},
			},
			&cli.StringSliceFlag{
				Name:    "feed",
				Usage:   "feed URL to subscribe to on startup (repeatable)",
				EnvVars: []string{"RSSREADER_FEEDS"},
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return serve(c.Context, cfg)
		},
	}
}

func checkCmd() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Fetch and parse one feed and print what was found",
		ArgsUsage: "<feed-url>",
		Flags:     commonFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("check expects exactly one feed URL", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return check(c, cfg, c.Args().First())
		},
	}
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("proxy-url") {
		cfg.Fetch.ProxyURL = c.String("proxy-url")
	}
	if c.IsSet("fetch-timeout") {
		cfg.Fetch.Timeout = c.Duration("fetch-timeout")
	}
	if c.IsSet("allow-private-hosts") {
		cfg.Fetch.AllowPrivateHosts = c.Bool("allow-private-hosts")
	}
	if c.IsSet("poll-interval") {
		cfg.Poll.Interval = c.Duration("poll-interval")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("feed") {
		cfg.Feeds = append(cfg.Feeds, c.StringSlice("feed")...)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	level, _ := config.ParseLevel(cfg.Log.Level)
	setupLogging(level)
	return cfg, nil
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	fetcher, err := feed.NewFetcher(cfg.FetcherConfig(), feed.WithFetchLogger(logger))
	if err != nil {
		return err
	}
	parser := feed.NewParser(nil)
	st := store.New(store.WithLogger(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	subs := subscribe.New(ctx, st, fetcher, parser,
		subscribe.WithLogger(logger),
		subscribe.WithURLPolicy(cfg.URLPolicy()),
	)
	p := poller.New(st, fetcher, parser, cfg.PollerConfig(),
		poller.WithLogger(logger),
		poller.WithMetrics(poller.NewMetrics(reg)),
	)
	app := server.New(server.Deps{
		Store:         st,
		Subscriptions: subs,
		Poller:        p,
		Gatherer:      reg,
		Logger:        logger,
	})

	for _, feedURL := range cfg.Feeds {
		if err := subs.Submit(feedURL); err != nil {
			slog.Warn("skip configured feed", "feed_url", feedURL, "err", err)
		}
	}

	p.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("rss reader running", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			p.Stop()
			app.Close()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	app.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	p.Stop()
	subs.Wait()
	return nil
}

func check(c *cli.Context, cfg config.Config, raw string) error {
	feedURL, err := cfg.URLPolicy().Normalize(raw)
	if err != nil {
		return err
	}

	fetcher, err := feed.NewFetcher(cfg.FetcherConfig())
	if err != nil {
		return err
	}
	doc, err := fetcher.Fetch(c.Context, feedURL)
	if err != nil {
		return err
	}
	parsed, err := feed.NewParser(nil).Parse(doc, feedURL)
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "%s\n%s\n%d posts\n", parsed.Feed.Title, parsed.Feed.Description, len(parsed.Posts))
	for _, post := range parsed.Posts {
		fmt.Fprintf(out, "- %s <%s>\n", post.Title, post.Link)
	}
	return nil
}
