// Copyright 2016 Florin Pățan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ghrelay
//
// This relays GitHub repository events to the Slack channels that asked for
// them and answers a few chat commands.
//
// To run this you need to set the GHRELAY_SLACK_TOKEN environment variable
// with the Slack bot token and point a GitHub webhook at
// /<listen.secret>/github.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/nlopes/slack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gobridge/ghrelay/bot"
	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/config"
	"github.com/gobridge/ghrelay/github"
	"github.com/gobridge/ghrelay/handlers"
	"github.com/gobridge/ghrelay/listener"
	"github.com/gobridge/ghrelay/store"
	"github.com/gobridge/ghrelay/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "HEAD"

const shutdownTimeout = 30 * time.Second

var (
	cfgFile string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ghrelay",
		Short: "Relay GitHub events to Slack channels",
		Long: `ghrelay receives GitHub webhooks, turns them into events and posts them
to every Slack channel whose rules enable them. Rules are changed from
Slack with the events command.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.CheckServe(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(rulesCmd())
	return root
}

func rulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the event rules of the persisted configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			backend, closeBackend, err := openBackend(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer closeBackend()

			var loadErr error
			st := store.New(backend, store.WithReporter(func(ctx context.Context, err error) {
				if !errors.Is(err, store.ErrNotFound) {
					loadErr = errors.Join(loadErr, err)
				}
			}))
			st.Load(ctx)
			if loadErr != nil {
				return loadErr
			}

			w := cmd.OutOrStdout()
			for _, r := range st.Rules(store.EventRules, nil) {
				state := "off"
				if r.Enabled {
					state = "on"
				}
				fmt.Fprintf(w, "%s %s\n", r.Path, state)
			}
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	level := cfg.Log.Level
	if verbose || cfg.Dev {
		level = "debug"
	}
	log, err := telemetry.NewLogger(stderr, level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if cfg.GeneratedSecret {
		log.Warn("listen.secret is not set, generated one for this run", "secret", cfg.Listen.Secret)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracing, err := telemetry.SetupTracing(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	d := bus.New(log)
	d.Subscribe(bus.LogTopic, func(ctx context.Context, p bus.Payload) error {
		log.InfoContext(ctx, p.Line())
		return nil
	})
	d.Subscribe(bus.ErrorTopic, func(ctx context.Context, p bus.Payload) error {
		log.ErrorContext(ctx, "error", "error", p.Err)
		return nil
	})
	logs := bot.NewLogBuffer(cfg.Log.Buffer)
	logs.Subscribe(d)

	backend, closeBackend, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	st := store.New(backend, store.WithReporter(d.Error))
	st.Load(ctx)

	gh, err := github.NewClient(ctx, github.Config{
		Token:  cfg.GitHub.Token,
		APIURL: cfg.GitHub.APIURL,
		Repo:   cfg.GitHub.Repo,
	}, nil)
	if err != nil {
		return err
	}
	normalizer := github.NewNormalizer(gh, github.Source(staticURL(cfg, "github.png")), cfg.GitHub.CI, d.Log)
	receiver := github.NewReceiver(normalizer, d, cfg.GitHub.WebhookSecret, metrics)

	ln := listener.New(listener.Config{
		Addr:       cfg.Listen.Addr,
		Secret:     cfg.Listen.Secret,
		MaxPayload: cfg.Listen.MaxPayload,
		MaxConns:   cfg.Listen.MaxConns,
		QueueSize:  cfg.Listen.Queue,
	}, map[string]listener.Sink{"github": receiver}, d, metrics, reg, log)

	api := slack.New(cfg.Slack.Token, slack.OptionDebug(cfg.Dev))
	transport := bot.NewSlackTransport(api, bot.Identity{
		Username: botName(cfg),
		IconURL:  staticURL(cfg, "bot.png"),
	}, cfg.Delivery.Rate)

	channels := bot.NewRegistry()
	bot.NewRouter(channels, st, transport, d, metrics).Subscribe()

	commands := bot.NewCommands(cfg.Slack.Owner, d, metrics)
	handlers.Register(commands, handlers.Deps{
		Store:    st,
		Channels: channels,
		GitHub:   gh,
		Log:      logs,
		Bus:      d,
	})
	h := handlers.ProcessLinear(
		commands,
		handlers.When(handlers.Undirected, handlers.MentionLookup(gh, d)),
	)
	b := bot.New(api, cfg.Slack.Name, channels, bot.NewUsers(), h, transport, d, log)

	d.Subscribe(bus.DestroyTopic, func(ctx context.Context, p bus.Payload) error {
		log.InfoContext(ctx, "shutting down")
		cancel()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)

	// The bot outlives the listener so queued deliveries still reach their
	// channels.
	botCtx, stopBot := context.WithCancel(context.Background())
	defer stopBot()
	botDone := make(chan struct{})

	g.Go(ln.ListenAndServe)
	g.Go(func() error {
		defer close(botDone)
		return b.Run(botCtx)
	})
	g.Go(func() error {
		<-gctx.Done()

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()

		errs := []error{ln.Shutdown(sctx)}
		stopBot()
		<-botDone
		errs = append(errs, st.Save(sctx), closeBackend(), tracing.Shutdown(sctx))
		return errors.Join(errs...)
	})

	log.Info("ghrelay started", "version", Version, "addr", cfg.Listen.Addr, "store", cfg.Store.Backend)
	return g.Wait()
}

// openBackend returns the configured store backend and a function releasing
// its client.
func openBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, func() error, error) {
	switch cfg.Backend {
	case "datastore":
		ds, err := datastore.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, nil, fmt.Errorf("creating datastore client: %w", err)
		}
		return store.NewDatastoreBackend(ds, cfg.Kind), ds.Close, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		return store.NewRedisBackend(rdb, cfg.RedisKey), rdb.Close, nil
	}
	return store.NewFileBackend(cfg.Path), func() error { return nil }, nil
}

func staticURL(cfg *config.Config, name string) string {
	if cfg.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(cfg.PublicURL, "/") + "/static/" + name
}

func botName(cfg *config.Config) string {
	if cfg.Slack.Name != "" {
		return cfg.Slack.Name
	}
	return "ghrelay"
}
