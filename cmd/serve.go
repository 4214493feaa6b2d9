package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nekrassov01/instancebot/internal/actions"
	"github.com/nekrassov01/instancebot/internal/agent"
	"github.com/nekrassov01/instancebot/internal/bus"
	"github.com/nekrassov01/instancebot/internal/config"
	"github.com/nekrassov01/instancebot/internal/consumer"
	"github.com/nekrassov01/instancebot/internal/ingress"
	"github.com/nekrassov01/instancebot/internal/providers"
	"github.com/nekrassov01/instancebot/internal/queue"
	"github.com/nekrassov01/instancebot/internal/sessions"
	"github.com/nekrassov01/instancebot/internal/slackbot"
	"github.com/nekrassov01/instancebot/internal/telemetry"
	"github.com/nekrassov01/instancebot/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and dispatch consumer",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	// Durable dispatch queue
	queuePath := config.ExpandHome(cfg.Queue.Path)
	os.MkdirAll(filepath.Dir(queuePath), 0755)
	q, err := queue.OpenSQLite(queuePath, cfg.Queue.EffectiveVisibilityTimeout())
	if err != nil {
		slog.Error("failed to open queue", "path", queuePath, "error", err)
		os.Exit(1)
	}
	defer q.Close()

	// Slack client and bot surface
	slackClient := slack.New(cfg.Slack.BotToken)
	bot := slackbot.New(slackClient, cfg.Slack.PlaceholderText)

	// AWS EC2 across regions
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	ec2Client := ec2.NewFromConfig(awsCfg)

	catalog := cfg.Actions.Regions
	if len(catalog) == 0 {
		catalog, err = actions.DiscoverRegions(ctx, ec2Client)
		if err != nil {
			slog.Error("region discovery failed", "error", err)
			os.Exit(1)
		}
		slog.Info("discovered regions", "count", len(catalog))
	}

	router := actions.NewRouter(actions.RouterConfig{
		Catalog:     catalog,
		Timeout:     cfg.Actions.EffectiveTimeout(),
		MaxAttempts: cfg.Actions.MaxAttempts,
		Backoff:     cfg.Actions.EffectiveBackoff(),
	},
		actions.NewCountHandler(ec2Client, cfg.Actions.FanoutLimit),
		actions.NewWithoutOwnerHandler(ec2Client, cfg.Actions.OwnerTag, cfg.Actions.FanoutLimit),
		actions.NewOpenPermissionHandler(ec2Client, cfg.Actions.FanoutLimit),
	)

	toolsReg := tools.NewRegistry()
	tools.RegisterActionTools(toolsReg, router)

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)
	provider, err := providerRegistry.Get(cfg.Agent.Provider)
	if err != nil {
		slog.Error("provider not available", "provider", cfg.Agent.Provider, "error", err)
		os.Exit(1)
	}

	store, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var limiter *rate.Limiter
	if rpm := cfg.Agent.RateLimitRPM; rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      provider,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		MaxIterations: cfg.Agent.MaxToolIterations,
		Tools:         toolsReg,
		Sessions:      store,
		Limiter:       limiter,
	})

	handler := ingress.NewHandler(ingress.Config{
		SigningSecret: cfg.Slack.SigningSecret,
		Queue:         q,
		Bot:           bot,
		Dedupe:        bus.NewDedupeCache(cfg.Queue.EffectiveDedupeTTL(), 10000),
		RateLimitRPM:  cfg.Server.RateLimitRPM,
	})

	mux := http.NewServeMux()
	mux.Handle("/slack/events", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cons := consumer.New(consumer.Config{
		Queue:          q,
		Loop:           loop,
		Bot:            bot,
		Workers:        cfg.Consumer.EffectiveWorkers(),
		PollInterval:   cfg.Consumer.EffectivePollInterval(),
		MessageTimeout: cfg.Consumer.EffectiveMessageTimeout(),
		MaxReceive:     cfg.Queue.EffectiveMaxReceive(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("webhook server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return cons.Run(ctx)
	})
	g.Go(func() error {
		return sweepSessions(ctx, store, cfg.Sessions)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// registerProviders wires every provider with credentials configured.
func registerProviders(reg *providers.Registry, cfg *config.Config) {
	if pc := cfg.Providers.Anthropic; pc.APIKey != "" {
		var opts []providers.AnthropicOption
		if pc.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(pc.Model))
		}
		if pc.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(pc.APIBase))
		}
		reg.Register(providers.NewAnthropicProvider(pc.APIKey, opts...))
	}
	if pc := cfg.Providers.OpenAI; pc.APIKey != "" {
		reg.Register(providers.NewOpenAIProvider("openai", pc.APIKey, pc.APIBase, pc.Model))
	}
}

func openSessionStore(cfg *config.Config) (sessions.Store, error) {
	if dsn := cfg.Sessions.PostgresDSN; dsn != "" {
		slog.Info("using postgres session store")
		return sessions.OpenPG(dsn)
	}
	storage := config.ExpandHome(cfg.Sessions.Storage)
	slog.Info("using file session store", "storage", storage)
	return sessions.NewFileStore(storage), nil
}

// sweepSessions expires idle sessions on a fixed cadence.
func sweepSessions(ctx context.Context, store sessions.Store, cfg config.SessionsConfig) error {
	ticker := time.NewTicker(cfg.EffectiveSweepEvery())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := store.Sweep(cfg.EffectiveIdleTTL()); n > 0 {
				slog.Info("swept idle sessions", "count", n)
			}
		}
	}
}
