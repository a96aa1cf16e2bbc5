package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/indicator-feed/pkg/client"
	"github.com/Sternrassler/indicator-feed/pkg/config"
	"github.com/Sternrassler/indicator-feed/pkg/logging"
	"github.com/Sternrassler/indicator-feed/pkg/ratelimit"
)

// app carries state shared by all subcommands.
type app struct {
	cfgFile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "indicator-feed",
		Short: "Paginated stock indicator feed",
		Long: `Paginated stock indicator feed

Commands:
    serve       HTTP/WebSocket API for browser sessions
    browse      page through a symbol's indicator values in the terminal
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml if present)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newBrowseCmd(a))

	return root
}

// init loads .env, configuration and logging.
func (a *app) init() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	if a.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// resolve fills secrets from SSM when configured and validates.
func (a *app) resolve(ctx context.Context) error {
	if a.cfg.Upstream.APIKey == "" && a.cfg.Upstream.APIKeySSMParam != "" {
		ssmClient, err := config.NewSSMClient(ctx)
		if err != nil {
			return err
		}
		if err := a.cfg.ResolveAPIKey(ctx, ssmClient); err != nil {
			return err
		}
	}
	return a.cfg.Validate()
}

// upstream bundles the page fetcher and its cooldown state.
type upstream struct {
	client  *client.Client
	tracker *ratelimit.Tracker
	redis   *redis.Client
}

// newUpstream builds the page fetcher. The cooldown lives in Redis when
// ratelimit.redis_addr is set, so every instance honors the same 429.
func (a *app) newUpstream(ctx context.Context) (*upstream, error) {
	u := &upstream{}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if addr := a.cfg.RateLimit.RedisAddr; addr != "" {
		u.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.cfg.RateLimit.RedisPassword,
			DB:       a.cfg.RateLimit.RedisDB,
		})
		if err := u.redis.Ping(ctx).Err(); err != nil {
			_ = u.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		store = ratelimit.NewRedisStore(u.redis)
		a.logger.Info().Str("addr", addr).Msg("Connected to Redis")
	}

	u.tracker = ratelimit.NewTracker(store, nil, a.cfg.RateLimit.Cooldown, logging.NewLogger("ratelimit"))

	c, err := client.New(a.cfg.ClientConfig(u.tracker))
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}
	u.client = c
	return u, nil
}

// Close releases the HTTP client and Redis connection.
func (u *upstream) Close() {
	if u.client != nil {
		_ = u.client.Close()
	}
	if u.redis != nil {
		_ = u.redis.Close()
	}
}
