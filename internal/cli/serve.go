package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/coderoom/config"
	"github.com/mossy-p/coderoom/internal/handlers"
	"github.com/mossy-p/coderoom/internal/judge"
	"github.com/mossy-p/coderoom/internal/redis"
	"github.com/mossy-p/coderoom/internal/registry"
	"github.com/mossy-p/coderoom/internal/relay"
	"github.com/mossy-p/coderoom/internal/rooms"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *config.Options) *cobra.Command {
	var presence bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("presence") {
				opts.PresenceEnabled = &presence
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, slog.Default())
		},
	}
	cmd.Flags().StringVar(&opts.Port, "port", "", "listen port (env PORT)")
	cmd.Flags().StringVar(&opts.AllowedOrigins, "origins", "", "comma-separated allowed origins (env ALLOWED_ORIGINS)")
	cmd.Flags().StringVar(&opts.RedisHost, "redis-host", "", "redis host for the presence mirror (env REDIS_HOST)")
	cmd.Flags().BoolVar(&presence, "presence", false, "mirror room membership to redis (env PRESENCE_ENABLED)")
	cmd.Flags().StringVar(&opts.JudgeURL, "judge-url", "", "Judge0 base URL (env JUDGE0_URL)")
	return cmd
}

// app is a wired server and what must be released after it stops.
type app struct {
	server   *http.Server
	presence *redis.Presence
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	a := &app{}
	var dirOpts []rooms.Option
	dirOpts = append(dirOpts, rooms.WithLogger(logger))
	if cfg.Redis.Enabled {
		p, err := redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Redis connection established", "addr", cfg.Redis.Addr())
		a.presence = p
		dirOpts = append(dirOpts, rooms.WithPresenceMirror(p))
	}

	var runner handlers.CodeRunner
	if cfg.Judge.Configured() {
		runner = judge.NewClient(judge.Config{
			BaseURL: cfg.Judge.URL,
			APIKey:  cfg.Judge.APIKey,
			APIHost: cfg.Judge.APIHost,
			Timeout: cfg.Judge.Timeout,
		})
	} else {
		logger.Warn("code execution disabled, set JUDGE0_URL or JUDGE0_API_KEY", "url", cfg.Judge.URL)
	}

	reg := registry.New(logger)
	dir := rooms.NewDirectory(reg, dirOpts...)
	router := handlers.NewRouter(handlers.Deps{
		Registry:       reg,
		Directory:      dir,
		Relay:          relay.New(dir, logger),
		Runner:         runner,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

func (a *app) close() {
	if a.presence != nil {
		a.presence.Close()
	}
}

// serve runs until ctx is cancelled, then drains HTTP requests. Open
// websockets are hijacked connections and are closed with the process.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	errc := make(chan error, 1)
	go func() {
		logger.Info("coderoom server starting", "port", cfg.Port, "environment", cfg.Environment, "presence", cfg.Redis.Enabled)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}
