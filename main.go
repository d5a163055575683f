package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"

	"todocrud/internal/api"
	"todocrud/internal/config"
	"todocrud/internal/store"
	"todocrud/internal/store/redisstore"
	"todocrud/internal/store/sqlstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "todocrud:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, os.Getenv)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error("close store", "err", err)
		}
	}()

	handler := api.NewHandler(s, logger)
	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.Server(api.Options{
			CORS:           cfg.CORS,
			RequestTimeout: cfg.RequestTimeout.Std(),
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout.Std() + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server is listening", "addr", server.Addr, "env", cfg.Env, "store", cfg.Store.Driver, "cors", cfg.CORS.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("could not listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	stop()
	logger.Info("server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if cfg.IsDevelopment() {
		level = log.DebugLevel
	}

	formatter := log.TextFormatter
	switch cfg.Log.Format {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "todocrud",
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}), nil
}

func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		s := redisstore.New(client)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("could not connect to redis (%s): %w", cfg.Store.RedisAddr, err)
		}
		logger.Info("connected to redis", "addr", cfg.Store.RedisAddr, "db", cfg.Store.RedisDB)
		return s, nil
	default:
		s, err := sqlstore.Open(ctx, sqlstore.Options{
			Driver:     cfg.Store.Driver,
			DSN:        cfg.Store.DSN,
			Logger:     logger,
			LogQueries: cfg.IsDevelopment(),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("opened database", "driver", cfg.Store.Driver)
		return s, nil
	}
}
