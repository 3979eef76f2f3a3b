package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xqdev/xqgo/internal/cache"
	"github.com/xqdev/xqgo/internal/config"
	"github.com/xqdev/xqgo/internal/db"
	"github.com/xqdev/xqgo/internal/engine"
	"github.com/xqdev/xqgo/internal/gameserver"
)

const ConfigPath = "config/server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config FIRST to determine log level
	cfgPath := ConfigPath
	if p := os.Getenv("XQGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// A bare port argument overrides the config, the way the server is
	// usually launched by hand.
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", os.Args[1])
		}
		cfg.Port = port
	}

	// Configure slog based on config.LogLevel
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("xiangqi server starting", "log_level", cfg.LogLevel)

	// Connect to MongoDB; the server is useless without it
	mongo, err := db.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := mongo.Close(context.Background()); err != nil {
			slog.Warn("mongodb disconnect", "error", err)
		}
	}()
	slog.Info("mongodb connected", "database", cfg.Mongo.Database)

	if err := mongo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring indexes: %w", err)
	}

	// Redis is a mirror, not a dependency; a dead cache degrades to
	// debug-logged write failures.
	sessions := cache.New(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	defer sessions.Close()
	if err := sessions.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, continuing without cache", "addr", cfg.Redis.Addr(), "error", err)
	} else {
		slog.Info("redis connected", "addr", cfg.Redis.Addr())
	}

	// The AI engine is optional too; AI_MATCH reports unavailability while
	// it stays down.
	eng := engine.New(cfg.Engine.Path)
	if path, err := engine.FindBinary(cfg.Engine.Path); err != nil {
		slog.Warn("engine binary not found, AI matches disabled", "error", err)
	} else {
		eng = engine.New(path)
		if err := eng.Init(); err != nil {
			slog.Warn("engine init failed, AI matches disabled", "error", err)
		}
	}
	defer eng.Close()

	stores := gameserver.Stores{
		Users:      db.NewUserRepository(mongo),
		Games:      db.NewGameRepository(mongo),
		Stats:      db.NewStatsRepository(mongo),
		Friends:    db.NewFriendRepository(mongo),
		Challenges: db.NewChallengeRepository(mongo),
		Cache:      sessions,
	}

	server := gameserver.NewServer(cfg, stores, eng)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting game server", "bind", cfg.BindAddress, "port", cfg.Port)
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("game server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
