package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"vidbot/internal/config"
	"vidbot/internal/downloader"
	server "vidbot/internal/http"
	"vidbot/internal/migrate"
	"vidbot/internal/notify"
	"vidbot/internal/pipeline"
	"vidbot/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN, migrate.DefaultDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Terminal outcomes always hit the log; with Redis configured they
	// are also published per requester.
	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb := redis.NewClient(opt)
			sink = notify.MultiSink{
				notify.NewLogSink(logger),
				notify.NewRedisSink(rdb, cfg.Notify.RedisChannelPrefix, logger),
			}
		} else {
			logger.Warn("invalid redis url, notifications stay log-only", "error", err.Error())
		}
	}

	fetcher := downloader.NewYTDLPFetcher(cfg.Downloader)
	pipe := pipeline.New(cfg, st, fetcher, sink, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runWorker := *role == "worker" || *role == "all"
	runAPI := *role == "api" || *role == "all"
	if !runWorker && !runAPI {
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}

	if runWorker {
		if err := pipe.Start(rootCtx); err != nil {
			log.Fatalf("pipeline start failed: %v", err)
		}
	}

	var s *server.Server
	if runAPI {
		s = server.NewServer(cfg, st, pipe, logger)
		go func() {
			if err := s.Listen(); err != nil {
				log.Fatalf("server failed: %v", err)
			}
		}()
	}

	<-rootCtx.Done()
	logger.Info("shutdown signal received")

	grace := time.Duration(cfg.Worker.ShutdownGraceMs) * time.Millisecond
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if s != nil {
		if err := s.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err.Error())
		}
	}
	if runWorker {
		if err := pipe.Stop(shutdownCtx); err != nil {
			logger.Error("pipeline stop failed", "error", err.Error())
		}
	}
}
