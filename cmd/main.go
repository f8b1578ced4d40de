package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/promo/internal/clock"
	"github.com/kkkkikiki/promo/internal/config"
	"github.com/kkkkikiki/promo/internal/database"
	"github.com/kkkkikiki/promo/internal/docstore"
	"github.com/kkkkikiki/promo/internal/logger"
	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/notify"
	"github.com/kkkkikiki/promo/internal/registry"
	"github.com/kkkkikiki/promo/internal/repository"
	"github.com/kkkkikiki/promo/internal/service"
)

// backend is the storage wiring selected by configuration
type backend struct {
	store  registry.Store
	agents registry.AgentDirectory
	checks map[string]func(context.Context) error
	close  func() error
}

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.App.LogMode(), logger.Options{
		Dir:        cfg.Log.Dir,
		Filename:   cfg.Log.Filename,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer log.Sync()

	log.Info("starting promo service",
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.App.StoreBackend),
	)

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() {
		if err := b.close(); err != nil {
			log.Error("error closing store", zap.Error(err))
		}
	}()

	reg := registry.New(b.store,
		registry.WithClock(clock.NewSystem()),
		registry.WithLogger(log.Named("registry")),
		registry.WithMaxGenerate(cfg.App.MaxGenerate),
	)
	if err := reg.Load(ctx); err != nil {
		log.Fatal("failed to load promo codes", zap.Error(err))
	}
	log.Info("registry loaded", zap.Int("codes", reg.Report().Total))

	var notifier service.Notifier
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		n := notify.New(rdb, cfg.Redis.Prefix, cfg.Redis.FeedTTL, clock.NewSystem())
		if err := n.Ping(ctx); err != nil {
			log.Warn("redis unreachable, notifications may fail", zap.Error(err))
		}
		b.checks["redis"] = n.Ping
		notifier = n
	}

	promoServer := service.NewPromoServer(reg, b.agents, notifier, log.Named("service"))
	limiter := rate.NewLimiter(rate.Limit(cfg.App.RateLimitRPS), cfg.App.RateLimitBurst)
	path, handler := service.NewHandler(promoServer, connect.WithInterceptors(
		service.NewLoggingInterceptor(log.Named("rpc")),
		service.NewRateLimitInterceptor(limiter, service.MutatingProcedures...),
	))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms"},
		MaxAge:         300,
	}))

	r.Handle(path+"*", handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "promo-registry",
			"hostname": hostname,
		})
	})

	r.Get("/health/db", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := map[string]string{"store": cfg.App.StoreBackend}
		for name, check := range b.checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = "unavailable"
				continue
			}
			result[name] = "connected"
		}
		writeJSON(w, status, result)
	})

	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// h2c serves HTTP/2 without TLS
		Handler: h2c.NewHandler(r, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("server exited gracefully")
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	seed := seedAgents(cfg.App.SeedAgents)

	switch cfg.App.StoreBackend {
	case config.BackendPostgres:
		db, err := database.NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		agents := repository.NewAgentRepository(db.Postgres)
		for _, agent := range seed {
			if err := agents.UpsertAgent(ctx, agent); err != nil {
				db.Close()
				return nil, err
			}
		}
		return &backend{
			store:  repository.NewPostgresStore(db.Postgres),
			agents: agents,
			checks: map[string]func(context.Context) error{"postgres": db.Ping},
			close:  db.Close,
		}, nil

	case config.BackendDynamoDB:
		store, err := docstore.NewFromConfig(ctx, cfg.Dynamo.Table, cfg.App.RegistryName,
			cfg.Dynamo.Region, cfg.Dynamo.Profile, cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, err
		}
		for _, agent := range seed {
			if err := store.PutAgent(ctx, agent); err != nil {
				return nil, err
			}
		}
		log.Info("using DynamoDB store",
			zap.String("table", cfg.Dynamo.Table),
			zap.String("registry", cfg.App.RegistryName),
		)
		return &backend{
			store:  store,
			agents: store,
			checks: map[string]func(context.Context) error{},
			close:  func() error { return nil },
		}, nil

	default:
		if cfg.App.IsProduction() {
			log.Warn("in-memory store selected in production")
		}
		log.Warn("using in-memory store, codes are lost on restart")
		return &backend{
			agents: registry.NewStaticDirectory(cfg.App.SeedAgents),
			checks: map[string]func(context.Context) error{},
			close:  func() error { return nil },
		}, nil
	}
}

func seedAgents(m map[string]string) []model.Agent {
	agents := make([]model.Agent, 0, len(m))
	for id, name := range m {
		agents = append(agents, model.Agent{ID: id, Name: name})
	}
	return agents
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
