package main

import (
	"context"
	"net/http"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/alfylabs/billing/pkg/entitlement"
	"github.com/alfylabs/billing/pkg/httpserver"
	"github.com/alfylabs/billing/pkg/logger"
	"github.com/alfylabs/billing/pkg/mongo"
	"github.com/alfylabs/billing/pkg/pg"
	"github.com/alfylabs/billing/pkg/redis"
	"github.com/alfylabs/billing/pkg/xendit"
	"github.com/alfylabs/billing/svc/subscription"
)

type appConfig struct {
	Logger       logger.Config
	HTTP         httpserver.Config
	PG           pg.Config
	Redis        redis.Config
	Mongo        mongo.Config
	Xendit       xendit.Config
	Subscription subscription.Config
	Reconciler   subscription.ReconcilerConfig
	Entitlement  entitlement.Config
}

func main() {
	// The .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to postgres", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		log.ErrorContext(ctx, "Failed to apply migrations", logger.Error(err))
		os.Exit(1)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	chatDB, err := mongo.ConnectDatabase(ctx, cfg.Mongo)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to mongo", logger.Error(err))
		os.Exit(1)
	}
	defer chatDB.Client().Disconnect(ctx) //nolint:errcheck

	gatewayClient, err := xendit.New(cfg.Xendit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create xendit client", logger.Error(err))
		os.Exit(1)
	}

	store := subscription.NewPostgresStore(pool)
	gateway := subscription.NewXenditGateway(gatewayClient)
	entitlements := entitlement.NewUpdater(chatDB, rdb, cfg.Entitlement, log)

	svc := subscription.NewService(cfg.Subscription, store, gateway, entitlements, log)
	proc := subscription.NewEventProcessor(gateway, store, entitlements, log)
	reconciler := subscription.NewReconciler(cfg.Reconciler, store, entitlements, log)

	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "Reconciler stopped", logger.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool),
		redis.Healthcheck(rdb),
		mongo.Healthcheck(chatDB.Client()),
	))
	r.Route("/api/subscription", func(r chi.Router) {
		r.Use(userFromHeaders)
		r.Mount("/", subscription.Router(svc, proc, log))
	})

	srv := httpserver.New(cfg.HTTP, log)
	if err := srv.Run(ctx, r); err != nil {
		log.ErrorContext(ctx, "HTTP server stopped", logger.Error(err))
		os.Exit(1)
	}
}

// userFromHeaders trusts identity headers set by the chat backend, which
// fronts this service and owns JWT validation. The webhook route ignores the
// user entirely, so unauthenticated gateway callbacks pass through untouched.
func userFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(r.Header.Get("X-User-Id")); err == nil {
			ctx := subscription.WithUser(r.Context(), subscription.User{
				ID:    id,
				Email: r.Header.Get("X-User-Email"),
				Name:  r.Header.Get("X-User-Name"),
			})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
