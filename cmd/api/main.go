package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/config"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/httpapi"
	"prestacao.org/internal/migrate"
	"prestacao.org/internal/obs"
	"prestacao.org/internal/store/memory"
	"prestacao.org/internal/store/pg"
	"prestacao.org/internal/stream"
	"prestacao.org/internal/uploads"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type store interface {
	auth.UserStore
	expense.Store
}

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, db, err := openStore(ctx, cfg)
	if err != nil {
		cancel()
		log.Fatalf("store: %v", err)
	}

	authSvc, err := auth.NewService(st,
		auth.WithSecret(cfg.JWT.Secret),
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithTokenTTL(cfg.JWT.TokenTTL),
	)
	if err != nil {
		cancel()
		log.Fatalf("auth: %v", err)
	}
	expenses := expense.NewService(st)

	if db == nil {
		// the in-memory store starts empty
		if _, err := expenses.SeedReferenceData(ctx, expense.DefaultUnits, expense.DefaultCostCenters); err != nil {
			cancel()
			log.Fatalf("seed: %v", err)
		}
		obs.LogInfo("using in-memory store; data is lost on exit", nil)
	}
	if cfg.AdminEmail != "" {
		_, created, err := authSvc.EnsureUser(ctx, cfg.AdminEmail, cfg.AdminPassword, auth.RoleAdmin)
		if err != nil {
			cancel()
			log.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			obs.LogInfo("admin user created", map[string]any{"email": cfg.AdminEmail})
		}
	}
	cancel()

	files, err := uploads.New(cfg.UploadDir, cfg.UploadMaxBytes)
	if err != nil {
		log.Fatalf("uploads: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, httpapi.Deps{
		Auth:     authSvc,
		Expenses: expenses,
		Uploads:  files,
		Stream:   stream.New(),
	},
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithLoginRateLimit(cfg.Login.RatePerSec, cfg.Login.Burst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.LogInfo("starting prestacao-api", map[string]any{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewGRPCServer(probe))
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.LogInfo("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.LogError("http shutdown", err, nil)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if db != nil {
		_ = db.Close()
	}
	obs.LogInfo("stopped", nil)
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg *config.Config) (store, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return memory.New(), nil, nil
	}
	pgStore, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pgStore.Ping(ctx); err != nil {
		_ = pgStore.Close()
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		applied, err := migrate.NewManager(pgStore.DB()).Up(ctx)
		if err != nil {
			_ = pgStore.Close()
			return nil, nil, err
		}
		if len(applied) > 0 {
			obs.LogInfo("migrations applied", map[string]any{"names": applied})
		}
	}
	return pgStore, pgStore.DB(), nil
}
