package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tessera.id/internal/audit"
	"tessera.id/internal/config"
	"tessera.id/internal/httpapi"
	"tessera.id/internal/identity"
	"tessera.id/internal/keycache"
	"tessera.id/internal/obs"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("TESSERA_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if db == nil {
		log.Fatalf("TESSERA_PG_DSN is required")
	}

	opts := []identity.ServiceOption{
		identity.WithIssuer(cfg.Issuer),
		identity.WithAudience(cfg.Audience),
		identity.WithAccessTTL(cfg.AccessTTL),
		identity.WithCodeTTL(cfg.CodeTTL),
		identity.WithHashCost(cfg.HashCost),
		identity.WithMaxAttempts(cfg.MaxAttempts),
		identity.WithLockoutHook(func(login string) {
			obs.LockoutTripped()
			_ = audit.LogEvent(context.Background(), audit.EventLockout, map[string]any{"login": login})
		}),
	}
	switch {
	case cfg.PublicKeyPEM != "":
		opts = append(opts, identity.WithRS256Keys(cfg.PrivateKeyPEM, cfg.PublicKeyPEM))
	case cfg.KeyURL != "":
		// Verify-only deployment: fetch the issuer's key over HTTP.
		opts = append(opts, identity.WithKeySource(keycache.New(cfg.KeyURL, cfg.KeyCacheTTL)))
	default:
		log.Fatalf("one of TESSERA_PUBLIC_KEY or TESSERA_KEY_URL is required")
	}

	svc, err := identity.NewService(identity.NewPGStore(db), opts...)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}
	if !svc.CanIssueTokens() {
		log.Printf("no private key configured; token issuance disabled, verify-only mode")
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting tessera-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	log.Println("Stopped")
}
