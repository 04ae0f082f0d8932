package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examportal/internal/app"
	"examportal/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("env file: %v", err)
	}
	cfg := app.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Open(ctx, driver, cfg.DBDSN, cfg.PoolConfig())
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	svcs := app.NewServices(cfg, dbConn)
	if _, err := app.BootstrapAdmin(ctx, cfg, svcs.Auth); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, dbConn, svcs),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("examportal listening on %s (driver=%s env=%s)", cfg.HTTPAddr, driver, cfg.AppEnv)
	if err := runServer(ctx, srv, srv.ListenAndServe, 10*time.Second); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("examportal stopped")
}

// runServer calls serve and, once ctx is done, shuts srv down. It returns only
// after in-flight requests have drained or the grace period ran out.
func runServer(ctx context.Context, srv *http.Server, serve func() error, grace time.Duration) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}
