package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/broker"
	"github.com/spellduel/broker/internal/config"
	"github.com/spellduel/broker/internal/httpapi"
	"github.com/spellduel/broker/internal/persist"
	"github.com/spellduel/broker/internal/ranking"
	"github.com/spellduel/broker/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger, err := newLogger(cfg.Dev)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store persist.Store
	if cfg.DatabaseURL != "" {
		gs, err := persist.OpenGorm(cfg.DatabaseURL)
		if err != nil {
			sugar.Fatalw("open database", "error", err)
		}
		store = gs
	} else {
		sugar.Warn("no DATABASE_URL set, state will not survive restarts")
		store = persist.NewMemoryStore()
	}
	defer store.Close()

	accounts := account.NewStore(cfg.SessionTTL)
	rankings := ranking.NewLedger()
	gateway := persist.NewGateway(store, accounts, rankings, cfg.SaveDebounce, sugar)
	accounts.OnChange(gateway.ScheduleSave)

	// Everything must be loaded and migrated before a single connection is
	// accepted.
	if err := gateway.LoadAndMigrate(ctx); err != nil {
		sugar.Fatalw("load state", "error", err)
	}

	opts := broker.DefaultOptions()
	opts.ICEServers = cfg.ICEServers
	b := broker.New(ctx, opts, accounts, rankings, gateway, sugar)

	var originPatterns []string
	if cfg.CORSOrigin != "" {
		originPatterns = []string{cfg.CORSOrigin}
	}
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Accounts:   accounts,
		Rankings:   rankings,
		Saver:      gateway,
		Log:        sugar,
		CORSOrigin: cfg.CORSOrigin,
	}, ws.Handler(b, sugar, originPatterns))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sugar.Infow("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gateway.Run(gctx)
	})
	g.Go(func() error {
		// Hourly janitor for tokens of accounts that never came back.
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := accounts.SweepExpired(); n > 0 {
					sugar.Infow("expired sessions swept", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		b.Inbox() <- broker.Shutdown{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("server exited", "error", err)
	}
	sugar.Info("shutdown complete")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
