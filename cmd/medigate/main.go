// Command medigate runs the MediHelp edge gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medihelp/medigate"
	"github.com/medihelp/medigate/config"
	"github.com/medihelp/medigate/proxy"
	"github.com/medihelp/medigate/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	st := newStore(cfg, log)
	defer st.Close()

	users := proxy.NewClient("user-profile-service", cfg.UserProfileURL, cfg.DownstreamTimeout)
	inventory := proxy.NewClient("inventory-service", cfg.InventoryURL, cfg.DownstreamTimeout)
	pharmacies := proxy.NewClient("pharmacy-service", cfg.PharmacyURL, cfg.DownstreamTimeout)
	prescriptions := proxy.NewClient("prescription-service", cfg.PrescriptionURL, cfg.DownstreamTimeout)

	gw := medigate.NewGateway(medigate.GatewayConfig{
		ClientID:   cfg.ClientID,
		ReadLimit:  cfg.ReadLimit,
		WriteLimit: cfg.WriteLimit,
		RateWindow: cfg.RateWindow,
		Log:        log,
	}, st, users, inventory, pharmacies, prescriptions)
	defer gw.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}

// newStore connects the shared Redis store. If Redis is unreachable at boot
// the gateway still has to serve: requests fail open on rate limiting and
// caching, so we fall back to the per-process memory store and flag the
// degradation. The /health probe re-checks liveness on every call.
func newStore(cfg config.Config, log *logrus.Logger) store.Store {
	st, err := store.NewRedis(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).
			Warn("shared store unreachable, starting degraded with in-process store")
		medigate.SetStoreAvailable(false)
		return store.NewMemory()
	}

	medigate.SetStoreAvailable(true)
	return st
}
