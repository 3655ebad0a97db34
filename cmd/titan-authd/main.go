// Command titan-authd is the composition root: it builds every process-wide
// singleton (identity store, CA service, challenge cache, signing executor,
// signer, metrics, minter) once and wires them into the HTTP router.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/titan-auth/engine/internal/ca"
	"github.com/titan-auth/engine/internal/challenge"
	"github.com/titan-auth/engine/internal/config"
	"github.com/titan-auth/engine/internal/executor"
	"github.com/titan-auth/engine/internal/httpapi"
	"github.com/titan-auth/engine/internal/metrics"
	"github.com/titan-auth/engine/internal/mint"
	"github.com/titan-auth/engine/internal/signer"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	store, err := ca.OpenStore(cfg.CADBPath)
	if err != nil {
		log.WithError(err).Fatal("open identity store")
	}
	defer store.Close()

	caService := ca.NewService(store)

	aggMetrics := metrics.New(cfg.Version, cfg.MintFlushThreshold)

	chal := challenge.New(caService, cfg.MaxChallenges, time.Duration(cfg.ChallengeTTL)*time.Second, aggMetrics.RecordChallengeIssued)

	exec := executor.New(cfg.Slots(), cfg.ThreadsPerWorker)

	sign, err := signer.New()
	if err != nil {
		log.WithError(err).Fatal("generate signing key")
	}

	minter := mint.New(exec, sign, aggMetrics, cfg.JWTIssuer, cfg.TokenExpHours, time.Duration(cfg.MintSlotTimeoutSec)*time.Second, cfg.Version)

	handlers := &httpapi.Handlers{
		CA:         caService,
		Challenges: chal,
		Minter:     minter,
		Metrics:    aggMetrics,
		Settings:   cfg,
		Log:        log,
	}
	router := httpapi.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": cfg.Version, "accept_backlog": config.Backlog()}).Info("titan-authd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
}
