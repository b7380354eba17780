package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/attendance/internal/config"
	"github.com/coffersTech/attendance/internal/logging"
	"github.com/coffersTech/attendance/internal/pkg/security"
	"github.com/coffersTech/attendance/internal/remote"
	"github.com/coffersTech/attendance/internal/server"
	"github.com/coffersTech/attendance/internal/session"
)

func main() {
	if err := run(); err != nil {
		logging.Log().Fatal().Err(err).Msg("attendance exited")
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], nil)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	log := logging.Log()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	credential, err := security.LoadCredential(security.CredentialSource{
		Value:     cfg.Credential,
		File:      cfg.CredentialFile,
		MasterKey: cfg.MasterKey,
	})
	if errors.Is(err, security.ErrNoCredential) {
		// The remote service answers with an explanatory query error.
		log.Warn().Msg("no credential configured; attendance queries will be rejected")
	} else if err != nil {
		return err
	}

	client, err := remote.New(remote.Options{
		PlacesURL:  cfg.PlacesURL,
		DevicesURL: cfg.DevicesURL,
		CheckinURL: cfg.CheckinURL,
		Credential: credential,
		Timeout:    cfg.Timeout,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	registry := session.NewRegistry(client, session.Options{Location: loc, Logger: log})
	srv := server.NewAPIServer(registry, server.Options{
		WebDir:        cfg.WebDir,
		AccessKeyHash: cfg.AccessKeyHash,
		CORSOrigins:   cfg.CORSOrigins,
		Location:      loc,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	addr := fmt.Sprintf(":%d", cfg.Port)

	g.Go(func() error {
		log.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("attendance service listening")
		return srv.Start(addr)
	})
	g.Go(func() error {
		registry.RunCleanup(gctx, cfg.CleanupInterval, cfg.SessionIdle)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("attendance exited gracefully")
	return nil
}
