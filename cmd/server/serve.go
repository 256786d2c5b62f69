package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/readerline/backend/docs"
	"github.com/readerline/backend/internal/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, billing clocks and settlement worker",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return a.migrate(cmd.Context())
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one settlement sweep and exit (refuses while serve is running)",
	Long: `Credit unprocessed gifts, expire stale sessions and close expired livestreams once.
Stale sessions are finalized from the database, so sweep takes the same owner lock as
serve and refuses to start while a server owns live sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		release, err := a.claimSessions(cmd.Context(), "sweep")
		if err != nil {
			return err
		}
		defer release()
		if err := a.migrate(cmd.Context()); err != nil {
			return err
		}
		report := a.worker.RunOnce(cmd.Context())
		a.log.Info().
			Int("gifts_processed", report.GiftsProcessed).
			Int("gifts_skipped", report.GiftsSkipped).
			Int("gifts_failed", report.GiftsFailed).
			Int("sessions_expired", report.SessionsExpired).
			Int("sessions_failed", report.SessionsFailed).
			Int("livestreams_ended", report.LivestreamsEnded).
			Int("livestreams_failed", report.LivestreamsFailed).
			Msg("Sweep finished")
		return nil
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	release, err := a.claimSessions(ctx, "serve")
	if err != nil {
		return err
	}
	defer release()

	if err := a.migrate(ctx); err != nil {
		return err
	}

	docs.SwaggerInfo.Host = "localhost:" + a.cfg.Server.Port

	router := handlers.NewRouter(handlers.RouterConfig{
		Sessions:        a.manager,
		Gifts:           a.gifts,
		Wallets:         a.wallets,
		Hub:             a.hub,
		JWTSecret:       a.cfg.JWT.SecretKey,
		SignalingSecret: a.cfg.Signaling.Secret,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		Log:             a.log,
	})
	if a.cfg.JWT.SecretKey == "" {
		a.log.Warn().Msg("JWT_SECRET_KEY not set, API routes are unauthenticated")
	}

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := a.worker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Msg("Settlement worker stopped")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			cancelWorker()
			<-workerDone
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info().Msg("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancelWorker()
	<-workerDone
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Billing clocks did not stop in time")
	}

	a.log.Info().Msg("Server stopped")
	return nil
}
