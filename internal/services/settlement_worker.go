package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/config"
	"github.com/readerline/backend/internal/metrics"
	"github.com/readerline/backend/internal/models"
	"github.com/readerline/backend/internal/store"
)

// SessionExpirer force-terminates stale sessions.
type SessionExpirer interface {
	Expire(ctx context.Context, sessionID string) (*models.SettlementLog, error)
}

// LivestreamCloser ends livestreams past their scheduled end.
type LivestreamCloser interface {
	EndLivestream(ctx context.Context, livestreamID string) (*models.Livestream, error)
}

// SweepReport counts what one worker cycle did.
type SweepReport struct {
	GiftsProcessed    int
	GiftsSkipped      int
	GiftsFailed       int
	SessionsExpired   int
	SessionsFailed    int
	LivestreamsEnded  int
	LivestreamsFailed int
}

// SettlementWorker periodically credits unprocessed gifts and closes sessions
// and livestreams that never received a clean end signal.
type SettlementWorker struct {
	store       store.Store
	guard       *BalanceGuard
	split       *RevenueSplit
	sessions    SessionExpirer
	livestreams LivestreamCloser
	notifier    Notifier
	audit       *audit.Logger
	log         zerolog.Logger
	cfg         config.WorkerConfig
	now         func() time.Time
}

func NewSettlementWorker(
	s store.Store,
	guard *BalanceGuard,
	split *RevenueSplit,
	sessions SessionExpirer,
	livestreams LivestreamCloser,
	notifier Notifier,
	auditLog *audit.Logger,
	log zerolog.Logger,
	cfg config.WorkerConfig,
) *SettlementWorker {
	if notifier == nil {
		notifier = MultiNotifier{}
	}
	return &SettlementWorker{
		store:       s,
		guard:       guard,
		split:       split,
		sessions:    sessions,
		livestreams: livestreams,
		notifier:    notifier,
		audit:       auditLog,
		log:         log.With().Str("component", "settlement_worker").Logger(),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a sweep every interval until ctx is cancelled.
func (w *SettlementWorker) Start(ctx context.Context) error {
	w.log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("session_expiry", w.cfg.SessionExpiry).
		Msg("Starting settlement worker")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Settlement worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs both sweeps. A failure or panic in one never prevents the other.
func (w *SettlementWorker) RunOnce(ctx context.Context) SweepReport {
	var report SweepReport

	if err := w.runSweep("gifts", func() error { return w.sweepGifts(ctx, &report) }); err != nil {
		w.log.Error().Err(err).Msg("Gift sweep failed")
	}
	if err := w.runSweep("expired", func() error { return w.sweepExpired(ctx, &report) }); err != nil {
		w.log.Error().Err(err).Msg("Expiry sweep failed")
	}

	w.log.Info().
		Int("gifts_processed", report.GiftsProcessed).
		Int("gifts_failed", report.GiftsFailed).
		Int("sessions_expired", report.SessionsExpired).
		Int("sessions_failed", report.SessionsFailed).
		Int("livestreams_ended", report.LivestreamsEnded).
		Msg("Settlement sweep finished")
	return report
}

func (w *SettlementWorker) runSweep(name string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep %s panicked: %v", name, r)
		}
		metrics.WorkerSweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return fn()
}

func (w *SettlementWorker) sweepGifts(ctx context.Context, report *SweepReport) error {
	gifts, err := w.store.ListUnprocessedGifts(ctx, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load unprocessed gifts: %w", err)
	}

	for _, g := range gifts {
		readerShare, platformShare := w.split.Split(g.Amount)
		processed, err := w.guard.CreditGift(ctx, g, readerShare, platformShare, w.now())
		switch {
		case errors.Is(err, models.ErrGiftAlreadyProcessed):
			report.GiftsSkipped++
			metrics.WorkerItems.WithLabelValues("gifts", "skipped").Inc()
			continue
		case err != nil:
			report.GiftsFailed++
			metrics.WorkerItems.WithLabelValues("gifts", "failed").Inc()
			w.log.Error().Err(err).
				Str("gift_id", g.ID).
				Str("recipient_id", g.RecipientID).
				Msg("Failed to process gift, will retry next sweep")
			continue
		}

		report.GiftsProcessed++
		metrics.WorkerItems.WithLabelValues("gifts", "processed").Inc()
		w.audit.LogGift(processed.ID, processed.RecipientID, processed.Amount, processed.ReaderShare, "PROCESSED")
		w.publish(ctx, models.Event{
			Type:         models.EventGiftProcessed,
			LivestreamID: processed.LivestreamID,
			UserIDs:      []string{processed.RecipientID},
			Gift:         processed,
			At:           w.now(),
		})
	}
	return nil
}

func (w *SettlementWorker) sweepExpired(ctx context.Context, report *SweepReport) error {
	var errs []error
	now := w.now()

	stale, err := w.store.ListStaleSessions(ctx, now.Add(-w.cfg.SessionExpiry), w.cfg.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to load stale sessions: %w", err))
	}
	for _, s := range stale {
		l, err := w.sessions.Expire(ctx, s.ID)
		if err != nil {
			report.SessionsFailed++
			metrics.WorkerItems.WithLabelValues("sessions", "failed").Inc()
			w.log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to expire session")
			continue
		}
		report.SessionsExpired++
		metrics.WorkerItems.WithLabelValues("sessions", "expired").Inc()
		w.log.Info().
			Str("session_id", s.ID).
			Str("end_reason", string(l.EndReason)).
			Int64("total_amount", l.TotalAmount).
			Msg("Stale session closed")
	}

	streams, err := w.store.ListExpiredLivestreams(ctx, now, w.cfg.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to load expired livestreams: %w", err))
	}
	for _, l := range streams {
		if _, err := w.livestreams.EndLivestream(ctx, l.ID); err != nil && !errors.Is(err, models.ErrLivestreamEnded) {
			report.LivestreamsFailed++
			metrics.WorkerItems.WithLabelValues("livestreams", "failed").Inc()
			w.log.Error().Err(err).Str("livestream_id", l.ID).Msg("Failed to end livestream")
			continue
		}
		report.LivestreamsEnded++
		metrics.WorkerItems.WithLabelValues("livestreams", "ended").Inc()
	}

	return errors.Join(errs...)
}

func (w *SettlementWorker) publish(ctx context.Context, ev models.Event) {
	if err := w.notifier.Publish(ctx, ev); err != nil {
		w.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
	}
}
