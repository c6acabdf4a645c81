package river

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/neomorfeo/tenantops/internal/app"
	"github.com/neomorfeo/tenantops/internal/domain"
)

// EventWorker delivers published events through the notifier. A failed
// delivery is retried by River; the state change that produced the event
// is never affected.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
	notifier domain.Notifier
}

// NewEventWorker creates a worker that hands events to notifier.
func NewEventWorker(notifier domain.Notifier) *EventWorker {
	return &EventWorker{notifier: notifier}
}

// Work processes a single event job.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	slog.DebugContext(ctx, "processing event",
		"event", job.Args.Type,
		"tenant_id", job.Args.TenantID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	if err := w.notifier.Notify(ctx, job.Args.Event); err != nil {
		return fmt.Errorf("notifying %s: %w", job.Args.Type, err)
	}
	return nil
}

// Timeout bounds a single delivery attempt.
func (w *EventWorker) Timeout(*river.Job[EventJobArgs]) time.Duration {
	return 30 * time.Second
}

// SweepJobArgs triggers one pass of the subscription sweep.
type SweepJobArgs struct{}

func (SweepJobArgs) Kind() string { return "subscription.sweep" }

// InsertOpts keeps a single sweep per period even with several nodes.
func (SweepJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// Sweeper applies period-end subscription changes.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (app.SweepResult, error)
}

// SweepWorker runs the subscription sweep. Sweeper must be set before the
// client is started.
type SweepWorker struct {
	river.WorkerDefaults[SweepJobArgs]
	Sweeper Sweeper
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepJobArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("sweep worker has no sweeper")
	}
	if _, err := w.Sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("sweeping subscriptions: %w", err)
	}
	return nil
}

// errorHandler logs job failures with their kind and attempt.
type errorHandler struct {
	logger *slog.Logger
}

func (h *errorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.logger.WarnContext(ctx, "job failed",
		slog.String("kind", job.Kind),
		slog.Int64("job_id", job.ID),
		slog.Int("attempt", job.Attempt),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Any("error", err),
	)
	return nil
}

func (h *errorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.ErrorContext(ctx, "job panicked",
		slog.String("kind", job.Kind),
		slog.Int64("job_id", job.ID),
		slog.Any("panic", panicVal),
		slog.String("trace", trace),
	)
	return nil
}
