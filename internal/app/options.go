package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Option configures a service.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for failures that are reported but not returned.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// publish emits an event after a committed state change. Delivery failures
// are logged and never undo the change.
func (o options) publish(ctx context.Context, publisher domain.EventPublisher, event domain.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}
	if err := publisher.Publish(ctx, event); err != nil {
		o.logger.ErrorContext(ctx, "publishing event",
			slog.String("type", string(event.Type)),
			slog.String("tenant_id", event.TenantID),
			slog.Any("error", err),
		)
	}
}
