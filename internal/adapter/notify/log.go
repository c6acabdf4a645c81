package notify

import (
	"context"
	"log/slog"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: LogNotifier implements domain.Notifier.
var _ domain.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to the structured log instead of
// sending them. It is the default when no mail provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event domain.Event) error {
	msg, ok := Render(event)
	if !ok {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("type", string(event.Type)),
		slog.String("tenant_id", event.TenantID),
		slog.String("to", event.Email),
		slog.String("subject", msg.Subject),
	)
	return nil
}
