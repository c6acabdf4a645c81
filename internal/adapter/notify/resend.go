package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/neomorfeo/tenantops/internal/domain"
)

// Compile-time check: EmailNotifier implements domain.Notifier.
var _ domain.Notifier = (*EmailNotifier)(nil)

// EmailNotifier sends notifications through Resend.
type EmailNotifier struct {
	client *resend.Client
	from   string
	logger *slog.Logger
}

// NewEmailNotifier creates a notifier that sends from "name <email>".
func NewEmailNotifier(apiKey, fromName, fromEmail string, logger *slog.Logger) (*EmailNotifier, error) {
	if apiKey == "" {
		return nil, errors.New("resend API key is required")
	}
	if fromEmail == "" {
		return nil, errors.New("from email is required")
	}
	return &EmailNotifier{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
		logger: logger,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, event domain.Event) error {
	msg, ok := Render(event)
	if !ok {
		return nil
	}
	if event.Email == "" {
		n.logger.WarnContext(ctx, "notification has no recipient",
			slog.String("type", string(event.Type)), slog.String("tenant_id", event.TenantID))
		return nil
	}

	sent, err := n.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{event.Email},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("sending %s email: %w", event.Type, err)
	}

	n.logger.InfoContext(ctx, "notification sent",
		slog.String("type", string(event.Type)),
		slog.String("tenant_id", event.TenantID),
		slog.String("email_id", sent.Id),
	)
	return nil
}
