package formforge

import "context"

// WebhookEvent identifies the lifecycle event a webhook delivery reports.
type WebhookEvent string

const (
	EventSubmitted     WebhookEvent = "submitted"
	EventUpdated       WebhookEvent = "updated"
	EventDeleted       WebhookEvent = "deleted"
	EventStatusUpdated WebhookEvent = "status_updated"
)

// Logger defines the interface for logging in FormForge.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// EmailGateway delivers rendered emails. SMTP wiring lives behind it so
// tests can substitute a recorder.
type EmailGateway interface {
	Send(ctx context.Context, to []string, subject, text, html string) error
}

// SMSGateway delivers one-time codes to a mobile number.
type SMSGateway interface {
	SendOTP(ctx context.Context, mobile, code string) error
}

// ExternalLookup resolves records from external registries (UHID,
// employee directory) for api_search fields.
type ExternalLookup interface {
	UHID(ctx context.Context, value string) (map[string]any, error)
}
