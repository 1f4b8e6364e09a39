package notification

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/gsoultan/gsmail"
	"github.com/gsoultan/gsmail/smtp"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/storage"
)

// SMTPSettings configures the outbound mail gateway.
type SMTPSettings struct {
	Host     string `yaml:"host" json:"smtp_host"`
	Port     int    `yaml:"port" json:"smtp_port"`
	User     string `yaml:"user" json:"smtp_user"`
	Password string `yaml:"password" json:"smtp_password"`
	From     string `yaml:"from" json:"smtp_from"`
	SSL      bool   `yaml:"ssl" json:"smtp_ssl"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
}

// SMTPGateway sends mail through gsmail's SMTP sender.
type SMTPGateway struct {
	settings SMTPSettings
}

func NewSMTPGateway(settings SMTPSettings) *SMTPGateway {
	return &SMTPGateway{settings: settings}
}

func (g *SMTPGateway) Send(ctx context.Context, to []string, subject, text, html string) error {
	if g.settings.Host == "" || len(to) == 0 {
		return nil
	}
	sender := smtp.NewSender(g.settings.Host, g.settings.Port, g.settings.User, g.settings.Password, g.settings.SSL)
	body := []byte(text)
	if html != "" {
		body = []byte(html)
	}
	email := gsmail.Email{
		From:    g.settings.From,
		To:      to,
		Subject: subject,
		Body:    body,
	}
	return sender.Send(ctx, email)
}

type message struct {
	to      []string
	subject string
	text    string
	html    string
}

// Service queues notification email off the request path. Delivery
// failures are logged; they never fail the triggering operation.
// Repeated identical notifications within five minutes are deduped.
type Service struct {
	gateway formforge.EmailGateway
	storage storage.Storage
	logger  formforge.Logger
	baseURL string

	queue chan message
	wg    sync.WaitGroup

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewService(gateway formforge.EmailGateway, st storage.Storage, logger formforge.Logger, baseURL string) *Service {
	s := &Service{
		gateway:  gateway,
		storage:  st,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		queue:    make(chan message, 128),
		lastSent: make(map[string]time.Time),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *Service) Close() {
	close(s.queue)
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for m := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.gateway.Send(ctx, m.to, m.subject, m.text, m.html); err != nil {
			s.logger.Error("failed to send notification email", "to", m.to, "subject", m.subject, "error", err)
		}
		cancel()
	}
}

func (s *Service) enqueue(m message) {
	if s.gateway == nil || len(m.to) == 0 {
		return
	}
	key := strings.Join(m.to, ",") + ":" + m.subject
	s.mu.Lock()
	if last, ok := s.lastSent[key]; ok && time.Since(last) < 5*time.Minute {
		s.mu.Unlock()
		return
	}
	s.lastSent[key] = time.Now()
	s.mu.Unlock()

	select {
	case s.queue <- m:
	default:
		s.logger.Warn("notification queue full, dropping email", "subject", m.subject)
	}
}

// htmlBody renders the plaintext notification as a minimal HTML
// alternative: the subject as heading, one paragraph per text line,
// and the detail link as an anchor.
func htmlBody(subject, text, link string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h3>" + html.EscapeString(subject) + "</h3>")
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		b.WriteString("<p>" + html.EscapeString(line) + "</p>")
	}
	if link != "" {
		b.WriteString(`<p><a href="` + html.EscapeString(link) + `">View response</a></p>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (s *Service) responseLink(formID, respID string) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/forms/%s/responses/%s", s.baseURL, formID, respID)
}

// SubmissionReceived mails the form's notification recipients about a
// new non-draft submission.
func (s *Service) SubmissionReceived(form *storage.Form, resp *storage.FormResponse) {
	if len(form.NotificationEmails) == 0 {
		return
	}
	subject := fmt.Sprintf("New submission on %s", form.Title)
	body := fmt.Sprintf("Form %q received submission %s from %s at %s.",
		form.Title, resp.ID, resp.SubmittedBy, resp.SubmittedAt.Format(time.RFC3339))
	link := s.responseLink(form.ID, resp.ID)
	text := body
	if link != "" {
		text += "\nDetails: " + link
	}
	s.enqueue(message{to: form.NotificationEmails, subject: subject, text: text, html: htmlBody(subject, body, link)})
}

// StatusChanged mails the submitter when a moderator moves their
// response between approval states.
func (s *Service) StatusChanged(ctx context.Context, form *storage.Form, resp *storage.FormResponse, from, to storage.ResponseStatus) {
	email := s.lookupEmail(ctx, resp.SubmittedBy)
	if email == "" {
		return
	}
	subject := fmt.Sprintf("Your submission on %s is now %s", form.Title, to)
	body := fmt.Sprintf("Your submission %s on %q moved from %s to %s.", resp.ID, form.Title, from, to)
	link := s.responseLink(form.ID, resp.ID)
	text := body
	if link != "" {
		text += "\nDetails: " + link
	}
	s.enqueue(message{to: []string{email}, subject: subject, text: text, html: htmlBody(subject, body, link)})
}

// NotifyUser satisfies the workflow notifier contract. The target may
// be a user id or a literal email address.
func (s *Service) NotifyUser(ctx context.Context, userID, subject, text string) error {
	email := s.lookupEmail(ctx, userID)
	if email == "" {
		s.logger.Warn("no email for notification target", "user", userID)
		return nil
	}
	s.enqueue(message{to: []string{email}, subject: subject, text: text, html: htmlBody(subject, text, "")})
	return nil
}

func (s *Service) lookupEmail(ctx context.Context, target string) string {
	if strings.Contains(target, "@") {
		return target
	}
	if s.storage == nil {
		return ""
	}
	user, err := s.storage.GetUser(ctx, target)
	if err != nil {
		user, err = s.storage.GetUserByIdentifier(ctx, target)
		if err != nil {
			return ""
		}
	}
	return user.Email
}
