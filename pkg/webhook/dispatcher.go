package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/storage"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// keyed with the subscription secret.
const SignatureHeader = "X-Form-Signature"

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	requestTimeout   = 10 * time.Second
)

// defaultSchedule is the delay before each attempt. Five attempts
// total; every delay gets up to 20% jitter either way.
var defaultSchedule = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

// Payload is the webhook request body.
type Payload struct {
	Event      formforge.WebhookEvent `json:"event"`
	FormID     string                 `json:"form_id"`
	FormTitle  string                 `json:"form_title"`
	ResponseID string                 `json:"response_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]any         `json:"data,omitempty"`
}

type delivery struct {
	url    string
	secret string
	body   []byte
	event  formforge.WebhookEvent
	formID string
	respID string
}

// Dispatcher delivers webhook payloads from a bounded queue with a
// fixed worker pool. Exhausted deliveries are dead-lettered into the
// audit log.
type Dispatcher struct {
	queue    chan delivery
	client   *http.Client
	storage  storage.Storage
	logger   formforge.Logger
	schedule []time.Duration
	jitter   func(time.Duration) time.Duration
	wg       sync.WaitGroup
	closed   chan struct{}
}

// Option tweaks dispatcher construction, mostly for tests.
type Option func(*Dispatcher)

// WithSchedule replaces the retry delays.
func WithSchedule(schedule []time.Duration) Option {
	return func(d *Dispatcher) { d.schedule = schedule }
}

// WithClient replaces the HTTP client.
func WithClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

func NewDispatcher(st storage.Storage, logger formforge.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    make(chan delivery, defaultQueueSize),
		client:   &http.Client{Timeout: requestTimeout},
		storage:  st,
		logger:   logger,
		schedule: defaultSchedule,
		jitter:   jitter20,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < defaultWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func jitter20(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	span := float64(base) * 0.2
	return base + time.Duration((rand.Float64()*2-1)*span)
}

// Enqueue fans a response event out to the form's matching active
// subscriptions. A full queue drops the delivery with a log line
// rather than blocking the request path.
func (d *Dispatcher) Enqueue(form *storage.Form, event formforge.WebhookEvent, resp *storage.FormResponse) {
	payload := Payload{
		Event:      event,
		FormID:     form.ID,
		FormTitle:  form.Title,
		ResponseID: resp.ID,
		Timestamp:  time.Now().UTC(),
		Data:       resp.Data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode webhook payload", "form_id", form.ID, "error", err)
		return
	}

	for _, hook := range form.Webhooks {
		if !hook.Active || !subscribed(hook.Events, event) {
			continue
		}
		del := delivery{
			url:    hook.URL,
			secret: hook.Secret,
			body:   body,
			event:  event,
			formID: form.ID,
			respID: resp.ID,
		}
		select {
		case d.queue <- del:
		default:
			d.logger.Error("webhook queue full, dropping delivery", "url", hook.URL, "form_id", form.ID)
		}
	}
}

func subscribed(events []string, event formforge.WebhookEvent) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == string(event) || e == "*" {
			return true
		}
	}
	return false
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	close(d.closed)
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.queue {
		d.deliver(del)
	}
}

// Sign computes the hex HMAC-SHA256 signature for a body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(del delivery) {
	var lastErr error
	for attempt, delay := range d.schedule {
		if delay > 0 {
			select {
			case <-time.After(d.jitter(delay)):
			case <-d.closed:
				d.deadLetter(del, fmt.Errorf("dispatcher shut down: %w", lastErr))
				return
			}
		}

		retryable, err := d.attempt(del)
		if err == nil {
			d.logger.Info("webhook delivered", "url", del.url, "event", del.event, "attempts", attempt+1)
			return
		}
		lastErr = err
		if !retryable {
			d.deadLetter(del, err)
			return
		}
		d.logger.Warn("webhook attempt failed", "url", del.url, "attempt", attempt+1, "error", err)
	}
	d.deadLetter(del, lastErr)
}

// attempt posts once. Network failures, 5xx, 408 and 429 are
// retryable; any other non-2xx status is a permanent failure.
func (d *Dispatcher) attempt(del delivery) (bool, error) {
	req, err := http.NewRequest(http.MethodPost, del.url, bytes.NewReader(del.body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(del.secret, del.body))
	req.Header.Set("X-Form-Event", string(del.event))

	resp, err := d.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return true, err
	}
	return false, err
}

func (d *Dispatcher) deadLetter(del delivery, cause error) {
	d.logger.Error("webhook delivery dead-lettered", "url", del.url, "event", del.event, "error", cause)
	if d.storage == nil {
		return
	}
	entry := storage.AuditLog{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		Level:      "error",
		Message:    fmt.Sprintf("webhook delivery to %s failed permanently: %v", del.url, cause),
		Action:     "webhook_dead_letter",
		EntityID:   del.respID,
		EntityType: "response",
		Data:       string(del.body),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.storage.CreateAuditLog(ctx, entry); err != nil {
		d.logger.Error("failed to record dead letter", "url", del.url, "error", err)
	}
}
