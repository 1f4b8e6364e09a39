package notification

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/internal/storage/memory"
	"github.com/user/formforge/pkg/logging"
)

type fakeGateway struct {
	mu    sync.Mutex
	sent  []string
	htmls []string
}

func (f *fakeGateway) Send(_ context.Context, to []string, subject, _, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to[0]+"|"+subject)
	f.htmls = append(f.htmls, html)
	return nil
}

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSubmissionReceived(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, memory.New(), logging.NewDefaultLogger(), "https://forms.example.dev")

	form := &storage.Form{ID: "f1", Title: "Intake", NotificationEmails: []string{"ops@example.dev"}}
	resp := &storage.FormResponse{ID: "r1", SubmittedBy: "u1", SubmittedAt: time.Now()}
	svc.SubmissionReceived(form, resp)
	svc.Close()

	if gw.count() != 1 {
		t.Fatalf("sent = %d, want 1", gw.count())
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	html := gw.htmls[0]
	if !strings.Contains(html, "<h3>New submission on Intake</h3>") {
		t.Errorf("html = %q, want heading with the form title", html)
	}
	if !strings.Contains(html, `<a href="https://forms.example.dev/forms/f1/responses/r1">`) {
		t.Errorf("html = %q, want detail link as anchor", html)
	}
}

func TestNoRecipientsNoSend(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, memory.New(), logging.NewDefaultLogger(), "")

	svc.SubmissionReceived(&storage.Form{ID: "f1", Title: "Intake"}, &storage.FormResponse{ID: "r1"})
	svc.Close()
	if gw.count() != 0 {
		t.Errorf("sent = %d, want 0", gw.count())
	}
}

func TestStatusChangedResolvesSubmitterEmail(t *testing.T) {
	gw := &fakeGateway{}
	st := memory.New()
	st.CreateUser(context.Background(), storage.User{ID: "u1", Username: "alice", Email: "alice@example.dev"})
	svc := NewService(gw, st, logging.NewDefaultLogger(), "")

	form := &storage.Form{ID: "f1", Title: "Intake"}
	resp := &storage.FormResponse{ID: "r1", SubmittedBy: "u1"}
	svc.StatusChanged(context.Background(), form, resp, storage.StatusPending, storage.StatusApproved)
	svc.Close()

	if gw.count() != 1 {
		t.Fatalf("sent = %d, want 1", gw.count())
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.sent[0][:len("alice@example.dev")] != "alice@example.dev" {
		t.Errorf("recipient = %q", gw.sent[0])
	}
	if !strings.Contains(gw.htmls[0], "<p>") {
		t.Errorf("html = %q, want an HTML alternative", gw.htmls[0])
	}
}

func TestDuplicateNotificationsDeduped(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, memory.New(), logging.NewDefaultLogger(), "")

	form := &storage.Form{ID: "f1", Title: "Intake", NotificationEmails: []string{"ops@example.dev"}}
	resp := &storage.FormResponse{ID: "r1", SubmittedBy: "u1", SubmittedAt: time.Now()}
	svc.SubmissionReceived(form, resp)
	svc.SubmissionReceived(form, resp)
	svc.Close()

	if gw.count() != 1 {
		t.Errorf("sent = %d, want duplicate within window suppressed", gw.count())
	}
}

func TestNotifyUserAcceptsLiteralEmail(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, memory.New(), logging.NewDefaultLogger(), "")

	if err := svc.NotifyUser(context.Background(), "direct@example.dev", "Subj", "Body"); err != nil {
		t.Fatal(err)
	}
	svc.Close()
	if gw.count() != 1 {
		t.Errorf("sent = %d, want 1", gw.count())
	}
}
