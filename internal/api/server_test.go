package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/store"
)

func newTestServer(webhook http.HandlerFunc) (*Server, *messaging.MockService, *store.InMemoryStore) {
	msgs := messaging.NewMockService()
	st := store.NewInMemoryStore()
	if webhook == nil {
		webhook = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	}
	return NewServer(msgs, st, webhook), msgs, st
}

func TestWebhookAnswersOK(t *testing.T) {
	srv, _, _ := newTestServer(nil)

	form := url.Values{"From": {"whatsapp:+15551234"}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	srv.webhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("expected short status body, got %q", rec.Body.String())
	}
}

func TestWebhookPanicAnswers500(t *testing.T) {
	srv, _, _ := newTestServer(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	rec := httptest.NewRecorder()

	srv.webhookHandler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unhandled panic must answer 500, got %d", rec.Code)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	srv, _, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.webhookHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected ok status, got %v", resp["status"])
	}
}

func TestSendHandlerDeliversMessage(t *testing.T) {
	srv, msgs, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodPost, "/send",
		strings.NewReader(`{"to":"whatsapp:+15551234","body":"hi there"}`))
	rec := httptest.NewRecorder()
	srv.sendHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	sent := msgs.Sent()
	if len(sent) != 1 || sent[0].To != "+15551234" || sent[0].Body != "hi there" {
		t.Errorf("unexpected sends: %v", sent)
	}
}

func TestRemindersHandler(t *testing.T) {
	srv, _, st := newTestServer(nil)
	if err := st.AddReminder(models.Reminder{
		ID: "rem-1", To: "+15551234", Medicine: "aspirin", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/reminders?to=whatsapp:%2B15551234", nil)
	rec := httptest.NewRecorder()
	srv.remindersHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string          `json:"status"`
		Result models.Reminder `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Result.ID != "rem-1" {
		t.Errorf("expected reminder rem-1, got %q", resp.Result.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/reminders", nil)
	rec = httptest.NewRecorder()
	srv.remindersHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing 'to' should answer 400, got %d", rec.Code)
	}
}

func TestSendHandlerValidation(t *testing.T) {
	srv, _, _ := newTestServer(nil)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", "{not json"},
		{"empty body", `{"to":"+15551234","body":""}`},
		{"empty recipient", `{"to":"","body":"hi"}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		srv.sendHandler(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}
