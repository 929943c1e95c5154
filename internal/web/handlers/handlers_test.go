package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/znz-systems/solebook/internal/auth"
	"github.com/znz-systems/solebook/internal/connection"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/notification"
	"github.com/znz-systems/solebook/internal/poller"
	"github.com/znz-systems/solebook/internal/polllock"
	"github.com/znz-systems/solebook/internal/trigger"
)

// --- Stub services ---

type stubNotifications struct {
	view       notification.View
	dismissErr error
	dismissed  []models.NotificationRef
	allResult  notification.DismissAllResult
	history    []models.DismissalRecord
	lastLimit  int
}

func (s *stubNotifications) Active(_ context.Context, _ int64) (notification.View, error) {
	return s.view, nil
}

func (s *stubNotifications) Dismiss(_ context.Context, _ int64, ref models.NotificationRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.dismissed = append(s.dismissed, ref)
	return s.dismissErr
}

func (s *stubNotifications) DismissAll(_ context.Context, _ int64) notification.DismissAllResult {
	return s.allResult
}

func (s *stubNotifications) History(_ context.Context, _ int64, limit int) ([]models.DismissalRecord, error) {
	s.lastLimit = limit
	return s.history, nil
}

type stubTriggers struct {
	phrases []models.TriggerPhrase
	addErr  error
}

func (s *stubTriggers) List(_ context.Context, _ int64) ([]models.TriggerPhrase, error) {
	return s.phrases, nil
}

func (s *stubTriggers) Add(_ context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error) {
	if s.addErr != nil {
		return nil, s.addErr
	}
	t := models.TriggerPhrase{ID: uuid.New(), UserID: userID, Phrase: phrase, Label: label}
	s.phrases = append(s.phrases, t)
	return &t, nil
}

func (s *stubTriggers) Remove(_ context.Context, _ int64, id uuid.UUID) error {
	for i, p := range s.phrases {
		if p.ID == id {
			s.phrases = append(s.phrases[:i], s.phrases[i+1:]...)
			return nil
		}
	}
	return trigger.ErrTriggerNotFound
}

type stubConnections struct {
	conn      *models.EmailConnection
	upsertErr error
}

func (s *stubConnections) Get(_ context.Context, _ auth.Identity) (*models.EmailConnection, error) {
	if s.conn == nil {
		return nil, connection.ErrConnectionNotFound
	}
	return s.conn, nil
}

func (s *stubConnections) Upsert(_ context.Context, id auth.Identity, in connection.Input) (*models.EmailConnection, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.conn = &models.EmailConnection{ID: uuid.New(), UserID: id.UserID, Email: in.Email, Host: in.Host, Port: 993, SecretCredential: "sealed", IsActive: true}
	return s.conn, nil
}

func (s *stubConnections) Delete(_ context.Context, _ auth.Identity) error {
	if s.conn == nil {
		return connection.ErrConnectionNotFound
	}
	s.conn = nil
	return nil
}

type stubPoller struct {
	calls   int
	block   chan struct{}
	started chan struct{}
	err     error
}

func (s *stubPoller) Run(_ context.Context) (*poller.Result, error) {
	s.calls++
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	return &poller.Result{Checked: 2, TotalNewNotifications: 1, Connections: []poller.ConnectionResult{}}, nil
}

// --- Helpers ---

func authed(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: 1}))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- Notifications ---

func TestListNotifications(t *testing.T) {
	svc := &stubNotifications{view: notification.View{
		Items: []notification.Item{{ID: "stock:A", Kind: models.RefStock, Severity: models.SeverityHigh}},
		Count: 1,
	}}
	h := NewNotificationHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleList(rec, authed(http.MethodGet, "/api/notifications", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Items []map[string]interface{} `json:"items"`
		Count int                      `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Items[0]["id"] != "stock:A" || body.Items[0]["kind"] != "stock" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestListNotificationsEmptyIsArray(t *testing.T) {
	h := NewNotificationHandler(&stubNotifications{})

	rec := httptest.NewRecorder()
	h.HandleList(rec, authed(http.MethodGet, "/api/notifications", ""))
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", rec.Body.String())
	}
}

func TestListNotificationsRequiresIdentity(t *testing.T) {
	h := NewNotificationHandler(&stubNotifications{})

	rec := httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDismissNotification(t *testing.T) {
	svc := &stubNotifications{}
	h := NewNotificationHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleDismiss(rec, authed(http.MethodPost, "/api/notifications/dismiss", `{"kind":"listing","sourceId":"B"}`))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(svc.dismissed) != 1 || svc.dismissed[0] != (models.NotificationRef{Kind: models.RefListing, SourceID: "B"}) {
		t.Fatalf("unexpected dismissals: %+v", svc.dismissed)
	}
}

func TestDismissNotificationErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"unknown kind", `{"kind":"banner","sourceId":"A"}`, nil, http.StatusBadRequest},
		{"missing source", `{"kind":"stock"}`, nil, http.StatusBadRequest},
		{"not found", `{"kind":"stock","sourceId":"A"}`, notification.ErrNotificationNotFound, http.StatusNotFound},
		{"store down", `{"kind":"email","sourceId":"A"}`, errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewNotificationHandler(&stubNotifications{dismissErr: tc.err})
		rec := httptest.NewRecorder()
		h.HandleDismiss(rec, authed(http.MethodPost, "/api/notifications/dismiss", tc.body))
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
	}
}

func TestDismissAllStatus(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name   string
		res    notification.DismissAllResult
		status int
		errs   int
	}{
		{"both ok", notification.DismissAllResult{RulesDismissed: 2, EmailsDismissed: 3}, http.StatusOK, 0},
		{"rules failed", notification.DismissAllResult{EmailsDismissed: 3, RuleError: boom}, http.StatusMultiStatus, 1},
		{"emails failed", notification.DismissAllResult{RulesDismissed: 2, EmailError: boom}, http.StatusMultiStatus, 1},
		{"both failed", notification.DismissAllResult{RuleError: boom, EmailError: boom}, http.StatusInternalServerError, 2},
	}
	for _, tc := range cases {
		h := NewNotificationHandler(&stubNotifications{allResult: tc.res})
		rec := httptest.NewRecorder()
		h.HandleDismissAll(rec, authed(http.MethodPost, "/api/notifications/dismiss-all", ""))
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rec.Code)
		}
		var body dismissAllResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if len(body.Errors) != tc.errs {
			t.Fatalf("%s: expected %d errors, got %v", tc.name, tc.errs, body.Errors)
		}
		if body.RulesDismissed != tc.res.RulesDismissed || body.EmailsDismissed != tc.res.EmailsDismissed {
			t.Fatalf("%s: unexpected counts %+v", tc.name, body)
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := &stubNotifications{history: []models.DismissalRecord{{
		ID:              uuid.New(),
		NotificationKey: "stock-A",
		Type:            models.TypeStockReminder,
		DismissedAt:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}}}
	h := NewNotificationHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleHistory(rec, authed(http.MethodGet, "/api/notifications/history?limit=10", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastLimit != 10 {
		t.Fatalf("expected limit 10, got %d", svc.lastLimit)
	}
	if !strings.Contains(rec.Body.String(), `"notificationKey":"stock-A"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.HandleHistory(rec, authed(http.MethodGet, "/api/notifications/history?limit=abc", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- Triggers ---

func TestTriggerLifecycle(t *testing.T) {
	svc := &stubTriggers{}
	h := NewTriggerHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleCreate(rec, authed(http.MethodPost, "/api/triggers", `{"phrase":"order confirmed","label":"Orders"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created triggerView
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	h.HandleList(rec, authed(http.MethodGet, "/api/triggers", ""))
	if !strings.Contains(rec.Body.String(), "order confirmed") {
		t.Fatalf("expected phrase in list, got %s", rec.Body.String())
	}

	req := withURLParam(authed(http.MethodDelete, "/api/triggers/"+created.ID.String(), ""), "id", created.ID.String())
	rec = httptest.NewRecorder()
	h.HandleDelete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleDelete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestTriggerCreateErrors(t *testing.T) {
	for err, status := range map[error]int{
		trigger.ErrInvalidPhrase:    http.StatusBadRequest,
		trigger.ErrLabelTooLong:     http.StatusBadRequest,
		trigger.ErrDuplicateTrigger: http.StatusConflict,
	} {
		h := NewTriggerHandler(&stubTriggers{addErr: err})
		rec := httptest.NewRecorder()
		h.HandleCreate(rec, authed(http.MethodPost, "/api/triggers", `{"phrase":"x"}`))
		if rec.Code != status {
			t.Fatalf("%v: expected %d, got %d", err, status, rec.Code)
		}
	}
}

func TestTriggerDeleteBadID(t *testing.T) {
	h := NewTriggerHandler(&stubTriggers{})
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, withURLParam(authed(http.MethodDelete, "/api/triggers/nope", ""), "id", "nope"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// --- Email connection ---

func TestConnectionLifecycle(t *testing.T) {
	svc := &stubConnections{}
	h := NewConnectionHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleGet(rec, authed(http.MethodGet, "/api/email-connection", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before connect, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandlePut(rec, authed(http.MethodPut, "/api/email-connection", `{"email":"me@example.com","host":"imap.example.com","password":"hunter2"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sealed") || strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("credential leaked in response: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.HandleDelete(rec, authed(http.MethodDelete, "/api/email-connection", ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleDelete(rec, authed(http.MethodDelete, "/api/email-connection", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestConnectionPutInvalid(t *testing.T) {
	h := NewConnectionHandler(&stubConnections{upsertErr: connection.ErrInvalidConnection})
	rec := httptest.NewRecorder()
	h.HandlePut(rec, authed(http.MethodPut, "/api/email-connection", `{"email":"nope"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- Cron ---

func TestCheckEmails(t *testing.T) {
	p := &stubPoller{}
	h := NewCronHandler(p, polllock.NewLocalLocker())

	rec := httptest.NewRecorder()
	h.HandleCheckEmails(rec, httptest.NewRequest(http.MethodPost, "/api/cron/check-emails", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["checked"] != float64(2) || body["totalNewNotifications"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["perConnectionResults"]; !ok {
		t.Fatalf("missing perConnectionResults in %v", body)
	}
}

func TestCheckEmailsOverlapConflicts(t *testing.T) {
	p := &stubPoller{block: make(chan struct{}), started: make(chan struct{})}
	h := NewCronHandler(p, polllock.NewLocalLocker())

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.HandleCheckEmails(rec, httptest.NewRequest(http.MethodPost, "/api/cron/check-emails", nil))
		done <- rec.Code
	}()
	<-p.started

	rec := httptest.NewRecorder()
	h.HandleCheckEmails(rec, httptest.NewRequest(http.MethodPost, "/api/cron/check-emails", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	close(p.block)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first run 200, got %d", code)
	}
}

func TestCheckEmailsStoreFailure(t *testing.T) {
	h := NewCronHandler(&stubPoller{err: errors.New("store unreachable")}, nil)
	rec := httptest.NewRecorder()
	h.HandleCheckEmails(rec, httptest.NewRequest(http.MethodPost, "/api/cron/check-emails", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(func(context.Context) error { return nil }).HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHealthHandler(func(context.Context) error { return errors.New("down") }).HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
