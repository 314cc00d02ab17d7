package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
	"github.com/jcarrillo/ticketera/internal/emitter"
)

// MockEmitter is a scripted event emitter for handler tests.
type MockEmitter struct {
	ticket  *db.Ticket
	comment *db.Comment
	ann     *db.Announcement
	receipt *emitter.Receipt
	err     error

	assignCalled   bool
	closeCalled    bool
	commentCalled  bool
	announceCalled bool
}

func (m *MockEmitter) AssignTicket(ctx context.Context, ticketID string, agentID uuid.UUID) (*db.Ticket, *db.Comment, *emitter.Receipt, error) {
	m.assignCalled = true
	if m.err != nil {
		return nil, nil, nil, m.err
	}
	return m.ticket, m.comment, m.receipt, nil
}

func (m *MockEmitter) CloseTicket(ctx context.Context, ticketID string) (*db.Ticket, *emitter.Receipt, error) {
	m.closeCalled = true
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.ticket, m.receipt, nil
}

func (m *MockEmitter) AddComment(ctx context.Context, ticketID string, authorID uuid.UUID, content string) (*db.Comment, *emitter.Receipt, error) {
	m.commentCalled = true
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.comment, m.receipt, nil
}

func (m *MockEmitter) CreateAnnouncement(ctx context.Context, groupID, teacherID uuid.UUID, title, content string, pinned bool) (*db.Announcement, *emitter.Receipt, error) {
	m.announceCalled = true
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.ann, m.receipt, nil
}

// MockStore is a scripted notification store.
type MockStore struct {
	pending []*db.PendingNotification
	updated *db.Notification
	err     error
}

func (m *MockStore) ListPending(ctx context.Context) ([]*db.PendingNotification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.pending, nil
}

func (m *MockStore) UpdateStatus(ctx context.Context, id, userID uuid.UUID, status db.NotificationStatus) (*db.Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.updated, nil
}

func newTestRouter(em EventEmitter, store NotificationStore) *chi.Mux {
	h := NewHandler(zap.NewNop(), em, store)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestAssignTicket_Success(t *testing.T) {
	agentID := uuid.New()
	em := &MockEmitter{
		ticket:  &db.Ticket{ID: "REQ-001", Category: "soporte", UserID: uuid.New(), AssignID: &agentID, Status: db.TicketOpen},
		comment: &db.Comment{ID: uuid.New(), TicketID: "REQ-001", UserID: agentID},
		receipt: &emitter.Receipt{Status: emitter.AggregateQueued, FailedRecipients: []uuid.UUID{}},
	}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]string{"assign_id": agentID.String()})
	req := httptest.NewRequest("POST", "/v1/tickets/REQ-001/assign", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !em.assignCalled {
		t.Fatal("expected emitter to be called")
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp["notification_status"] != "queued" {
		t.Errorf("expected notification_status queued, got %v", resp["notification_status"])
	}
	if resp["id"] != "REQ-001" {
		t.Errorf("expected ticket id in response, got %v", resp["id"])
	}
}

func TestAssignTicket_InvalidAgentID(t *testing.T) {
	em := &MockEmitter{}
	router := newTestRouter(em, &MockStore{})

	req := httptest.NewRequest("POST", "/v1/tickets/REQ-001/assign", bytes.NewReader([]byte(`{"assign_id":"not-a-uuid"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if em.assignCalled {
		t.Fatal("emitter must not be called on invalid input")
	}
}

func TestAssignTicket_NotFound(t *testing.T) {
	em := &MockEmitter{err: db.ErrNotFound}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]string{"assign_id": uuid.NewString()})
	req := httptest.NewRequest("POST", "/v1/tickets/NOPE/assign", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %s", ct)
	}
}

func TestCloseTicket_BrokerDown_StillCommits(t *testing.T) {
	// A failed publish is reported in the receipt, not as an HTTP error.
	em := &MockEmitter{
		ticket:  &db.Ticket{ID: "REQ-002", Status: db.TicketClosed},
		receipt: &emitter.Receipt{Status: emitter.AggregateFailed, FailedRecipients: []uuid.UUID{uuid.New()}},
	}
	router := newTestRouter(em, &MockStore{})

	req := httptest.NewRequest("POST", "/v1/tickets/REQ-002/close", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["notification_status"] != "failed" {
		t.Errorf("expected notification_status failed, got %v", resp["notification_status"])
	}
	if resp["status"] != db.TicketClosed {
		t.Errorf("expected closed ticket in response, got %v", resp["status"])
	}
	failures, ok := resp["failed_notifications"].([]any)
	if !ok || len(failures) != 1 {
		t.Errorf("expected 1 failed notification, got %v", resp["failed_notifications"])
	}
}

func TestAddComment_Forbidden(t *testing.T) {
	em := &MockEmitter{err: db.ErrNotAuthorized}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]string{"user_id": uuid.NewString(), "content": "hola"})
	req := httptest.NewRequest("POST", "/v1/tickets/REQ-003/comments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAddComment_ClosedTicket(t *testing.T) {
	em := &MockEmitter{err: db.ErrTicketClosed}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]string{"user_id": uuid.NewString(), "content": "hola"})
	req := httptest.NewRequest("POST", "/v1/tickets/REQ-003/comments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAddComment_MissingContent(t *testing.T) {
	em := &MockEmitter{}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]string{"user_id": uuid.NewString()})
	req := httptest.NewRequest("POST", "/v1/tickets/REQ-003/comments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateAnnouncement_EmptyGroupIsQueued(t *testing.T) {
	em := &MockEmitter{
		ann:     &db.Announcement{ID: uuid.New(), Title: "Examen"},
		receipt: &emitter.Receipt{Status: emitter.AggregateQueued, FailedRecipients: []uuid.UUID{}},
	}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]any{
		"teacher_id": uuid.NewString(),
		"title":      "Examen",
		"content":    "El examen es el viernes",
	})
	req := httptest.NewRequest("POST", "/v1/groups/"+uuid.NewString()+"/announcements", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["notification_status"] != "queued" {
		t.Errorf("expected notification_status queued, got %v", resp["notification_status"])
	}
}

func TestCreateAnnouncement_NotTheTeacher(t *testing.T) {
	em := &MockEmitter{err: db.ErrNotAuthorized}
	router := newTestRouter(em, &MockStore{})

	body, _ := json.Marshal(map[string]any{
		"teacher_id": uuid.NewString(),
		"title":      "Examen",
		"content":    "contenido",
	})
	req := httptest.NewRequest("POST", "/v1/groups/"+uuid.NewString()+"/announcements", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestListPendingNotifications(t *testing.T) {
	store := &MockStore{
		pending: []*db.PendingNotification{
			{
				Notification: db.Notification{ID: uuid.New(), Message: "hola", Status: db.StatusPending},
				UserName:     "maria",
				Phone:        "+50211111111",
			},
		},
	}
	router := newTestRouter(&MockEmitter{}, store)

	req := httptest.NewRequest("GET", "/v1/notifications/pending", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count         int                       `json:"count"`
		Notifications []*db.PendingNotification `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}
	if resp.Notifications[0].UserName != "maria" {
		t.Errorf("expected recipient contact info in listing")
	}
}

func TestUpdateNotificationStatus_IllegalTransition(t *testing.T) {
	store := &MockStore{err: db.ErrIllegalTransition}
	router := newTestRouter(&MockEmitter{}, store)

	body, _ := json.Marshal(map[string]string{"user_id": uuid.NewString(), "status": "read"})
	req := httptest.NewRequest("POST", "/v1/notifications/"+uuid.NewString()+"/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateNotificationStatus_WrongOwner(t *testing.T) {
	store := &MockStore{err: db.ErrNotFound}
	router := newTestRouter(&MockEmitter{}, store)

	body, _ := json.Marshal(map[string]string{"user_id": uuid.NewString(), "status": "read"})
	req := httptest.NewRequest("POST", "/v1/notifications/"+uuid.NewString()+"/status", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
