package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
)

type stubPublisher struct {
	calls   int
	refuse  map[uuid.UUID]bool // recipients whose publish fails
	failAll bool
}

func (s *stubPublisher) Publish(ctx context.Context, userID uuid.UUID, message string, typ db.NotificationType, extraInfo json.RawMessage) bool {
	s.calls++
	if s.failAll {
		return false
	}
	return !s.refuse[userID]
}

type stubCreator struct {
	created  []*db.Notification
	queriers []db.Querier
	err      error
}

func (s *stubCreator) Create(ctx context.Context, q db.Querier, n *db.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, n)
	s.queriers = append(s.queriers, q)
	return nil
}

func newTestEmitter(pub *stubPublisher, store *stubCreator) *Emitter {
	return New(nil, store, pub, zap.NewNop())
}

func mkTargets(phones ...string) []target {
	targets := make([]target, len(phones))
	for i, p := range phones {
		targets[i] = target{
			userID:    uuid.New(),
			userName:  "user",
			phone:     p,
			extraInfo: json.RawMessage(`{"phone":"` + p + `"}`),
		}
	}
	return targets
}

func TestFanOut_AllQueued(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	targets := mkTargets("+50211111111", "+50222222222")
	receipt, err := e.fanOut(context.Background(), nil, db.TypeGroup, "hola", targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.Status != AggregateQueued {
		t.Errorf("expected queued, got %s", receipt.Status)
	}
	if len(receipt.FailedRecipients) != 0 {
		t.Errorf("expected no failures, got %v", receipt.FailedRecipients)
	}
	if pub.calls != 2 {
		t.Errorf("expected 2 publishes, got %d", pub.calls)
	}
	if len(store.created) != 2 {
		t.Fatalf("expected 2 notification rows, got %d", len(store.created))
	}
	for _, n := range store.created {
		if n.Status != db.StatusQueued {
			t.Errorf("expected queued row, got %s", n.Status)
		}
	}
}

func TestFanOut_BrokerDown_AllFailed(t *testing.T) {
	pub := &stubPublisher{failAll: true}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	targets := mkTargets("+50211111111")
	receipt, err := e.fanOut(context.Background(), nil, db.TypeTicket, "hola", targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.Status != AggregateFailed {
		t.Errorf("expected failed, got %s", receipt.Status)
	}
	if len(receipt.FailedRecipients) != 1 {
		t.Fatalf("expected 1 failed recipient, got %d", len(receipt.FailedRecipients))
	}

	// The row still gets written: publish failure never vetoes the commit.
	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification row, got %d", len(store.created))
	}
	if store.created[0].Status != db.StatusFailed {
		t.Errorf("expected failed row, got %s", store.created[0].Status)
	}
}

func TestFanOut_PartialFailure(t *testing.T) {
	targets := mkTargets("+50211111111", "+50222222222", "+50233333333")
	pub := &stubPublisher{refuse: map[uuid.UUID]bool{targets[1].userID: true}}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	receipt, err := e.fanOut(context.Background(), nil, db.TypeGroup, "hola", targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.Status != AggregatePartial {
		t.Errorf("expected partial, got %s", receipt.Status)
	}
	if len(receipt.FailedRecipients) != 1 || receipt.FailedRecipients[0] != targets[1].userID {
		t.Errorf("expected failed recipient %s, got %v", targets[1].userID, receipt.FailedRecipients)
	}
}

func TestFanOut_NoContactIsSoftFailure(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	targets := mkTargets("", "+50222222222")
	receipt, err := e.fanOut(context.Background(), nil, db.TypeGroup, "hola", targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receipt.Status != AggregatePartial {
		t.Errorf("expected partial, got %s", receipt.Status)
	}
	// No publish attempt for the recipient with no contact channel.
	if pub.calls != 1 {
		t.Errorf("expected 1 publish, got %d", pub.calls)
	}
	if len(store.created) != 2 {
		t.Fatalf("expected both rows recorded, got %d", len(store.created))
	}
	if store.created[0].Status != db.StatusFailed {
		t.Errorf("unreachable recipient should be recorded failed, got %s", store.created[0].Status)
	}
}

func TestFanOut_EmailOnlyRecipientIsPublished(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	targets := []target{{
		userID:    uuid.New(),
		userName:  "user",
		email:     "user@example.gt",
		extraInfo: json.RawMessage(`{"email":"user@example.gt"}`),
	}}
	receipt, err := e.fanOut(context.Background(), nil, db.TypeTicket, "hola", targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An email address alone is a deliverable route; the worker falls
	// back to email when the payload has no phone.
	if pub.calls != 1 {
		t.Errorf("expected 1 publish, got %d", pub.calls)
	}
	if receipt.Status != AggregateQueued {
		t.Errorf("expected queued, got %s", receipt.Status)
	}
	if len(store.created) != 1 || store.created[0].Status != db.StatusQueued {
		t.Fatalf("expected one queued row, got %+v", store.created)
	}
}

func TestFanOut_ZeroRecipients(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := newTestEmitter(pub, store)

	receipt, err := e.fanOut(context.Background(), nil, db.TypeGroup, "hola", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Status != AggregateQueued {
		t.Errorf("empty fan-out should aggregate to queued, got %s", receipt.Status)
	}
	if receipt.FailedRecipients == nil || len(receipt.FailedRecipients) != 0 {
		t.Errorf("expected empty failure list, got %v", receipt.FailedRecipients)
	}
	if pub.calls != 0 {
		t.Errorf("expected no publishes, got %d", pub.calls)
	}
}

func TestFanOut_StoreErrorIsFatal(t *testing.T) {
	pub := &stubPublisher{}
	store := &stubCreator{err: context.DeadlineExceeded}
	e := newTestEmitter(pub, store)

	if _, err := e.fanOut(context.Background(), nil, db.TypeGroup, "hola", mkTargets("+502")); err == nil {
		t.Fatal("store failure must abort the event")
	}
}

// scriptedRow hands Scan to a closure so transaction fakes can fill in
// whatever the query under test selects.
type scriptedRow struct {
	scan func(dest ...any) error
}

func (r scriptedRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeTx scripts the QueryRow results of one transaction in call order.
type fakeTx struct {
	pgx.Tx
	rows       []scriptedRow
	committed  bool
	rolledBack bool
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(t.rows) == 0 {
		return scriptedRow{scan: func(...any) error { return pgx.ErrNoRows }}
	}
	row := t.rows[0]
	t.rows = t.rows[1:]
	return row
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx *fakeTx
}

func (f *fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) { return f.tx, nil }

func errRow(err error) scriptedRow {
	return scriptedRow{scan: func(...any) error { return err }}
}

func userRow(id uuid.UUID, name, email, phone, role string) scriptedRow {
	return scriptedRow{scan: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = id
		*dest[1].(*string) = name
		*dest[2].(*string) = email
		*dest[3].(*string) = phone
		*dest[4].(*string) = role
		return nil
	}}
}

func ticketRow(tk db.Ticket) scriptedRow {
	return scriptedRow{scan: func(dest ...any) error {
		*dest[0].(*string) = tk.ID
		*dest[1].(*string) = tk.Category
		*dest[2].(**string) = tk.SubCategory
		*dest[3].(*string) = tk.Description
		*dest[4].(*uuid.UUID) = tk.UserID
		*dest[5].(**uuid.UUID) = tk.AssignID
		*dest[6].(*string) = tk.Status
		*dest[7].(*string) = tk.Priority
		*dest[8].(*time.Time) = tk.CreatedAt
		*dest[9].(*time.Time) = tk.UpdatedAt
		*dest[10].(**time.Time) = tk.ClosedAt
		return nil
	}}
}

func stampRow() scriptedRow {
	return scriptedRow{scan: func(dest ...any) error {
		*dest[0].(*time.Time) = time.Now()
		return nil
	}}
}

func TestAssignTicket_UnknownAgentRollsBack(t *testing.T) {
	tx := &fakeTx{rows: []scriptedRow{errRow(pgx.ErrNoRows)}}
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := New(&fakeBeginner{tx: tx}, store, pub, zap.NewNop())

	_, _, _, err := e.AssignTicket(context.Background(), "REQ-404", uuid.New())
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if pub.calls != 0 {
		t.Errorf("no publish may happen when the mutation fails, got %d", pub.calls)
	}
	if len(store.created) != 0 {
		t.Errorf("no notification rows may be written, got %d", len(store.created))
	}
	if tx.committed {
		t.Error("transaction must not commit")
	}
	if !tx.rolledBack {
		t.Error("transaction must roll back")
	}
}

func TestCloseTicket_UnknownTicketRollsBack(t *testing.T) {
	tx := &fakeTx{rows: []scriptedRow{errRow(pgx.ErrNoRows)}}
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := New(&fakeBeginner{tx: tx}, store, pub, zap.NewNop())

	_, _, err := e.CloseTicket(context.Background(), "REQ-404")
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if pub.calls != 0 || len(store.created) != 0 {
		t.Errorf("failed mutation must not dispatch: %d publishes, %d rows", pub.calls, len(store.created))
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("expected rollback without commit, committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestAddComment_ClosedTicketRollsBack(t *testing.T) {
	owner := uuid.New()
	author := uuid.New()
	tx := &fakeTx{rows: []scriptedRow{
		ticketRow(db.Ticket{ID: "REQ-001", Category: "soporte", Description: "sin red", UserID: owner, Status: db.TicketClosed, Priority: "medium"}),
		userRow(author, "Juan", "juan@example.gt", "+50211111111", db.RoleUser),
	}}
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := New(&fakeBeginner{tx: tx}, store, pub, zap.NewNop())

	_, _, err := e.AddComment(context.Background(), "REQ-001", author, "sigue igual")
	if !errors.Is(err, db.ErrTicketClosed) {
		t.Fatalf("expected ErrTicketClosed, got %v", err)
	}
	if pub.calls != 0 || len(store.created) != 0 {
		t.Errorf("rejected comment must not dispatch: %d publishes, %d rows", pub.calls, len(store.created))
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("expected rollback without commit, committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestAddComment_StaffAuthorCommitsWithNotification(t *testing.T) {
	owner := uuid.New()
	agent := uuid.New()
	assignee := agent
	tx := &fakeTx{rows: []scriptedRow{
		ticketRow(db.Ticket{ID: "REQ-002", Category: "soporte", Description: "sin red", UserID: owner, AssignID: &assignee, Status: db.TicketOpen, Priority: "medium"}),
		userRow(agent, "Maria", "maria@example.gt", "", db.RoleAdmin),
		stampRow(), // comment insert
		userRow(owner, "Juan", "juan@example.gt", "+50212345678", db.RoleUser),
	}}
	pub := &stubPublisher{}
	store := &stubCreator{}
	e := New(&fakeBeginner{tx: tx}, store, pub, zap.NewNop())

	comment, receipt, err := e.AddComment(context.Background(), "REQ-002", agent, "revisado")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comment.Content != "revisado" {
		t.Errorf("unexpected comment content %q", comment.Content)
	}
	if pub.calls != 1 {
		t.Errorf("expected 1 publish to the owner, got %d", pub.calls)
	}
	if receipt.Status != AggregateQueued {
		t.Errorf("expected queued, got %s", receipt.Status)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification row, got %d", len(store.created))
	}
	// The intent row must be written inside the event's own transaction.
	if store.queriers[0] != db.Querier(tx) {
		t.Error("notification row written outside the event transaction")
	}
	if !tx.committed {
		t.Error("transaction must commit")
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		failed int
		want   AggregateStatus
	}{
		{"all ok", 3, 0, AggregateQueued},
		{"none", 0, 0, AggregateQueued},
		{"some failed", 3, 1, AggregatePartial},
		{"all failed", 2, 2, AggregateFailed},
		{"single failed", 1, 1, AggregateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregate(tt.total, tt.failed); got != tt.want {
				t.Errorf("aggregate(%d, %d) = %s, want %s", tt.total, tt.failed, got, tt.want)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	if got := assignMessage("REQ-001", "Maria"); !strings.HasPrefix(got, "Tu ticket #REQ-001 ha sido asignado a Maria") {
		t.Errorf("unexpected assign message: %q", got)
	}

	sub := "hardware"
	ticket := &db.Ticket{ID: "REQ-002", Category: "soporte", SubCategory: &sub}
	if got := closeMessage(ticket); got != "Ticket #REQ-002 (soporte/hardware) se cerro." {
		t.Errorf("unexpected close message: %q", got)
	}

	ticket.SubCategory = nil
	if got := closeMessage(ticket); got != "Ticket #REQ-002 (soporte/) se cerro." {
		t.Errorf("unexpected close message without subcategory: %q", got)
	}

	if got := commentMessage("REQ-003", "Juan", "revisado"); got != "Nuevo comentario en tu ticket #REQ-003: Juan \nrevisado" {
		t.Errorf("unexpected comment message: %q", got)
	}

	got := announcementMessage("Redes I", "Examen", "El examen es el viernes")
	if !strings.Contains(got, "Nuevo anuncio en Redes I:") || !strings.Contains(got, "Examen") {
		t.Errorf("unexpected announcement message: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("corto", 100); got != "corto" {
		t.Errorf("short strings pass through, got %q", got)
	}

	long := strings.Repeat("a", 150)
	got := truncate(long, 100)
	if len([]rune(got)) != 103 {
		t.Errorf("expected 100 chars plus ellipsis, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
}

func TestCanAnnounce(t *testing.T) {
	teacherID := uuid.New()
	group := &db.Group{ID: uuid.New(), Name: "Redes I", TeacherID: teacherID}

	tests := []struct {
		name string
		user *db.User
		want bool
	}{
		{"owning teacher", &db.User{ID: teacherID, UserRole: db.RoleTeacher}, true},
		{"other teacher", &db.User{ID: uuid.New(), UserRole: db.RoleTeacher}, false},
		{"admin", &db.User{ID: uuid.New(), UserRole: db.RoleAdmin}, true},
		{"regular user", &db.User{ID: teacherID, UserRole: db.RoleUser}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canAnnounce(tt.user, group); got != tt.want {
				t.Errorf("canAnnounce = %v, want %v", got, tt.want)
			}
		})
	}
}
