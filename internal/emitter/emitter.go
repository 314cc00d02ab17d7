// Package emitter couples business mutations to notification dispatch.
// Each event runs as one database transaction: the mutation and the
// notification rows commit together, while broker publishes happen inside
// the transaction window but never veto the commit. A failed publish is
// recorded as a failed notification, not a failed request.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jcarrillo/ticketera/internal/db"
	"github.com/jcarrillo/ticketera/internal/metrics"
)

// Publisher sends one notification payload to the broker. The boolean is
// the whole contract: true means the broker confirmed a routable, durable
// message.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, message string, typ db.NotificationType, extraInfo json.RawMessage) bool
}

// NotificationCreator records one notification row, joining the caller's
// transaction through the Querier.
type NotificationCreator interface {
	Create(ctx context.Context, q db.Querier, n *db.Notification) error
}

// TxBeginner starts the transaction each event runs in. *db.DB satisfies
// it; tests substitute a scripted transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AggregateStatus summarizes the publish outcome of one event across all
// its recipients.
type AggregateStatus string

const (
	AggregateQueued  AggregateStatus = "queued"
	AggregatePartial AggregateStatus = "partial"
	AggregateFailed  AggregateStatus = "failed"
)

// Receipt is the dispatch outcome attached to event responses.
type Receipt struct {
	Status           AggregateStatus `json:"notification_status"`
	FailedRecipients []uuid.UUID     `json:"failed_notifications,omitempty"`
}

// Emitter is the transactional event emitter. All four entry points follow
// the same shape: begin, mutate, resolve recipients in the same snapshot,
// fan out, commit.
type Emitter struct {
	db     TxBeginner
	store  NotificationCreator
	pub    Publisher
	logger *zap.Logger
}

// New creates an emitter over the given pool, store and publisher.
func New(database TxBeginner, store NotificationCreator, pub Publisher, logger *zap.Logger) *Emitter {
	return &Emitter{
		db:     database,
		store:  store,
		pub:    pub,
		logger: logger,
	}
}

// target is one resolved recipient with its event-specific payload.
type target struct {
	userID    uuid.UUID
	userName  string
	phone     string
	email     string
	extraInfo json.RawMessage
}

// AssignTicket assigns a ticket to an agent, records the automatic
// escalation comment authored by the agent, and notifies the ticket owner.
func (e *Emitter) AssignTicket(ctx context.Context, ticketID string, agentID uuid.UUID) (*db.Ticket, *db.Comment, *Receipt, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	agent, err := db.GetUser(ctx, tx, agentID)
	if err != nil {
		return nil, nil, nil, err
	}

	ticket, err := updateTicket(ctx, tx,
		`UPDATE tickets
		 SET assign_id = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2
		 RETURNING id, category, sub_category, description, user_id, assign_id,
		           status, priority, created_at, updated_at, closed_at`,
		agentID, ticketID,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	comment := &db.Comment{
		ID:       uuid.New(),
		TicketID: ticketID,
		UserID:   agentID,
		Content:  autoAssignComment,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO comments (id, ticket_id, user_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		comment.ID, comment.TicketID, comment.UserID, comment.Content,
	).Scan(&comment.CreatedAt)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("insert automatic comment: %w", err)
	}

	owner, err := db.GetUser(ctx, tx, ticket.UserID)
	if err != nil {
		return nil, nil, nil, err
	}

	info, err := json.Marshal(assignmentInfo{
		TicketID:    ticket.ID,
		Category:    ticket.Category,
		SubCategory: ticket.SubCategory,
		AgentName:   agent.UserName,
		Phone:       owner.Phone,
		Email:       owner.Email,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal extra info: %w", err)
	}

	receipt, err := e.fanOut(ctx, tx, db.TypeAssignment,
		assignMessage(ticket.ID, agent.UserName),
		[]target{{userID: owner.ID, userName: owner.UserName, phone: owner.Phone, email: owner.Email, extraInfo: info}},
	)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordEvent("assign_ticket", string(receipt.Status))
	e.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("agent_id", agentID.String()),
		zap.String("notification_status", string(receipt.Status)),
	)

	return ticket, comment, receipt, nil
}

// CloseTicket closes a ticket and notifies its owner.
func (e *Emitter) CloseTicket(ctx context.Context, ticketID string) (*db.Ticket, *Receipt, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ticket, err := updateTicket(ctx, tx,
		`UPDATE tickets
		 SET status = 'closed', closed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1
		 RETURNING id, category, sub_category, description, user_id, assign_id,
		           status, priority, created_at, updated_at, closed_at`,
		ticketID,
	)
	if err != nil {
		return nil, nil, err
	}

	owner, err := db.GetUser(ctx, tx, ticket.UserID)
	if err != nil {
		return nil, nil, err
	}

	info, err := json.Marshal(closeInfo{
		TicketID:    ticket.ID,
		Category:    ticket.Category,
		SubCategory: ticket.SubCategory,
		Phone:       owner.Phone,
		Email:       owner.Email,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal extra info: %w", err)
	}

	receipt, err := e.fanOut(ctx, tx, db.TypeTicket,
		closeMessage(ticket),
		[]target{{userID: owner.ID, userName: owner.UserName, phone: owner.Phone, email: owner.Email, extraInfo: info}},
	)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordEvent("close_ticket", string(receipt.Status))
	e.logger.Info("ticket closed",
		zap.String("ticket_id", ticket.ID),
		zap.String("notification_status", string(receipt.Status)),
	)

	return ticket, receipt, nil
}

// AddComment appends a comment to a ticket's conversation. Regular users
// may only comment on open tickets; support staff only on tickets assigned
// to them. The ticket owner is notified only when the author is staff.
func (e *Emitter) AddComment(ctx context.Context, ticketID string, authorID uuid.UUID, content string) (*db.Comment, *Receipt, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ticket, err := db.GetTicket(ctx, tx, ticketID)
	if err != nil {
		return nil, nil, err
	}

	author, err := db.GetUser(ctx, tx, authorID)
	if err != nil {
		return nil, nil, err
	}

	if !author.IsStaff() && ticket.Status != db.TicketOpen {
		return nil, nil, fmt.Errorf("comment on %s ticket %s: %w", ticket.Status, ticketID, db.ErrTicketClosed)
	}
	if author.IsStaff() && (ticket.AssignID == nil || *ticket.AssignID != author.ID) {
		return nil, nil, fmt.Errorf("ticket %s is not assigned to %s: %w", ticketID, author.ID, db.ErrNotAuthorized)
	}

	comment := &db.Comment{
		ID:       uuid.New(),
		TicketID: ticketID,
		UserID:   authorID,
		Content:  content,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO comments (id, ticket_id, user_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		comment.ID, comment.TicketID, comment.UserID, comment.Content,
	).Scan(&comment.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert comment: %w", err)
	}

	// Owner-authored comments notify nobody.
	receipt := &Receipt{Status: AggregateQueued, FailedRecipients: []uuid.UUID{}}
	if author.IsStaff() {
		owner, err := db.GetUser(ctx, tx, ticket.UserID)
		if err != nil {
			return nil, nil, err
		}

		info, err := json.Marshal(commentInfo{
			TicketID:       ticket.ID,
			Category:       ticket.Category,
			SubCategory:    ticket.SubCategory,
			CommentID:      comment.ID,
			CommentContent: truncate(content, 100),
			CommentAuthor:  author.UserName,
			Phone:          owner.Phone,
			Email:          owner.Email,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("marshal extra info: %w", err)
		}

		receipt, err = e.fanOut(ctx, tx, db.TypeComment,
			commentMessage(ticket.ID, author.UserName, content),
			[]target{{userID: owner.ID, userName: owner.UserName, phone: owner.Phone, email: owner.Email, extraInfo: info}},
		)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordEvent("add_comment", string(receipt.Status))

	return comment, receipt, nil
}

// CreateAnnouncement posts a broadcast to a group and notifies every
// member. Only the group's owning teacher or an admin may post.
func (e *Emitter) CreateAnnouncement(ctx context.Context, groupID, teacherID uuid.UUID, title, content string, pinned bool) (*db.Announcement, *Receipt, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	group, err := db.GetGroup(ctx, tx, groupID)
	if err != nil {
		return nil, nil, err
	}

	teacher, err := db.GetUser(ctx, tx, teacherID)
	if err != nil {
		return nil, nil, err
	}

	if !canAnnounce(teacher, group) {
		return nil, nil, fmt.Errorf("user %s cannot announce to group %s: %w", teacherID, groupID, db.ErrNotAuthorized)
	}

	ann := &db.Announcement{
		ID:        uuid.New(),
		GroupID:   groupID,
		TeacherID: teacherID,
		Title:     title,
		Content:   content,
		IsPinned:  pinned,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO announcements (id, group_id, teacher_id, title, content, is_pinned)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		ann.ID, ann.GroupID, ann.TeacherID, ann.Title, ann.Content, ann.IsPinned,
	).Scan(&ann.CreatedAt, &ann.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert announcement: %w", err)
	}

	members, err := db.GroupMembers(ctx, tx, groupID)
	if err != nil {
		return nil, nil, err
	}

	targets := make([]target, 0, len(members))
	for _, m := range members {
		info, err := json.Marshal(announcementInfo{
			GroupID:        groupID,
			GroupName:      group.Name,
			AnnouncementID: ann.ID,
			Title:          title,
			Phone:          m.Phone,
			Email:          m.Email,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("marshal extra info: %w", err)
		}
		targets = append(targets, target{
			userID:    m.UserID,
			userName:  m.UserName,
			phone:     m.Phone,
			email:     m.Email,
			extraInfo: info,
		})
	}

	receipt, err := e.fanOut(ctx, tx, db.TypeGroup,
		announcementMessage(group.Name, title, content),
		targets,
	)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordEvent("announcement", string(receipt.Status))
	e.logger.Info("announcement created",
		zap.String("announcement_id", ann.ID.String()),
		zap.String("group_id", groupID.String()),
		zap.Int("recipients", len(targets)),
		zap.String("notification_status", string(receipt.Status)),
	)

	return ann, receipt, nil
}

// fanOut publishes to every target and records one notification row per
// recipient with its final status. A recipient with neither a phone nor
// an email is a soft failure: no publish attempt, row recorded as failed.
// The delivery worker picks the channel, SMS when a phone is present,
// email otherwise. Only a store write failure is fatal; it aborts the
// whole transaction.
func (e *Emitter) fanOut(ctx context.Context, q db.Querier, typ db.NotificationType, message string, targets []target) (*Receipt, error) {
	failed := []uuid.UUID{}

	for _, t := range targets {
		published := false
		if t.phone == "" && t.email == "" {
			e.logger.Warn("recipient has no contact channel, skipping publish",
				zap.String("user_id", t.userID.String()),
				zap.String("user_name", t.userName),
			)
		} else {
			published = e.pub.Publish(ctx, t.userID, message, typ, t.extraInfo)
		}

		status := db.StatusFailed
		if published {
			status = db.StatusQueued
		} else {
			failed = append(failed, t.userID)
		}

		n := &db.Notification{
			ID:        uuid.New(),
			UserID:    t.userID,
			Message:   message,
			Type:      typ,
			Status:    status,
			ExtraInfo: t.extraInfo,
		}
		if err := e.store.Create(ctx, q, n); err != nil {
			return nil, err
		}
	}

	return &Receipt{Status: aggregate(len(targets), len(failed)), FailedRecipients: failed}, nil
}

// aggregate folds per-recipient outcomes into the response status. Zero
// recipients is a successful no-op.
func aggregate(total, failed int) AggregateStatus {
	switch {
	case failed == 0:
		return AggregateQueued
	case failed < total:
		return AggregatePartial
	default:
		return AggregateFailed
	}
}

func canAnnounce(u *db.User, g *db.Group) bool {
	if u.UserRole == db.RoleAdmin {
		return true
	}
	return u.UserRole == db.RoleTeacher && u.ID == g.TeacherID
}

func updateTicket(ctx context.Context, q db.Querier, query string, args ...any) (*db.Ticket, error) {
	var t db.Ticket
	err := q.QueryRow(ctx, query, args...).Scan(
		&t.ID, &t.Category, &t.SubCategory, &t.Description, &t.UserID,
		&t.AssignID, &t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticket: %w", db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	return &t, nil
}
