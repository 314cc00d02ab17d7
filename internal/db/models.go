package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType tags the business event that produced a notification.
type NotificationType string

const (
	TypeAssignment NotificationType = "assignment"
	TypeTicket     NotificationType = "ticket"
	TypeComment    NotificationType = "comment"
	TypeGroup      NotificationType = "group"
)

// NotificationStatus is the delivery lifecycle of a notification row.
//
// Legal transitions:
//
//	pending -> queued   publish confirmed by the broker
//	pending -> failed   publish failed (retry is an external concern)
//	queued  -> read     acknowledged by the recipient
type NotificationStatus string

const (
	StatusPending NotificationStatus = "pending"
	StatusQueued  NotificationStatus = "queued"
	StatusFailed  NotificationStatus = "failed"
	StatusRead    NotificationStatus = "read"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s NotificationStatus) bool {
	switch s {
	case StatusPending, StatusQueued, StatusFailed, StatusRead:
		return true
	}
	return false
}

// legalTransition reports whether a row may move from -> to.
func legalTransition(from, to NotificationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusQueued || to == StatusFailed
	case StatusQueued:
		return to == StatusRead
	}
	return false
}

// Notification represents one unit of outbound communication recorded
// alongside the business mutation that caused it.
type Notification struct {
	ID        uuid.UUID          `json:"id"`
	UserID    uuid.UUID          `json:"user_id"`
	Message   string             `json:"message"`
	Type      NotificationType   `json:"type"`
	Status    NotificationStatus `json:"status"`
	ExtraInfo json.RawMessage    `json:"extra_info,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// PendingNotification is a pending row joined with the recipient's contact
// info, the shape handed to downstream delivery workers.
type PendingNotification struct {
	Notification
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	UserRole string `json:"user_role"`
}

// Ticket mirrors the tickets table. Ticket ids are caller-supplied case
// numbers, not UUIDs.
type Ticket struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	SubCategory *string    `json:"sub_category,omitempty"`
	Description string     `json:"description"`
	UserID      uuid.UUID  `json:"user_id"`
	AssignID    *uuid.UUID `json:"assign_id,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// Ticket states
const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

// Comment is one entry in a ticket's conversation.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	TicketID  string    `json:"ticket_id"`
	UserID    uuid.UUID `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Announcement is a teacher broadcast to a group.
type Announcement struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	TeacherID uuid.UUID `json:"teacher_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the directory record used to resolve recipients.
type User struct {
	ID       uuid.UUID `json:"id"`
	UserName string    `json:"user_name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	UserRole string    `json:"user_role"`
}

// User roles
const (
	RoleUser      = "user"
	RoleTeacher   = "teacher"
	RoleAdmin     = "admin"
	RoleSuperUser = "super-user"
)

// IsStaff reports whether the user handles tickets (admin or support).
func (u *User) IsStaff() bool {
	return u.UserRole == RoleAdmin || u.UserRole == RoleSuperUser
}

// Group is a teacher-owned membership group.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TeacherID uuid.UUID `json:"teacher_id"`
}

// Recipient is the minimal contact projection resolved during fan-out.
type Recipient struct {
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
}
