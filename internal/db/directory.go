package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Directory lookups used by the emitter while composing notifications.
// All take a Querier so reads happen in the same snapshot as the mutation.

// GetUser fetches one user record.
func GetUser(ctx context.Context, q Querier, id uuid.UUID) (*User, error) {
	var u User
	err := q.QueryRow(ctx,
		`SELECT id, user_name, email, phone, user_role FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.UserName, &u.Email, &u.Phone, &u.UserRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// GetTicket fetches one ticket row.
func GetTicket(ctx context.Context, q Querier, id string) (*Ticket, error) {
	var t Ticket
	err := q.QueryRow(ctx,
		`SELECT id, category, sub_category, description, user_id, assign_id,
		        status, priority, created_at, updated_at, closed_at
		 FROM tickets WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Category, &t.SubCategory, &t.Description, &t.UserID,
		&t.AssignID, &t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt, &t.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	return &t, nil
}

// GetGroup fetches one group row.
func GetGroup(ctx context.Context, q Querier, id uuid.UUID) (*Group, error) {
	var g Group
	err := q.QueryRow(ctx,
		`SELECT id, name, teacher_id FROM groups WHERE id = $1`,
		id,
	).Scan(&g.ID, &g.Name, &g.TeacherID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return &g, nil
}

// GroupMembers resolves the full membership of a group with contact info.
// An empty group returns an empty slice, not an error.
func GroupMembers(ctx context.Context, q Querier, groupID uuid.UUID) ([]Recipient, error) {
	rows, err := q.Query(ctx,
		`SELECT ug.user_id, u.user_name, u.email, u.phone
		 FROM user_groups ug
		 JOIN users u ON ug.user_id = u.id
		 WHERE ug.group_id = $1`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	members := []Recipient{}
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.UserID, &r.UserName, &r.Email, &r.Phone); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return members, nil
}
