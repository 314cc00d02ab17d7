package emitter

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/jcarrillo/ticketera/internal/db"
)

// User-facing notification texts. These are verbatim product copy; do not
// reword without the support team.

const autoAssignComment = "Recibimos tu caso, y el mismo lo escalamos a Tier 1 para su debido análisis y solución.\nPronto se contactarán contigo para brindarte una solución."

func assignMessage(ticketID, agentName string) string {
	return fmt.Sprintf("Tu ticket #%s ha sido asignado a %s\n %s", ticketID, agentName, autoAssignComment)
}

func closeMessage(t *db.Ticket) string {
	sub := ""
	if t.SubCategory != nil {
		sub = *t.SubCategory
	}
	return fmt.Sprintf("Ticket #%s (%s/%s) se cerro.", t.ID, t.Category, sub)
}

func commentMessage(ticketID, authorName, content string) string {
	return fmt.Sprintf("Nuevo comentario en tu ticket #%s: %s \n%s", ticketID, authorName, content)
}

func announcementMessage(groupName, title, content string) string {
	return fmt.Sprintf("Nuevo anuncio en %s:\n\n%s\n %s...", groupName, title, head(content, 100))
}

// head takes the first n characters without an ellipsis.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncate caps s at n characters, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Event-specific extra_info payloads. Contact details ride along so
// delivery workers can route without a directory lookup.

type assignmentInfo struct {
	TicketID    string  `json:"ticket_id"`
	Category    string  `json:"category"`
	SubCategory *string `json:"sub_category"`
	AgentName   string  `json:"agent_name"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email"`
}

type closeInfo struct {
	TicketID    string  `json:"ticket_id"`
	Category    string  `json:"category"`
	SubCategory *string `json:"sub_category"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email"`
}

type commentInfo struct {
	TicketID       string    `json:"ticket_id"`
	Category       string    `json:"category"`
	SubCategory    *string   `json:"sub_category"`
	CommentID      uuid.UUID `json:"comment_id"`
	CommentContent string    `json:"comment_content"`
	CommentAuthor  string    `json:"comment_author"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
}

type announcementInfo struct {
	GroupID        uuid.UUID `json:"group_id"`
	GroupName      string    `json:"group_name"`
	AnnouncementID uuid.UUID `json:"announcement_id"`
	Title          string    `json:"title"`
	Phone          string    `json:"phone"`
	Email          string    `json:"email"`
}
