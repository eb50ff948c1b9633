package events

import (
	"time"

	"github.com/servicedesk/crm-service/internal/domain"
)

// EventType enumerates supported event identifiers. The names double as
// the wire-level event types delivered to live connections.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketUpdated      EventType = "ticket_updated"
	EventTicketCommented    EventType = "ticket_commented"
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketInternalNote EventType = "ticket_internal_note"
	EventTicketDeleted      EventType = "ticket_deleted"
)

// Event represents a domain event emitted by the lifecycle service.
// SubmitterID lets fan-out target the submitter's room without reloading
// the ticket.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TicketID    string    `json:"ticket_id"`
	SubmitterID string    `json:"submitter_id"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// TicketSnapshot is the role-neutral ticket view embedded in event
// payloads. It never carries comments or internal notes.
type TicketSnapshot struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	SubmitterID string                `json:"submitter_id"`
	AssigneeID  *string               `json:"assignee_id,omitempty"`
	Title       string                `json:"title"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// SnapshotOf builds the event view of a ticket.
func SnapshotOf(ticket *domain.Ticket) TicketSnapshot {
	return TicketSnapshot{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		SubmitterID: ticket.SubmitterID,
		AssigneeID:  ticket.AssigneeID,
		Title:       ticket.Title,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// AIInsights summarizes the classification attached at creation.
type AIInsights struct {
	Category          string                `json:"category"`
	Sentiment         string                `json:"sentiment"`
	SuggestedPriority domain.TicketPriority `json:"suggestedPriority"`
	Confidence        int                   `json:"confidence"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Ticket     TicketSnapshot `json:"ticket"`
	Message    string         `json:"message"`
	AIInsights AIInsights     `json:"aiInsights"`
}

// FieldChange records one changed field in a transition.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	Ticket  TicketSnapshot `json:"ticket"`
	Changes []FieldChange  `json:"changes"`
}

// TicketCommentedPayload payload. Comment bodies in the public thread
// are visible to everyone with read access, so the preview is safe to
// broadcast.
type TicketCommentedPayload struct {
	Ticket  TicketSnapshot `json:"ticket"`
	Comment string         `json:"comment"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	Ticket       TicketSnapshot `json:"ticket"`
	AssigneeID   *string        `json:"assignee_id,omitempty"`
	AssigneeName string         `json:"assignee_name,omitempty"`
}

// TicketInternalNotePayload payload. Delivered exclusively to
// agent-scoped recipients; this is the only payload allowed to carry a
// note body.
type TicketInternalNotePayload struct {
	Ticket TicketSnapshot `json:"ticket"`
	Note   string         `json:"note"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	TicketID string `json:"ticketId"`
}
