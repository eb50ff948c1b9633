package domain

import "time"

// ActivityAction tags an audit trail entry.
type ActivityAction string

const (
	ActionCreated      ActivityAction = "created"
	ActionUpdated      ActivityAction = "updated"
	ActionCommented    ActivityAction = "commented"
	ActionAssigned     ActivityAction = "assigned"
	ActionInternalNote ActivityAction = "internal_note"
)

// ActivityEntry is an immutable audit trail record. The trail is visible
// ticket-wide, so Details must stay role-neutral: it never carries the
// body of an internal note.
type ActivityEntry struct {
	ID        string
	TicketID  string
	ActorID   string
	ActorName string
	Action    ActivityAction
	Details   string
	CreatedAt time.Time
}
