package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "Open"
	TicketStatusInProgress TicketStatus = "In Progress"
	TicketStatusResolved   TicketStatus = "Resolved"
	TicketStatusClosed     TicketStatus = "Closed"
)

// Valid reports whether the status is one of the known states.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "Low"
	TicketPriorityMedium TicketPriority = "Medium"
	TicketPriorityHigh   TicketPriority = "High"
	TicketPriorityUrgent TicketPriority = "Urgent"
)

// Valid reports whether the priority is one of the known levels.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// AIAnnotation holds the classification result attached at creation.
// Written once, read-only afterwards.
type AIAnnotation struct {
	Category          string
	Sentiment         string
	SuggestedPriority TicketPriority
	Confidence        int
	ProcessedAt       time.Time
}

// Ticket is the aggregate for support requests. The submitter never
// changes after creation; comments, notes and the activity trail live
// in their own append-only collections keyed by ticket id.
type Ticket struct {
	ID          string
	ExternalKey string
	SubmitterID string
	AssigneeID  *string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	AI          *AIAnnotation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TicketStats aggregates ticket counts by status.
type TicketStats struct {
	Total      int
	Open       int
	InProgress int
	Resolved   int
	Closed     int
}
