package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/servicedesk/crm-service/internal/ai"
	"github.com/servicedesk/crm-service/internal/domain"
	"github.com/servicedesk/crm-service/internal/service"
)

// CreateTicketRequest payload. Priority is optional; when omitted the
// AI suggestion becomes the effective priority.
type CreateTicketRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Priority    *domain.TicketPriority `json:"priority"`
}

// OptionalString distinguishes an absent JSON field from an explicit
// null. For the assignee field, null means unassign and absent means
// leave untouched.
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON is only invoked for present fields, so Set records
// presence and Value keeps the null/value distinction.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// UpdateTicketRequest payload. All fields optional.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Priority    *domain.TicketPriority `json:"priority"`
	Status      *domain.TicketStatus   `json:"status"`
	AssignedTo  OptionalString         `json:"assignedTo"`
}

// ToInput converts the request to the service update input.
func (r UpdateTicketRequest) ToInput() service.TicketUpdateInput {
	return service.TicketUpdateInput{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Status:      r.Status,
		SetAssignee: r.AssignedTo.Set,
		AssigneeID:  r.AssignedTo.Value,
	}
}

// AssignTicketRequest payload. A null agent id unassigns.
type AssignTicketRequest struct {
	AgentID *string `json:"agent_id"`
}

// CommentRequest payload for both the public thread and internal notes.
type CommentRequest struct {
	Text string `json:"text"`
}

// AIInsightsResponse mirrors the annotation stored with the ticket.
type AIInsightsResponse struct {
	Category          string                `json:"category"`
	Sentiment         string                `json:"sentiment"`
	SuggestedPriority domain.TicketPriority `json:"suggestedPriority"`
	Confidence        int                   `json:"confidence"`
	ProcessedAt       time.Time             `json:"processedAt"`
}

// TicketSummary response.
type TicketSummary struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	SubmitterID string                `json:"submitter_id"`
	AssignedTo  *string               `json:"assignedTo"`
	Title       string                `json:"title"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	AIInsights  *AIInsightsResponse   `json:"aiInsights,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info. InternalNotes is
// omitted entirely for callers whose role cannot see them.
type TicketDetailResponse struct {
	ID            string                `json:"id"`
	ExternalKey   string                `json:"external_key"`
	SubmitterID   string                `json:"submitter_id"`
	AssignedTo    *string               `json:"assignedTo"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	AIInsights    *AIInsightsResponse   `json:"aiInsights,omitempty"`
	Comments      []CommentResponse     `json:"comments"`
	InternalNotes []CommentResponse     `json:"internalNotes,omitempty"`
	Activity      []ActivityResponse    `json:"activity"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// CommentResponse represents one thread entry.
type CommentResponse struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"author_id"`
	AuthorName string      `json:"author_name"`
	AuthorRole domain.Role `json:"author_role"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActivityResponse represents one audit trail entry.
type ActivityResponse struct {
	ID        string                `json:"id"`
	ActorID   string                `json:"actor_id"`
	ActorName string                `json:"actor_name"`
	Action    domain.ActivityAction `json:"action"`
	Details   string                `json:"details"`
	CreatedAt time.Time             `json:"created_at"`
}

// StatsResponse aggregates ticket counts by status.
type StatsResponse struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
	Closed     int `json:"closed"`
}

// SmartReplyResponse is one drafted reply suggestion.
type SmartReplyResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAIInsights maps the stored annotation, nil-safe.
func NewAIInsights(annotation *domain.AIAnnotation) *AIInsightsResponse {
	if annotation == nil {
		return nil
	}
	return &AIInsightsResponse{
		Category:          annotation.Category,
		Sentiment:         annotation.Sentiment,
		SuggestedPriority: annotation.SuggestedPriority,
		Confidence:        annotation.Confidence,
		ProcessedAt:       annotation.ProcessedAt,
	}
}

// NewTicketSummary maps a domain ticket to its list representation.
func NewTicketSummary(ticket *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		SubmitterID: ticket.SubmitterID,
		AssignedTo:  ticket.AssigneeID,
		Title:       ticket.Title,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		AIInsights:  NewAIInsights(ticket.AI),
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

// NewTicketSummaries maps a slice of tickets.
func NewTicketSummaries(tickets []domain.Ticket) []TicketSummary {
	summaries := make([]TicketSummary, 0, len(tickets))
	for i := range tickets {
		summaries = append(summaries, NewTicketSummary(&tickets[i]))
	}
	return summaries
}

// NewTicketDetail maps the service read model.
func NewTicketDetail(detail *service.TicketDetail) TicketDetailResponse {
	ticket := detail.Ticket
	resp := TicketDetailResponse{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		SubmitterID: ticket.SubmitterID,
		AssignedTo:  ticket.AssigneeID,
		Title:       ticket.Title,
		Description: ticket.Description,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		AIInsights:  NewAIInsights(ticket.AI),
		Comments:    newComments(detail.Comments),
		Activity:    newActivity(detail.Activity),
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
	if detail.InternalNotes != nil {
		resp.InternalNotes = newComments(detail.InternalNotes)
	}
	return resp
}

// NewStats maps the domain aggregate.
func NewStats(stats domain.TicketStats) StatsResponse {
	return StatsResponse{
		Total:      stats.Total,
		Open:       stats.Open,
		InProgress: stats.InProgress,
		Resolved:   stats.Resolved,
		Closed:     stats.Closed,
	}
}

// NewSmartReplies maps oracle reply drafts.
func NewSmartReplies(replies []ai.Reply) []SmartReplyResponse {
	out := make([]SmartReplyResponse, 0, len(replies))
	for _, reply := range replies {
		out = append(out, SmartReplyResponse{Type: reply.Type, Message: reply.Message})
	}
	return out
}

func newComments(comments []domain.Comment) []CommentResponse {
	out := make([]CommentResponse, 0, len(comments))
	for _, comment := range comments {
		out = append(out, CommentResponse{
			ID:         comment.ID,
			AuthorID:   comment.AuthorID,
			AuthorName: comment.AuthorName,
			AuthorRole: comment.AuthorRole,
			Text:       comment.Body,
			CreatedAt:  comment.CreatedAt,
		})
	}
	return out
}

func newActivity(entries []domain.ActivityEntry) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, ActivityResponse{
			ID:        entry.ID,
			ActorID:   entry.ActorID,
			ActorName: entry.ActorName,
			Action:    entry.Action,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}
