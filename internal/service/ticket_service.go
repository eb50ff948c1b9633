package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/ai"
	"github.com/servicedesk/crm-service/internal/domain"
	"github.com/servicedesk/crm-service/internal/events"
	"github.com/servicedesk/crm-service/internal/repository"
	apperrors "github.com/servicedesk/crm-service/pkg/util"
)

// Actor identifies the authenticated principal performing an operation.
type Actor struct {
	ID   string
	Name string
	Role domain.Role
}

// TicketService coordinates the ticket lifecycle: creation with AI
// enrichment, transitions, assignment, comment threads and the audit
// trail. It is the only component that mutates tickets. Every mutation
// and its audit entries run in one transaction, so a failed activity
// append rolls the mutation back.
type TicketService struct {
	tickets    repository.TicketRepository
	comments   repository.CommentRepository
	activity   repository.ActivityRepository
	users      repository.UserRepository
	tx         repository.TxRunner
	classifier ai.Classifier
	dispatcher events.Dispatcher
	statsCache *repository.StatsCache
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	CommentRepo  repository.CommentRepository
	ActivityRepo repository.ActivityRepository
	UserRepo     repository.UserRepository
	TxRunner     repository.TxRunner
	Classifier   ai.Classifier
	Dispatcher   events.Dispatcher
	StatsCache   *repository.StatsCache
	Logger       *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		comments:   deps.CommentRepo,
		activity:   deps.ActivityRepo,
		users:      deps.UserRepo,
		tx:         deps.TxRunner,
		classifier: deps.Classifier,
		dispatcher: deps.Dispatcher,
		statsCache: deps.StatsCache,
		logger:     logger,
	}
}

// TicketCreateInput describes ticket creation payload. A nil Priority
// means the caller defers to the AI suggestion.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    *domain.TicketPriority
}

// Create files a new ticket. The category and sentiment calls run
// concurrently and are joined before persisting; either one failing
// degrades to its fallback and never blocks creation.
func (s *TicketService) Create(ctx context.Context, actor Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}
	if input.Priority != nil && !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": *input.Priority})
	}

	enrichment := ai.Enrich(ctx, s.classifier, s.logger, title, description)

	priority := enrichment.SuggestedPriority
	if input.Priority != nil {
		priority = *input.Priority
	}

	ticket := &domain.Ticket{
		ExternalKey: generateTicketKey(),
		SubmitterID: actor.ID,
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		AI: &domain.AIAnnotation{
			Category:          enrichment.Category,
			Sentiment:         enrichment.Sentiment,
			SuggestedPriority: enrichment.SuggestedPriority,
			Confidence:        enrichment.Confidence,
			ProcessedAt:       enrichment.ProcessedAt,
		},
	}

	if err := s.tx.InTx(ctx, func(repos repository.TxRepos) error {
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			return err
		}
		return recordActivity(ctx, repos.Activity, ticket.ID, actor, domain.ActionCreated,
			fmt.Sprintf("Ticket created (AI: %s, %s)", enrichment.Category, enrichment.Sentiment))
	}); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishEvent(ctx, ticket, actor, events.EventTicketCreated, events.TicketCreatedPayload{
		Ticket:  events.SnapshotOf(ticket),
		Message: fmt.Sprintf("New %s ticket created: %s", enrichment.Category, ticket.Title),
		AIInsights: events.AIInsights{
			Category:          enrichment.Category,
			Sentiment:         enrichment.Sentiment,
			SuggestedPriority: enrichment.SuggestedPriority,
			Confidence:        enrichment.Confidence,
		},
	})
	s.statsCache.Invalidate(ctx)

	return ticket, nil
}

// TicketUpdateInput carries the fields of a transition request. Nil
// means "not provided". The assignee needs its own presence flag
// because null is a legal value (unassign).
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	Status      *domain.TicketStatus
	SetAssignee bool
	AssigneeID  *string
}

// Transition applies a partial update. Fields are diffed in a fixed
// order (title, description, priority, status, assignee); each field
// whose value actually changes produces one activity entry. A call that
// changes nothing appends no activity, keeps updatedAt untouched and
// emits no event.
func (s *TicketService) Transition(ctx context.Context, actor Actor, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.SubmitterID != actor.ID && !actor.Role.CanTriage() {
		return nil, apperrors.NewForbidden("not authorized to update this ticket")
	}

	if input.Priority != nil && !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": *input.Priority})
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": *input.Status})
	}

	// Assignee eligibility is checked before any mutation is applied.
	var assigneeName string
	if input.SetAssignee && input.AssigneeID != nil {
		assignee, err := s.loadAssignee(ctx, *input.AssigneeID)
		if err != nil {
			return nil, err
		}
		assigneeName = assignee.Name
	}

	patch := repository.TicketPatch{}
	var changes []events.FieldChange

	if input.Title != nil && *input.Title != ticket.Title {
		changes = append(changes, events.FieldChange{Field: "title", OldValue: ticket.Title, NewValue: *input.Title})
		patch.Title = input.Title
		ticket.Title = *input.Title
	}
	if input.Description != nil && *input.Description != ticket.Description {
		changes = append(changes, events.FieldChange{Field: "description", OldValue: ticket.Description, NewValue: *input.Description})
		patch.Description = input.Description
		ticket.Description = *input.Description
	}
	if input.Priority != nil && *input.Priority != ticket.Priority {
		changes = append(changes, events.FieldChange{Field: "priority", OldValue: ticket.Priority, NewValue: *input.Priority})
		patch.Priority = input.Priority
		ticket.Priority = *input.Priority
	}
	statusChanged := false
	if input.Status != nil && *input.Status != ticket.Status {
		changes = append(changes, events.FieldChange{Field: "status", OldValue: ticket.Status, NewValue: *input.Status})
		patch.Status = input.Status
		ticket.Status = *input.Status
		statusChanged = true
	}
	if input.SetAssignee && !sameAssignee(ticket.AssigneeID, input.AssigneeID) {
		changes = append(changes, events.FieldChange{Field: "assignedTo", OldValue: ticket.AssigneeID, NewValue: input.AssigneeID})
		patch.SetAssignee = true
		patch.AssigneeID = input.AssigneeID
		ticket.AssigneeID = input.AssigneeID
	}

	if len(changes) == 0 {
		return ticket, nil
	}

	if err := s.tx.InTx(ctx, func(repos repository.TxRepos) error {
		if err := repos.Tickets.UpdatePatch(ctx, ticket.ID, patch); err != nil {
			return err
		}
		for _, change := range changes {
			if err := recordActivity(ctx, repos.Activity, ticket.ID, actor, domain.ActionUpdated, transitionDetails(change, assigneeName)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.UpdatedAt = time.Now()

	s.publishEvent(ctx, ticket, actor, events.EventTicketUpdated, events.TicketUpdatedPayload{
		Ticket:  events.SnapshotOf(ticket),
		Changes: changes,
	})
	if statusChanged {
		s.statsCache.Invalidate(ctx)
	}

	return ticket, nil
}

// Assign is the transition restricted to the assignee field, exposed as
// its own authorization boundary: it always requires an assigning role,
// submitter ownership does not suffice. A nil agentID unassigns.
func (s *TicketService) Assign(ctx context.Context, actor Actor, ticketID string, agentID *string) (*domain.Ticket, error) {
	if !actor.Role.CanAssign() {
		return nil, apperrors.NewForbiddenRole([]string{string(domain.RoleAgent), string(domain.RoleAdmin)}, string(actor.Role))
	}

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var assigneeName string
	if agentID != nil {
		assignee, err := s.loadAssignee(ctx, *agentID)
		if err != nil {
			return nil, err
		}
		assigneeName = assignee.Name
	}

	if sameAssignee(ticket.AssigneeID, agentID) {
		return ticket, nil
	}

	details := "Ticket unassigned"
	if agentID != nil {
		details = fmt.Sprintf("Ticket assigned to %s", assigneeName)
	}

	patch := repository.TicketPatch{SetAssignee: true, AssigneeID: agentID}
	if err := s.tx.InTx(ctx, func(repos repository.TxRepos) error {
		if err := repos.Tickets.UpdatePatch(ctx, ticket.ID, patch); err != nil {
			return err
		}
		return recordActivity(ctx, repos.Activity, ticket.ID, actor, domain.ActionAssigned, details)
	}); err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket.AssigneeID = agentID
	ticket.UpdatedAt = time.Now()

	s.publishEvent(ctx, ticket, actor, events.EventTicketAssigned, events.TicketAssignedPayload{
		Ticket:       events.SnapshotOf(ticket),
		AssigneeID:   agentID,
		AssigneeName: assigneeName,
	})

	return ticket, nil
}

// AddComment appends to the public thread. Anyone with read access to
// the ticket may comment.
func (s *TicketService) AddComment(ctx context.Context, actor Actor, ticketID, text string) (*domain.Ticket, *domain.Comment, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return nil, nil, apperrors.NewValidationError("comment text is required", nil)
	}

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !canRead(actor, ticket) {
		return nil, nil, apperrors.NewForbidden("access denied")
	}

	comment := &domain.Comment{
		TicketID:   ticket.ID,
		Kind:       domain.CommentKindPublic,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		AuthorRole: actor.Role,
		Body:       body,
	}
	if err := s.tx.InTx(ctx, func(repos repository.TxRepos) error {
		if err := repos.Comments.Create(ctx, comment); err != nil {
			return err
		}
		if err := recordActivity(ctx, repos.Activity, ticket.ID, actor, domain.ActionCommented, "Added a comment"); err != nil {
			return err
		}
		return repos.Tickets.Touch(ctx, ticket.ID)
	}); err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	ticket.UpdatedAt = time.Now()

	s.publishEvent(ctx, ticket, actor, events.EventTicketCommented, events.TicketCommentedPayload{
		Ticket:  events.SnapshotOf(ticket),
		Comment: body,
	})

	return ticket, comment, nil
}

// AddInternalNote appends to the agent-only note thread. The activity
// entry is visible ticket-wide, so its details never carry the note
// body.
func (s *TicketService) AddInternalNote(ctx context.Context, actor Actor, ticketID, text string) (*domain.Ticket, *domain.Comment, error) {
	if !actor.Role.CanSeeInternalNotes() {
		return nil, nil, apperrors.NewForbiddenRole([]string{string(domain.RoleAgent), string(domain.RoleAdmin)}, string(actor.Role))
	}
	body := strings.TrimSpace(text)
	if body == "" {
		return nil, nil, apperrors.NewValidationError("note text is required", nil)
	}

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}

	note := &domain.Comment{
		TicketID:   ticket.ID,
		Kind:       domain.CommentKindInternal,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		AuthorRole: actor.Role,
		Body:       body,
	}
	if err := s.tx.InTx(ctx, func(repos repository.TxRepos) error {
		if err := repos.Comments.Create(ctx, note); err != nil {
			return err
		}
		if err := recordActivity(ctx, repos.Activity, ticket.ID, actor, domain.ActionInternalNote, "Added an internal note"); err != nil {
			return err
		}
		return repos.Tickets.Touch(ctx, ticket.ID)
	}); err != nil {
		return nil, nil, apperrors.MapError(err)
	}
	ticket.UpdatedAt = time.Now()

	s.publishEvent(ctx, ticket, actor, events.EventTicketInternalNote, events.TicketInternalNotePayload{
		Ticket: events.SnapshotOf(ticket),
		Note:   body,
	})

	return ticket, note, nil
}

// Delete removes a ticket. Owner or admin only.
func (s *TicketService) Delete(ctx context.Context, actor Actor, ticketID string) error {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.SubmitterID != actor.ID && !actor.Role.IsAdmin() {
		return apperrors.NewForbidden("not authorized to delete this ticket")
	}

	if err := s.tickets.Delete(ctx, ticket.ID); err != nil {
		return apperrors.MapError(err)
	}

	s.publishEvent(ctx, ticket, actor, events.EventTicketDeleted, events.TicketDeletedPayload{
		TicketID: ticket.ID,
	})
	s.statsCache.Invalidate(ctx)

	return nil
}

// TicketDetail is the full read model of one ticket. InternalNotes is
// nil unless the caller's role can see them.
type TicketDetail struct {
	Ticket        *domain.Ticket
	Comments      []domain.Comment
	InternalNotes []domain.Comment
	Activity      []domain.ActivityEntry
}

// GetTicket fetches a ticket with its threads and audit trail, filtered
// for the caller's role.
func (s *TicketService) GetTicket(ctx context.Context, actor Actor, ticketID string) (*TicketDetail, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canRead(actor, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}

	thread, err := s.comments.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	activity, err := s.activity.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	detail := &TicketDetail{Ticket: ticket, Activity: activity}
	for _, entry := range thread {
		switch entry.Kind {
		case domain.CommentKindInternal:
			if actor.Role.CanSeeInternalNotes() {
				detail.InternalNotes = append(detail.InternalNotes, entry)
			}
		default:
			detail.Comments = append(detail.Comments, entry)
		}
	}
	return detail, nil
}

// ListMyTickets returns the caller's own submissions.
func (s *TicketService) ListMyTickets(ctx context.Context, actor Actor) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListBySubmitter(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListAllTickets returns every ticket. Triage roles only.
func (s *TicketService) ListAllTickets(ctx context.Context, actor Actor) ([]domain.Ticket, error) {
	if !actor.Role.CanTriage() {
		return nil, apperrors.NewForbiddenRole([]string{string(domain.RoleAgent), string(domain.RoleAdmin)}, string(actor.Role))
	}
	tickets, err := s.tickets.ListAll(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListAssignedTickets returns tickets assigned to the caller.
func (s *TicketService) ListAssignedTickets(ctx context.Context, actor Actor) ([]domain.Ticket, error) {
	if !actor.Role.CanTriage() {
		return nil, apperrors.NewForbiddenRole([]string{string(domain.RoleAgent), string(domain.RoleAdmin)}, string(actor.Role))
	}
	tickets, err := s.tickets.ListByAssignee(ctx, actor.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// GetStats aggregates counts by status, scoped to the caller's own
// tickets for the user role.
func (s *TicketService) GetStats(ctx context.Context, actor Actor) (domain.TicketStats, error) {
	var submitterID *string
	if !actor.Role.CanTriage() {
		id := actor.ID
		submitterID = &id
	}

	if stats, ok := s.statsCache.Get(ctx, submitterID); ok {
		return stats, nil
	}

	stats, err := s.tickets.CountByStatus(ctx, submitterID)
	if err != nil {
		return domain.TicketStats{}, apperrors.MapError(err)
	}
	s.statsCache.Set(ctx, submitterID, stats)
	return stats, nil
}

// SmartReplies drafts agent reply suggestions via the oracle, degrading
// to the generic acknowledgment when the oracle is unavailable.
func (s *TicketService) SmartReplies(ctx context.Context, actor Actor, ticketID string) ([]ai.Reply, error) {
	if !actor.Role.CanTriage() {
		return nil, apperrors.NewForbiddenRole([]string{string(domain.RoleAgent), string(domain.RoleAdmin)}, string(actor.Role))
	}

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	snapshot := ai.TicketSnapshot{Title: ticket.Title, Description: ticket.Description}
	if ticket.AI != nil {
		snapshot.Category = ticket.AI.Category
		snapshot.Sentiment = ticket.AI.Sentiment
	}

	replies, err := s.classifier.SmartReplies(ctx, snapshot)
	if err != nil {
		s.logger.Warn("smart reply generation failed, using fallback", zap.Error(err))
		return ai.FallbackReplies(), nil
	}
	return replies, nil
}

// ListAgents returns every principal eligible for assignment.
func (s *TicketService) ListAgents(ctx context.Context) ([]domain.User, error) {
	agents, err := s.users.ListByRoles(ctx, domain.RoleAgent, domain.RoleAdmin)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return agents, nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, apperrors.NewValidationError("invalid ticket id", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *TicketService) loadAssignee(ctx context.Context, assigneeID string) (*domain.User, error) {
	assignee, err := s.users.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("agent", map[string]any{"agent_id": assigneeID})
		}
		return nil, apperrors.MapError(err)
	}
	if !assignee.Role.CanBeAssignee() {
		return nil, apperrors.NewValidationError("user is not an agent or admin", map[string]any{"agent_id": assigneeID})
	}
	return assignee, nil
}

func recordActivity(ctx context.Context, activity repository.ActivityRepository, ticketID string, actor Actor, action domain.ActivityAction, details string) error {
	entry := &domain.ActivityEntry{
		TicketID:  ticketID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    action,
		Details:   details,
	}
	return activity.Create(ctx, entry)
}

func (s *TicketService) publishEvent(ctx context.Context, ticket *domain.Ticket, actor Actor, eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		TicketID:    ticket.ID,
		SubmitterID: ticket.SubmitterID,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Timestamp:   time.Now(),
		Payload:     payload,
	})
}

func canRead(actor Actor, ticket *domain.Ticket) bool {
	if ticket.SubmitterID == actor.ID {
		return true
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID == actor.ID {
		return true
	}
	return actor.Role.CanTriage()
}

func sameAssignee(current, next *string) bool {
	if current == nil || next == nil {
		return current == next
	}
	return *current == *next
}

func transitionDetails(change events.FieldChange, assigneeName string) string {
	switch change.Field {
	case "status":
		return fmt.Sprintf("Status changed from %q to %q", change.OldValue, change.NewValue)
	case "priority":
		return fmt.Sprintf("Priority changed from %q to %q", change.OldValue, change.NewValue)
	case "assignedTo":
		if id, ok := change.NewValue.(*string); !ok || id == nil {
			return "Ticket unassigned"
		}
		if assigneeName != "" {
			return fmt.Sprintf("Ticket assigned to %s", assigneeName)
		}
		return "Ticket assigned"
	default:
		return fmt.Sprintf("%s updated", change.Field)
	}
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
