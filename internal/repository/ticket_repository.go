package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/servicedesk/crm-service/internal/domain"
)

// TicketPatch carries the changed fields of a transition. Nil pointers
// mean "leave untouched"; the assignee needs its own presence flag
// because nil is a legal new value (unassign).
type TicketPatch struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	Status      *domain.TicketStatus
	SetAssignee bool
	AssigneeID  *string
}

// Empty reports whether the patch changes nothing.
func (p TicketPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Status == nil && !p.SetAssignee
}

// TicketRepository encapsulates ticket persistence. UpdatePatch writes
// only the columns present in the patch, so concurrent transitions on
// disjoint fields merge instead of overwriting each other.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdatePatch(ctx context.Context, id string, patch TicketPatch) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListBySubmitter(ctx context.Context, userID string) ([]domain.Ticket, error)
	ListByAssignee(ctx context.Context, userID string) ([]domain.Ticket, error)
	ListAll(ctx context.Context) ([]domain.Ticket, error)
	CountByStatus(ctx context.Context, submitterID *string) (domain.TicketStats, error)
}

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{db: pool}
}

const ticketColumns = `id, external_key, submitter_user_id, assignee_user_id, title, description,
               status, priority, ai_category, ai_sentiment, ai_suggested_priority,
               ai_confidence, ai_processed_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, submitter_user_id, assignee_user_id, title, description,
                             status, priority, ai_category, ai_sentiment, ai_suggested_priority,
                             ai_confidence, ai_processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, created_at, updated_at`

	var aiCategory, aiSentiment *string
	var aiSuggested *domain.TicketPriority
	var aiConfidence *int
	var aiProcessedAt any
	if ticket.AI != nil {
		aiCategory = &ticket.AI.Category
		aiSentiment = &ticket.AI.Sentiment
		aiSuggested = &ticket.AI.SuggestedPriority
		aiConfidence = &ticket.AI.Confidence
		aiProcessedAt = ticket.AI.ProcessedAt
	}

	return r.db.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.SubmitterID,
		ticket.AssigneeID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		aiCategory,
		aiSentiment,
		aiSuggested,
		aiConfidence,
		aiProcessedAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	row := r.db.QueryRow(ctx, query, id)
	return scanTicketRow(row)
}

func (r *ticketRepository) UpdatePatch(ctx context.Context, id string, patch TicketPatch) error {
	if patch.Empty() {
		return nil
	}

	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.SetAssignee {
		add("assignee_user_id", patch.AssigneeID)
	}
	sets = append(sets, "updated_at=NOW()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tickets SET %s WHERE id=$%d", strings.Join(sets, ", "), len(args))

	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Touch refreshes updated_at without writing any other column. Used
// when thread entries should count as activity on the ticket itself.
func (r *ticketRepository) Touch(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListBySubmitter(ctx context.Context, userID string) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE submitter_user_id=$1 ORDER BY created_at DESC`, ticketColumns)
	return r.list(ctx, query, userID)
}

func (r *ticketRepository) ListByAssignee(ctx context.Context, userID string) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE assignee_user_id=$1 ORDER BY created_at DESC`, ticketColumns)
	return r.list(ctx, query, userID)
}

func (r *ticketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets ORDER BY created_at DESC`, ticketColumns)
	return r.list(ctx, query)
}

func (r *ticketRepository) CountByStatus(ctx context.Context, submitterID *string) (domain.TicketStats, error) {
	query := `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status='Open'),
               COUNT(*) FILTER (WHERE status='In Progress'),
               COUNT(*) FILTER (WHERE status='Resolved'),
               COUNT(*) FILTER (WHERE status='Closed')
        FROM tickets`
	args := []any{}
	if submitterID != nil {
		query += ` WHERE submitter_user_id=$1`
		args = append(args, *submitterID)
	}

	var stats domain.TicketStats
	if err := r.db.QueryRow(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Open,
		&stats.InProgress,
		&stats.Resolved,
		&stats.Closed,
	); err != nil {
		return domain.TicketStats{}, err
	}
	return stats, nil
}

func (r *ticketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicketRow(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	var ai domain.AIAnnotation
	var aiCategory, aiSentiment *string
	var aiSuggested *domain.TicketPriority
	var aiConfidence *int
	var aiProcessedAt *time.Time

	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.SubmitterID,
		&ticket.AssigneeID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&aiCategory,
		&aiSentiment,
		&aiSuggested,
		&aiConfidence,
		&aiProcessedAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if aiCategory != nil && aiSentiment != nil {
		ai.Category = *aiCategory
		ai.Sentiment = *aiSentiment
		if aiSuggested != nil {
			ai.SuggestedPriority = *aiSuggested
		}
		if aiConfidence != nil {
			ai.Confidence = *aiConfidence
		}
		if aiProcessedAt != nil {
			ai.ProcessedAt = *aiProcessedAt
		}
		ticket.AI = &ai
	}
	return &ticket, nil
}
