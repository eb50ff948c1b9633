package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the query surface repositories run against. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so the same repository code serves pooled and
// transactional access.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRepos bundles the repositories bound to one open transaction.
type TxRepos struct {
	Tickets  TicketRepository
	Comments CommentRepository
	Activity ActivityRepository
}

// TxRunner executes a function inside a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise,
// so a ticket mutation and its audit entry land together or not at all.
type TxRunner interface {
	InTx(ctx context.Context, fn func(repos TxRepos) error) error
}

type pgxTxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner builds a runner on the connection pool.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &pgxTxRunner{pool: pool}
}

func (r *pgxTxRunner) InTx(ctx context.Context, fn func(repos TxRepos) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repos := TxRepos{
		Tickets:  &ticketRepository{db: tx},
		Comments: &commentRepository{db: tx},
		Activity: &activityRepository{db: tx},
	}
	if err := fn(repos); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
