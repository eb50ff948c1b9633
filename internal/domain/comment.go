package domain

import "time"

// CommentKind differentiates the public thread from agent-only notes.
type CommentKind string

const (
	CommentKindPublic   CommentKind = "COMMENT"
	CommentKindInternal CommentKind = "INTERNAL_NOTE"
)

// Comment is an append-only thread entry on a ticket. Entries with
// CommentKindInternal must never reach a principal whose role cannot
// see internal notes.
type Comment struct {
	ID         string
	TicketID   string
	Kind       CommentKind
	AuthorID   string
	AuthorName string
	AuthorRole Role
	Body       string
	CreatedAt  time.Time
}
