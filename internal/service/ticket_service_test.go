package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/ai"
	"github.com/servicedesk/crm-service/internal/domain"
	"github.com/servicedesk/crm-service/internal/events"
	"github.com/servicedesk/crm-service/internal/repository"
	apperrors "github.com/servicedesk/crm-service/pkg/util"
)

type fakeTicketRepo struct {
	tickets map[string]*domain.Ticket
	seq     int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (r *fakeTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	stored := *ticket
	r.tickets[ticket.ID] = &stored
	return nil
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) UpdatePatch(ctx context.Context, id string, patch repository.TicketPatch) error {
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if patch.Title != nil {
		ticket.Title = *patch.Title
	}
	if patch.Description != nil {
		ticket.Description = *patch.Description
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.Status != nil {
		ticket.Status = *patch.Status
	}
	if patch.SetAssignee {
		ticket.AssigneeID = patch.AssigneeID
	}
	return nil
}

func (r *fakeTicketRepo) Touch(ctx context.Context, id string) error {
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.UpdatedAt = time.Now()
	return nil
}

func (r *fakeTicketRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.tickets, id)
	return nil
}

func (r *fakeTicketRepo) ListBySubmitter(ctx context.Context, userID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.SubmitterID == userID {
			out = append(out, *ticket)
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) ListByAssignee(ctx context.Context, userID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.AssigneeID != nil && *ticket.AssigneeID == userID {
			out = append(out, *ticket)
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		out = append(out, *ticket)
	}
	return out, nil
}

func (r *fakeTicketRepo) CountByStatus(ctx context.Context, submitterID *string) (domain.TicketStats, error) {
	var stats domain.TicketStats
	for _, ticket := range r.tickets {
		if submitterID != nil && ticket.SubmitterID != *submitterID {
			continue
		}
		stats.Total++
		switch ticket.Status {
		case domain.TicketStatusOpen:
			stats.Open++
		case domain.TicketStatusInProgress:
			stats.InProgress++
		case domain.TicketStatusResolved:
			stats.Resolved++
		case domain.TicketStatusClosed:
			stats.Closed++
		}
	}
	return stats, nil
}

type fakeCommentRepo struct {
	comments []domain.Comment
	seq      int
}

func (r *fakeCommentRepo) Create(ctx context.Context, comment *domain.Comment) error {
	r.seq++
	comment.ID = fmt.Sprintf("comment-%d", r.seq)
	r.comments = append(r.comments, *comment)
	return nil
}

func (r *fakeCommentRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Comment, error) {
	var out []domain.Comment
	for _, comment := range r.comments {
		if comment.TicketID == ticketID {
			out = append(out, comment)
		}
	}
	return out, nil
}

type fakeActivityRepo struct {
	entries   []domain.ActivityEntry
	seq       int
	createErr error
}

func (r *fakeActivityRepo) Create(ctx context.Context, entry *domain.ActivityEntry) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	entry.ID = fmt.Sprintf("activity-%d", r.seq)
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeActivityRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.ActivityEntry, error) {
	var out []domain.ActivityEntry
	for _, entry := range r.entries {
		if entry.TicketID == ticketID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) forTicket(ticketID string) []domain.ActivityEntry {
	out, _ := r.ListByTicket(context.Background(), ticketID)
	return out
}

type fakeUserRepo struct {
	users map[string]*domain.User
	seq   int
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*domain.User)}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) ListByRoles(ctx context.Context, roles ...domain.Role) ([]domain.User, error) {
	var out []domain.User
	for _, user := range r.users {
		for _, role := range roles {
			if user.Role == role {
				out = append(out, *user)
				break
			}
		}
	}
	return out, nil
}

type fakeClassifier struct {
	category     string
	categoryErr  error
	sentiment    string
	sentimentErr error
	replies      []ai.Reply
	repliesErr   error
}

func (c *fakeClassifier) Classify(ctx context.Context, title, description string) (string, error) {
	return c.category, c.categoryErr
}

func (c *fakeClassifier) Sentiment(ctx context.Context, text string) (string, error) {
	return c.sentiment, c.sentimentErr
}

func (c *fakeClassifier) SmartReplies(ctx context.Context, ticket ai.TicketSnapshot) ([]ai.Reply, error) {
	return c.replies, c.repliesErr
}

type capturingDispatcher struct {
	published []events.Event
}

func (d *capturingDispatcher) Publish(ctx context.Context, event events.Event) error {
	d.published = append(d.published, event)
	return nil
}

func (d *capturingDispatcher) Subscribe(eventType events.EventType, handler events.EventHandler) {}

func (d *capturingDispatcher) lastType() events.EventType {
	if len(d.published) == 0 {
		return ""
	}
	return d.published[len(d.published)-1].Type
}

// fakeTxRunner applies transactional semantics to the in-memory fakes:
// it snapshots their state before running fn and restores it when fn
// errors, so partial writes never survive a failed operation.
type fakeTxRunner struct {
	tickets  *fakeTicketRepo
	comments *fakeCommentRepo
	activity *fakeActivityRepo
}

func (r *fakeTxRunner) InTx(ctx context.Context, fn func(repos repository.TxRepos) error) error {
	ticketSnap := make(map[string]*domain.Ticket, len(r.tickets.tickets))
	for id, ticket := range r.tickets.tickets {
		copied := *ticket
		ticketSnap[id] = &copied
	}
	ticketSeq := r.tickets.seq
	commentSnap := append([]domain.Comment(nil), r.comments.comments...)
	commentSeq := r.comments.seq
	activitySnap := append([]domain.ActivityEntry(nil), r.activity.entries...)
	activitySeq := r.activity.seq

	err := fn(repository.TxRepos{Tickets: r.tickets, Comments: r.comments, Activity: r.activity})
	if err != nil {
		r.tickets.tickets = ticketSnap
		r.tickets.seq = ticketSeq
		r.comments.comments = commentSnap
		r.comments.seq = commentSeq
		r.activity.entries = activitySnap
		r.activity.seq = activitySeq
	}
	return err
}

type fixture struct {
	service    *TicketService
	tickets    *fakeTicketRepo
	comments   *fakeCommentRepo
	activity   *fakeActivityRepo
	users      *fakeUserRepo
	classifier *fakeClassifier
	dispatcher *capturingDispatcher
}

func newFixture(classifier *fakeClassifier, users ...*domain.User) *fixture {
	f := &fixture{
		tickets:    newFakeTicketRepo(),
		comments:   &fakeCommentRepo{},
		activity:   &fakeActivityRepo{},
		users:      newFakeUserRepo(users...),
		classifier: classifier,
		dispatcher: &capturingDispatcher{},
	}
	f.service = NewTicketService(TicketDependencies{
		TicketRepo:   f.tickets,
		CommentRepo:  f.comments,
		ActivityRepo: f.activity,
		UserRepo:     f.users,
		TxRunner:     &fakeTxRunner{tickets: f.tickets, comments: f.comments, activity: f.activity},
		Classifier:   f.classifier,
		Dispatcher:   f.dispatcher,
		Logger:       zap.NewNop(),
	})
	return f
}

var (
	alice = Actor{ID: "user-alice", Name: "Alice", Role: domain.RoleUser}
	bob   = Actor{ID: "user-bob", Name: "Bob", Role: domain.RoleUser}
	carol = Actor{ID: "agent-carol", Name: "Carol", Role: domain.RoleAgent}
	dave  = Actor{ID: "admin-dave", Name: "Dave", Role: domain.RoleAdmin}
)

func agentUsers() []*domain.User {
	return []*domain.User{
		{ID: alice.ID, Name: alice.Name, Email: "alice@example.com", Role: domain.RoleUser},
		{ID: bob.ID, Name: bob.Name, Email: "bob@example.com", Role: domain.RoleUser},
		{ID: carol.ID, Name: carol.Name, Email: "carol@example.com", Role: domain.RoleAgent},
		{ID: dave.ID, Name: dave.Name, Email: "dave@example.com", Role: domain.RoleAdmin},
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	domainErr := apperrors.ToDomainError(err)
	if domainErr.Code != code {
		t.Fatalf("error code = %s, want %s (err: %v)", domainErr.Code, code, err)
	}
}

func TestCreateAnnotatesWithAISuggestion(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNegative}, agentUsers()...)

	ticket, err := f.service.Create(context.Background(), alice, TicketCreateInput{
		Title:       "App crashes on login",
		Description: "The app crashes every time I try to log in, this is blocking my work",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ticket.Status != domain.TicketStatusOpen {
		t.Errorf("Status = %q, want %q", ticket.Status, domain.TicketStatusOpen)
	}
	if ticket.Priority != domain.TicketPriorityHigh {
		t.Errorf("Priority = %q, want %q (negative technical issue)", ticket.Priority, domain.TicketPriorityHigh)
	}
	if ticket.AI == nil {
		t.Fatal("AI annotation missing")
	}
	if ticket.AI.Category != ai.CategoryTechnicalIssue || ticket.AI.Sentiment != ai.SentimentNegative {
		t.Errorf("annotation = %q/%q", ticket.AI.Category, ticket.AI.Sentiment)
	}
	if ticket.AI.Confidence != 88 {
		t.Errorf("Confidence = %d, want 88", ticket.AI.Confidence)
	}

	activity := f.activity.forTicket(ticket.ID)
	if len(activity) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(activity))
	}
	wantDetails := "Ticket created (AI: Technical Issue, Negative)"
	if activity[0].Details != wantDetails {
		t.Errorf("details = %q, want %q", activity[0].Details, wantDetails)
	}
	if f.dispatcher.lastType() != events.EventTicketCreated {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketCreated)
	}
}

func TestCreateOracleOutageDegradesToFallbacks(t *testing.T) {
	f := newFixture(&fakeClassifier{categoryErr: errors.New("down"), sentimentErr: errors.New("down")}, agentUsers()...)

	ticket, err := f.service.Create(context.Background(), alice, TicketCreateInput{
		Title:       "Question about invoices",
		Description: "Where can I download my past invoices?",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ticket.AI.Category != ai.FallbackCategory {
		t.Errorf("Category = %q, want fallback", ticket.AI.Category)
	}
	if ticket.AI.Sentiment != ai.FallbackSentiment {
		t.Errorf("Sentiment = %q, want fallback", ticket.AI.Sentiment)
	}
	if ticket.Priority != domain.TicketPriorityMedium {
		t.Errorf("Priority = %q, want %q", ticket.Priority, domain.TicketPriorityMedium)
	}
	if ticket.AI.Confidence != 73 {
		t.Errorf("Confidence = %d, want 73", ticket.AI.Confidence)
	}
}

func TestCreateExplicitPriorityWinsOverSuggestion(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryFeatureRequest, sentiment: ai.SentimentPositive}, agentUsers()...)

	low := domain.TicketPriorityUrgent
	ticket, err := f.service.Create(context.Background(), alice, TicketCreateInput{
		Title:       "Add dark mode",
		Description: "Would love a dark mode",
		Priority:    &low,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.Priority != domain.TicketPriorityUrgent {
		t.Errorf("Priority = %q, want requested %q", ticket.Priority, domain.TicketPriorityUrgent)
	}
	if ticket.AI.SuggestedPriority != domain.TicketPriorityLow {
		t.Errorf("SuggestedPriority = %q, want %q", ticket.AI.SuggestedPriority, domain.TicketPriorityLow)
	}
}

func TestCreateRejectsBlankFields(t *testing.T) {
	f := newFixture(&fakeClassifier{}, agentUsers()...)

	_, err := f.service.Create(context.Background(), alice, TicketCreateInput{Title: "  ", Description: "x"})
	assertCode(t, err, "VALIDATION_FAILED")
}

func createTicket(t *testing.T, f *fixture, actor Actor) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.Create(context.Background(), actor, TicketCreateInput{
		Title:       "Login broken",
		Description: "Cannot log in since yesterday",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestTransitionRecordsOneActivityPerChangedField(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	status := domain.TicketStatusInProgress
	priority := domain.TicketPriorityUrgent
	updated, err := f.service.Transition(context.Background(), carol, ticket.ID, TicketUpdateInput{
		Status:   &status,
		Priority: &priority,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != status || updated.Priority != priority {
		t.Errorf("ticket = %q/%q, want %q/%q", updated.Status, updated.Priority, status, priority)
	}

	activity := f.activity.forTicket(ticket.ID)
	// one creation entry plus one per changed field
	if len(activity) != 3 {
		t.Fatalf("activity entries = %d, want 3", len(activity))
	}
	if f.dispatcher.lastType() != events.EventTicketUpdated {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketUpdated)
	}
}

func TestTransitionNoOpEmitsNothing(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)
	publishedBefore := len(f.dispatcher.published)

	sameStatus := ticket.Status
	samePriority := ticket.Priority
	updated, err := f.service.Transition(context.Background(), carol, ticket.ID, TicketUpdateInput{
		Status:   &sameStatus,
		Priority: &samePriority,
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if !updated.UpdatedAt.Equal(ticket.UpdatedAt) {
		t.Error("updatedAt moved on a no-op transition")
	}
	if len(f.activity.forTicket(ticket.ID)) != 1 {
		t.Errorf("activity entries = %d, want 1 (creation only)", len(f.activity.forTicket(ticket.ID)))
	}
	if len(f.dispatcher.published) != publishedBefore {
		t.Error("no-op transition published an event")
	}
}

func TestTransitionSubmitterIsImmutable(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	title := "New title"
	updated, err := f.service.Transition(context.Background(), carol, ticket.ID, TicketUpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.SubmitterID != alice.ID {
		t.Errorf("SubmitterID = %q, want %q", updated.SubmitterID, alice.ID)
	}
}

func TestTransitionForbiddenForUnrelatedUser(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	title := "Hijacked"
	_, err := f.service.Transition(context.Background(), bob, ticket.ID, TicketUpdateInput{Title: &title})
	assertCode(t, err, "FORBIDDEN")
}

func TestTransitionRejectsIneligibleAssigneeBeforeMutation(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	status := domain.TicketStatusInProgress
	assignee := bob.ID
	_, err := f.service.Transition(context.Background(), carol, ticket.ID, TicketUpdateInput{
		Status:      &status,
		SetAssignee: true,
		AssigneeID:  &assignee,
	})
	assertCode(t, err, "VALIDATION_FAILED")

	// the status change in the same request must not have been applied
	stored, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if stored.Status != domain.TicketStatusOpen {
		t.Errorf("Status = %q, want %q (mutation applied despite rejection)", stored.Status, domain.TicketStatusOpen)
	}
	if len(f.activity.forTicket(ticket.ID)) != 1 {
		t.Error("rejected transition appended activity")
	}
}

func TestTransitionUnknownTicket(t *testing.T) {
	f := newFixture(&fakeClassifier{}, agentUsers()...)
	title := "x"
	_, err := f.service.Transition(context.Background(), carol, "missing", TicketUpdateInput{Title: &title})
	assertCode(t, err, "NOT_FOUND")
}

func TestAssignRequiresAssigningRole(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	agentID := carol.ID
	_, err := f.service.Assign(context.Background(), alice, ticket.ID, &agentID)
	assertCode(t, err, "FORBIDDEN")
}

func TestAssignRejectsNonAgentTarget(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	target := bob.ID
	_, err := f.service.Assign(context.Background(), carol, ticket.ID, &target)
	assertCode(t, err, "VALIDATION_FAILED")

	stored, _ := f.tickets.GetByID(context.Background(), ticket.ID)
	if stored.AssigneeID != nil {
		t.Error("assignee set despite eligibility rejection")
	}
}

func TestAssignAndUnassign(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	agentID := carol.ID
	updated, err := f.service.Assign(context.Background(), dave, ticket.ID, &agentID)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if updated.AssigneeID == nil || *updated.AssigneeID != carol.ID {
		t.Fatalf("AssigneeID = %v, want %q", updated.AssigneeID, carol.ID)
	}
	if f.dispatcher.lastType() != events.EventTicketAssigned {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketAssigned)
	}

	updated, err = f.service.Assign(context.Background(), dave, ticket.ID, nil)
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if updated.AssigneeID != nil {
		t.Errorf("AssigneeID = %v, want nil", updated.AssigneeID)
	}

	activity := f.activity.forTicket(ticket.ID)
	last := activity[len(activity)-1]
	if last.Details != "Ticket unassigned" {
		t.Errorf("details = %q, want %q", last.Details, "Ticket unassigned")
	}
}

func TestAddCommentDeniedForUnrelatedUser(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	_, _, err := f.service.AddComment(context.Background(), bob, ticket.ID, "me too")
	assertCode(t, err, "FORBIDDEN")
}

func TestAddCommentRecordsActivityWithoutBody(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	_, comment, err := f.service.AddComment(context.Background(), alice, ticket.ID, "It started after the update")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if comment.Kind != domain.CommentKindPublic {
		t.Errorf("Kind = %q, want %q", comment.Kind, domain.CommentKindPublic)
	}

	activity := f.activity.forTicket(ticket.ID)
	last := activity[len(activity)-1]
	if last.Details != "Added a comment" {
		t.Errorf("details = %q, want %q", last.Details, "Added a comment")
	}
	if f.dispatcher.lastType() != events.EventTicketCommented {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketCommented)
	}
}

func TestInternalNoteForbiddenForUserRole(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)
	notesBefore := len(f.comments.comments)
	activityBefore := len(f.activity.forTicket(ticket.ID))

	_, _, err := f.service.AddInternalNote(context.Background(), alice, ticket.ID, "sneaky")
	assertCode(t, err, "FORBIDDEN")

	if len(f.comments.comments) != notesBefore {
		t.Error("note stored despite forbidden call")
	}
	if len(f.activity.forTicket(ticket.ID)) != activityBefore {
		t.Error("activity appended despite forbidden call")
	}
}

func TestInternalNoteActivityNeverLeaksBody(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	secret := "customer is on the legacy plan, do not mention pricing"
	_, note, err := f.service.AddInternalNote(context.Background(), carol, ticket.ID, secret)
	if err != nil {
		t.Fatalf("AddInternalNote: %v", err)
	}
	if note.Kind != domain.CommentKindInternal {
		t.Errorf("Kind = %q, want %q", note.Kind, domain.CommentKindInternal)
	}

	activity := f.activity.forTicket(ticket.ID)
	last := activity[len(activity)-1]
	if last.Details != "Added an internal note" {
		t.Errorf("details = %q, want %q", last.Details, "Added an internal note")
	}
	if f.dispatcher.lastType() != events.EventTicketInternalNote {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketInternalNote)
	}
}

func TestGetTicketStripsNotesForUserRole(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	if _, _, err := f.service.AddComment(context.Background(), alice, ticket.ID, "any update?"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, _, err := f.service.AddInternalNote(context.Background(), carol, ticket.ID, "waiting on backend team"); err != nil {
		t.Fatalf("AddInternalNote: %v", err)
	}

	asUser, err := f.service.GetTicket(context.Background(), alice, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if len(asUser.Comments) != 1 {
		t.Errorf("comments = %d, want 1", len(asUser.Comments))
	}
	if asUser.InternalNotes != nil {
		t.Error("internal notes leaked to user role")
	}

	asAgent, err := f.service.GetTicket(context.Background(), carol, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicket as agent: %v", err)
	}
	if len(asAgent.InternalNotes) != 1 {
		t.Errorf("agent internal notes = %d, want 1", len(asAgent.InternalNotes))
	}
}

func TestGetTicketDeniedForUnrelatedUser(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	_, err := f.service.GetTicket(context.Background(), bob, ticket.ID)
	assertCode(t, err, "FORBIDDEN")
}

func TestDeleteOwnerOrAdminOnly(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	if err := f.service.Delete(context.Background(), carol, ticket.ID); err == nil {
		t.Fatal("agent deleted a ticket it does not own")
	}
	if err := f.service.Delete(context.Background(), alice, ticket.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if f.dispatcher.lastType() != events.EventTicketDeleted {
		t.Errorf("event = %q, want %q", f.dispatcher.lastType(), events.EventTicketDeleted)
	}

	ticket = createTicket(t, f, alice)
	if err := f.service.Delete(context.Background(), dave, ticket.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestGetStatsScopedForUserRole(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	createTicket(t, f, alice)
	createTicket(t, f, alice)
	createTicket(t, f, bob)

	own, err := f.service.GetStats(context.Background(), alice)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if own.Total != 2 || own.Open != 2 {
		t.Errorf("user stats = %+v, want Total=2 Open=2", own)
	}

	all, err := f.service.GetStats(context.Background(), carol)
	if err != nil {
		t.Fatalf("GetStats as agent: %v", err)
	}
	if all.Total != 3 {
		t.Errorf("agent stats total = %d, want 3", all.Total)
	}
}

func TestSmartRepliesFallsBackOnOracleError(t *testing.T) {
	f := newFixture(&fakeClassifier{
		category:   ai.CategoryTechnicalIssue,
		sentiment:  ai.SentimentNeutral,
		repliesErr: errors.New("down"),
	}, agentUsers()...)
	ticket := createTicket(t, f, alice)

	replies, err := f.service.SmartReplies(context.Background(), carol, ticket.ID)
	if err != nil {
		t.Fatalf("SmartReplies: %v", err)
	}
	if len(replies) != 1 || replies[0].Type != "Acknowledgment" {
		t.Errorf("replies = %+v, want single acknowledgment", replies)
	}

	_, err = f.service.SmartReplies(context.Background(), alice, ticket.ID)
	assertCode(t, err, "FORBIDDEN")
}

func TestTransitionRollsBackWhenActivityInsertFails(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)
	f.dispatcher.published = nil
	f.activity.createErr = errors.New("insert failed")

	status := domain.TicketStatusInProgress
	_, err := f.service.Transition(context.Background(), carol, ticket.ID, TicketUpdateInput{Status: &status})
	if err == nil {
		t.Fatal("expected error when the audit append fails")
	}

	stored, getErr := f.tickets.GetByID(context.Background(), ticket.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if stored.Status != domain.TicketStatusOpen {
		t.Errorf("stored status = %q, want %q (mutation must roll back with its audit entry)", stored.Status, domain.TicketStatusOpen)
	}
	if entries := f.activity.forTicket(ticket.ID); len(entries) != 1 {
		t.Errorf("activity entries = %d, want 1 (creation only)", len(entries))
	}
	if len(f.dispatcher.published) != 0 {
		t.Errorf("published events = %d, want 0", len(f.dispatcher.published))
	}
}

func TestAddCommentRollsBackWhenActivityInsertFails(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)
	f.activity.createErr = errors.New("insert failed")

	_, _, err := f.service.AddComment(context.Background(), alice, ticket.ID, "any update on this?")
	if err == nil {
		t.Fatal("expected error when the audit append fails")
	}

	comments, listErr := f.comments.ListByTicket(context.Background(), ticket.ID)
	if listErr != nil {
		t.Fatalf("ListByTicket: %v", listErr)
	}
	if len(comments) != 0 {
		t.Errorf("comments = %d, want 0 (append must roll back with its audit entry)", len(comments))
	}
}

func TestAddCommentRefreshesTicketTimestamp(t *testing.T) {
	f := newFixture(&fakeClassifier{category: ai.CategoryTechnicalIssue, sentiment: ai.SentimentNeutral}, agentUsers()...)
	ticket := createTicket(t, f, alice)
	past := time.Now().Add(-time.Hour)
	f.tickets.tickets[ticket.ID].UpdatedAt = past

	if _, _, err := f.service.AddComment(context.Background(), alice, ticket.ID, "any update on this?"); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.UpdatedAt.After(past) {
		t.Error("updatedAt not refreshed by the comment append")
	}
	if stored.Status != domain.TicketStatusOpen || stored.Title != ticket.Title {
		t.Errorf("comment append changed ticket fields: status=%q title=%q", stored.Status, stored.Title)
	}
}
