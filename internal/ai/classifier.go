package ai

import "context"

// Ticket categories the classifier may return.
const (
	CategoryTechnicalIssue  = "Technical Issue"
	CategoryBillingQuestion = "Billing Question"
	CategoryFeatureRequest  = "Feature Request"
	CategoryGeneralInquiry  = "General Inquiry"
	CategoryBugReport       = "Bug Report"
	CategoryAccountIssue    = "Account Issue"
)

// Sentiments the analyzer may return.
const (
	SentimentPositive = "Positive"
	SentimentNeutral  = "Neutral"
	SentimentNegative = "Negative"
	SentimentUrgent   = "Urgent"
)

// Fallback values substituted whenever a classifier call fails. The
// rest of the pipeline must behave correctly when fed these, so a
// classifier outage never blocks ticket creation.
const (
	FallbackCategory  = CategoryGeneralInquiry
	FallbackSentiment = SentimentNeutral
)

// Reply is a drafted agent response suggestion.
type Reply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FallbackReplies returns the single generic acknowledgment used when
// reply generation fails.
func FallbackReplies() []Reply {
	return []Reply{{
		Type:    "Acknowledgment",
		Message: "Thank you for reaching out. We've received your ticket and will respond shortly.",
	}}
}

// TicketSnapshot carries the ticket fields reply generation needs.
type TicketSnapshot struct {
	Title       string
	Description string
	Category    string
	Sentiment   string
}

// Classifier is the external classification oracle. Implementations
// enforce their own per-call timeout; callers convert any error into
// the documented fallback value.
type Classifier interface {
	Classify(ctx context.Context, title, description string) (string, error)
	Sentiment(ctx context.Context, text string) (string, error)
	SmartReplies(ctx context.Context, ticket TicketSnapshot) ([]Reply, error)
}

func validCategory(c string) bool {
	switch c {
	case CategoryTechnicalIssue, CategoryBillingQuestion, CategoryFeatureRequest,
		CategoryGeneralInquiry, CategoryBugReport, CategoryAccountIssue:
		return true
	}
	return false
}

func validSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentUrgent:
		return true
	}
	return false
}
