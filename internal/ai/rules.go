package ai

import "github.com/servicedesk/crm-service/internal/domain"

// SuggestPriority derives a priority from sentiment and category.
// Rules are evaluated top-down; the first match wins.
func SuggestPriority(sentiment, category string) domain.TicketPriority {
	if sentiment == SentimentUrgent {
		return domain.TicketPriorityUrgent
	}
	if sentiment == SentimentNegative {
		switch category {
		case CategoryTechnicalIssue, CategoryBugReport, CategoryAccountIssue:
			return domain.TicketPriorityHigh
		}
		return domain.TicketPriorityMedium
	}
	if category == CategoryBugReport {
		return domain.TicketPriorityMedium
	}
	if category == CategoryFeatureRequest {
		return domain.TicketPriorityLow
	}
	if sentiment == SentimentPositive {
		return domain.TicketPriorityLow
	}
	return domain.TicketPriorityMedium
}

// Confidence scores a classification 0-100: the average of fixed
// per-field confidence levels, rounded half up. Total over the whole
// category/sentiment domain, fallback values included:
// the all-fallback path yields (70+75)/2 -> 73.
func Confidence(category, sentiment string) int {
	categoryConfidence := 85
	if category == CategoryGeneralInquiry {
		categoryConfidence = 70
	}
	sentimentConfidence := 90
	if sentiment == SentimentNeutral {
		sentimentConfidence = 75
	}
	return (categoryConfidence + sentimentConfidence + 1) / 2
}
