package ai

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/domain"
)

// Enrichment is the joined result of the two classification calls plus
// the derived priority suggestion and confidence score.
type Enrichment struct {
	Category          string
	Sentiment         string
	SuggestedPriority domain.TicketPriority
	Confidence        int
	ProcessedAt       time.Time
}

// Enrich runs the category and sentiment calls concurrently and joins
// them. Either call failing, timing out or returning a value outside
// its enumerated domain degrades to that call's fallback; Enrich itself
// never fails.
func Enrich(ctx context.Context, classifier Classifier, logger *zap.Logger, title, description string) Enrichment {
	category := FallbackCategory
	sentiment := FallbackSentiment

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result, err := classifier.Classify(ctx, title, description)
		if err != nil {
			logger.Warn("classification failed, using fallback", zap.Error(err))
			return
		}
		if !validCategory(result) {
			logger.Warn("classifier returned unknown category", zap.String("category", result))
			return
		}
		category = result
	}()
	go func() {
		defer wg.Done()
		result, err := classifier.Sentiment(ctx, description)
		if err != nil {
			logger.Warn("sentiment analysis failed, using fallback", zap.Error(err))
			return
		}
		if !validSentiment(result) {
			logger.Warn("analyzer returned unknown sentiment", zap.String("sentiment", result))
			return
		}
		sentiment = result
	}()
	wg.Wait()

	return Enrichment{
		Category:          category,
		Sentiment:         sentiment,
		SuggestedPriority: SuggestPriority(sentiment, category),
		Confidence:        Confidence(category, sentiment),
		ProcessedAt:       time.Now(),
	}
}
