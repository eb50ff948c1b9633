package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/servicedesk/crm-service/internal/config"
)

// OpenAIClassifier talks to an OpenAI-compatible chat-completions
// endpoint. Every call carries its own timeout; callers are expected to
// map errors to the documented fallbacks.
type OpenAIClassifier struct {
	baseURL      string
	apiKey       string
	model        string
	repliesModel string
	timeout      time.Duration
	client       *http.Client
}

// NewOpenAIClassifier builds the adapter from config.
func NewOpenAIClassifier(cfg config.AIConfig) *OpenAIClassifier {
	return &OpenAIClassifier{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		repliesModel: cfg.RepliesModel,
		timeout:      cfg.Timeout(),
		client:       &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify asks the model for one of the known ticket categories.
func (o *OpenAIClassifier) Classify(ctx context.Context, title, description string) (string, error) {
	prompt := fmt.Sprintf(`Analyze this support ticket and classify it into ONE of these categories:
- Technical Issue
- Billing Question
- Feature Request
- General Inquiry
- Bug Report
- Account Issue

Ticket Title: %s
Ticket Description: %s

Respond with ONLY the category name, nothing else.`, title, description)

	content, err := o.complete(ctx, chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a support ticket classifier. Respond only with the category name."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   20,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Sentiment asks the model for the message sentiment.
func (o *OpenAIClassifier) Sentiment(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Analyze the sentiment of this customer message:

%q

Classify the sentiment as ONE of these:
- Positive (customer is happy, satisfied)
- Neutral (factual, no strong emotion)
- Negative (frustrated, unhappy)
- Urgent (angry, demanding immediate attention)

Respond with ONLY the sentiment word, nothing else.`, text)

	content, err := o.complete(ctx, chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a sentiment analyzer. Respond only with: Positive, Neutral, Negative, or Urgent."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   10,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// SmartReplies drafts reply suggestions for agents.
func (o *OpenAIClassifier) SmartReplies(ctx context.Context, ticket TicketSnapshot) ([]Reply, error) {
	category := ticket.Category
	if category == "" {
		category = "General"
	}
	sentiment := ticket.Sentiment
	if sentiment == "" {
		sentiment = SentimentNeutral
	}
	prompt := fmt.Sprintf(`You are a helpful customer support agent. Based on this ticket, generate 3 professional reply suggestions.

Ticket Title: %s
Ticket Description: %s
Category: %s
Sentiment: %s

Generate 3 different reply options:
1. Empathetic and detailed response
2. Quick acknowledgment response
3. Solution-focused response

Format as JSON object with a "replies" array of objects containing "type" and "message" fields.`,
		ticket.Title, ticket.Description, category, sentiment)

	content, err := o.complete(ctx, chatRequest{
		Model: o.repliesModel,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a customer support expert. Generate helpful, professional responses."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      500,
		Temperature:    0.7,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Replies []Reply `json:"replies"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse replies: %w", err)
	}
	if len(parsed.Replies) == 0 {
		return nil, errors.New("no replies generated")
	}
	return parsed.Replies, nil
}

func (o *OpenAIClassifier) complete(ctx context.Context, reqBody chatRequest) (string, error) {
	if o.apiKey == "" {
		return "", errors.New("classifier not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return parsed.Choices[0].Message.Content, nil
}
