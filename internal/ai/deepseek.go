package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"elibrary-rag/internal/config"
	"elibrary-rag/internal/logger"
	"elibrary-rag/models"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// AnswerGenerationFailed is the user-facing fallback when the
// chat-completion call cannot produce an answer.
const AnswerGenerationFailed = "Sorry, something went wrong while answering your question."

// DeepSeekClient calls the DeepSeek chat-completions endpoint to generate
// grounded answers from retrieved book passages. Requests go through a
// circuit breaker and a client-side rate limiter; failures surface as
// structured results, never as raw errors to the HTTP layer.
type DeepSeekClient struct {
	apiKey  string
	apiURL  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	content string
	model   string
	tokens  int
}

func NewDeepSeekClient(cfg *config.Config) *DeepSeekClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "DeepSeekAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	timeout := time.Duration(cfg.GenerationTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &DeepSeekClient{
		apiKey:  cfg.DeepSeekAPIKey,
		apiURL:  cfg.DeepSeekAPIURL,
		model:   cfg.DeepSeekModel,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// IsConfigured reports whether an API credential is set.
func (d *DeepSeekClient) IsConfigured() bool {
	return d.apiKey != ""
}

// GenerateWithContext builds a RAG prompt from the retrieved passages and
// asks the model to answer the question. Any failure is converted into a
// structured result carrying a generic fallback answer.
func (d *DeepSeekClient) GenerateWithContext(ctx context.Context, question string, searchResults []models.SearchResult) *models.QueryResult {
	messages := []chatMessage{
		{Role: "system", Content: buildSystemPrompt()},
		{Role: "user", Content: buildUserPrompt(question, buildContextPrompt(searchResults))},
	}

	resp, err := d.chat(ctx, messages)
	if err != nil {
		logger.Error("DeepSeek RAG failed", "error", err)
		return &models.QueryResult{
			Success: false,
			Error:   err.Error(),
			Answer:  AnswerGenerationFailed,
		}
	}

	return &models.QueryResult{
		Success:     true,
		Answer:      resp.content,
		Model:       resp.model,
		Tokens:      resp.tokens,
		ContextUsed: len(searchResults),
	}
}

func (d *DeepSeekClient) chat(ctx context.Context, messages []chatMessage) (*chatResponse, error) {
	if d.apiKey == "" {
		return nil, models.ErrGenerationNotConfigured
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationRequest, err)
	}

	payload, err := json.Marshal(map[string]any{
		"model":       d.model,
		"messages":    messages,
		"temperature": 0.7,
		"max_tokens":  2000,
		"stream":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationRequest, err)
	}

	result, err := d.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+d.apiKey)

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read deepseek response: %v", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("deepseek API error %d: %s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Model   string `json:"model"`
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode deepseek response: %v", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("deepseek returned empty choices")
		}

		return &chatResponse{
			content: parsed.Choices[0].Message.Content,
			model:   parsed.Model,
			tokens:  parsed.Usage.TotalTokens,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationRequest, err)
	}

	return result.(*chatResponse), nil
}

func buildSystemPrompt() string {
	return `You are an AI assistant that helps readers understand books in a digital library.

Your tasks:
1. Answer the reader's question using the context provided from the book
2. Give accurate, informative answers that are easy to follow
3. If the information is not in the context, say so honestly
4. Respond in the same language the question was asked in
5. Point to specific parts of the book when possible

Guidelines:
- Stick to facts found in the book
- Never invent information that is not in the context
- If the question is unrelated to the book, steer the reader back to its content
- Keep answers concise but complete`
}

func buildContextPrompt(searchResults []models.SearchResult) string {
	if len(searchResults) == 0 {
		return "No relevant context was found."
	}

	var b strings.Builder
	b.WriteString("Here are the relevant passages from the book:\n\n")
	for i, item := range searchResults {
		text, _ := item.Payload["text"].(string)
		fmt.Fprintf(&b, "--- Segment %d (Relevance: %.1f%%) ---\n", i+1, item.Score*100)
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildUserPrompt(question, contextPrompt string) string {
	return fmt.Sprintf(`%s

Based on the context above, answer the following question:

%s

Instructions:
- Use ONLY the information from the provided context
- If the information is insufficient, say that you need more information
- Answer clearly and with structure
- Reference specific segments when possible`, contextPrompt, question)
}
