// Package digest asks a chat model for a short prose summary of a trend
// analysis.
package digest

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/trends"
)

//go:embed prompts/*.txt
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.txt"))

// ErrNoTrends is returned when there is nothing to summarize.
var ErrNoTrends = errors.New("no trends to digest")

// Completer is the part of the OpenAI client used here.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Writer produces digests.
type Writer struct {
	client   Completer
	model    string
	maxWords int
	logger   *slog.Logger
}

// New returns a Writer using client. An empty model selects GPT-4o mini.
func New(client Completer, model string, logger *slog.Logger) *Writer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Writer{
		client:   client,
		model:    model,
		maxWords: 120,
		logger:   logger.With(slog.String("component", "digest")),
	}
}

// NewOpenAI returns a Writer backed by the OpenAI API.
func NewOpenAI(apiKey, model string, logger *slog.Logger) *Writer {
	return New(openai.NewClient(apiKey), model, logger)
}

type promptData struct {
	MaxWords    int
	Days        int
	WindowStart string
	WindowEnd   string
	MinChange   float64
	Total       int
	Rising      int
	Declining   int
	AvgChange   float64
	Movers      []trends.TrendRecord
}

// Digest writes a digest of res covering at most top movers.
func (w *Writer) Digest(ctx context.Context, res *insights.TrendResult, top int) (string, error) {
	if res == nil || res.Summary == nil {
		return "", ErrNoTrends
	}
	if top <= 0 || top > len(res.Records) {
		top = len(res.Records)
	}

	data := promptData{
		MaxWords:    w.maxWords,
		Days:        res.Days,
		WindowStart: res.WindowStart.Format(time.DateOnly),
		WindowEnd:   res.WindowEnd.Format(time.DateOnly),
		MinChange:   res.MinChangePercent,
		Total:       res.Summary.TotalTrends,
		Rising:      res.Summary.RisingCount,
		Declining:   res.Summary.DecliningCount,
		AvgChange:   res.Summary.AvgChangePercent,
		Movers:      res.Records[:top],
	}

	var system, user strings.Builder
	if err := prompts.ExecuteTemplate(&system, "system.txt", data); err != nil {
		return "", fmt.Errorf("failed to generate system prompt: %w", err)
	}
	if err := prompts.ExecuteTemplate(&user, "digest.txt", data); err != nil {
		return "", fmt.Errorf("failed to generate digest prompt: %w", err)
	}

	resp, err := w.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system.String()},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get OpenAI completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("failed to get OpenAI completion: empty response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	w.logger.DebugContext(ctx, "Generated digest",
		slog.Int("movers", top),
		slog.Int("total_tokens", resp.Usage.TotalTokens))
	return text, nil
}
