package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/retry"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

// OpenAIPlanner plans queries through the OpenAI chat completion API.
// Also covers OpenAI-compatible local endpoints.
type OpenAIPlanner struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIPlanner creates a planner backed by OpenAI.
func NewOpenAIPlanner(cfg config.PlannerConfig, logger *zap.Logger) (*OpenAIPlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner API key is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIPlanner{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.Named("planner"),
	}, nil
}

// Plan implements Planner.
func (p *OpenAIPlanner) Plan(ctx context.Context, task string, schema *schemacache.Snapshot) (string, error) {
	raw, err := p.complete(ctx, planSystemPrompt, buildPlanPrompt(task, schema))
	if err != nil {
		return "", fmt.Errorf("plan query: %w", err)
	}
	return validatePlan(raw, schema)
}

// Decompose implements Planner.
func (p *OpenAIPlanner) Decompose(ctx context.Context, task string, databases []DatabaseMeta) (map[uuid.UUID]string, error) {
	raw, err := p.complete(ctx, decomposeSystemPrompt, buildDecomposePrompt(task, databases))
	if err != nil {
		return nil, fmt.Errorf("decompose task: %w", err)
	}
	return parseDecomposition(raw, databases)
}

func (p *OpenAIPlanner) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		p.logger.Error("completion failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", err
	}

	p.logger.Debug("completion finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(text)))
	return text, nil
}

// Ensure OpenAIPlanner implements Planner at compile time.
var _ Planner = (*OpenAIPlanner)(nil)
