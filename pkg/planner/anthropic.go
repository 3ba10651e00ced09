package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/retry"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
)

const defaultMaxTokens = 2048

// AnthropicPlanner plans queries through the Anthropic Messages API.
type AnthropicPlanner struct {
	client  *anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnthropicPlanner creates a planner backed by Anthropic.
func NewAnthropicPlanner(cfg config.PlannerConfig, logger *zap.Logger) (*AnthropicPlanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("planner API key is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicPlanner{
		client:  anthropic.NewClient(cfg.APIKey),
		model:   anthropic.Model(cfg.Model),
		timeout: timeout,
		logger:  logger.Named("planner"),
	}, nil
}

// Plan implements Planner.
func (p *AnthropicPlanner) Plan(ctx context.Context, task string, schema *schemacache.Snapshot) (string, error) {
	raw, err := p.complete(ctx, planSystemPrompt, buildPlanPrompt(task, schema))
	if err != nil {
		return "", fmt.Errorf("plan query: %w", err)
	}
	return validatePlan(raw, schema)
}

// Decompose implements Planner.
func (p *AnthropicPlanner) Decompose(ctx context.Context, task string, databases []DatabaseMeta) (map[uuid.UUID]string, error) {
	raw, err := p.complete(ctx, decomposeSystemPrompt, buildDecomposePrompt(task, databases))
	if err != nil {
		return nil, fmt.Errorf("decompose task: %w", err)
	}
	return parseDecomposition(raw, databases)
}

// complete sends one bounded, retried completion request.
func (p *AnthropicPlanner) complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	text, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
		resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:     p.model,
			System:    system,
			MaxTokens: defaultMaxTokens,
			Messages: []anthropic.Message{
				anthropic.NewUserTextMessage(prompt),
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", fmt.Errorf("empty completion")
		}
		return resp.Content[0].GetText(), nil
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

// Ensure AnthropicPlanner implements Planner at compile time.
var _ Planner = (*AnthropicPlanner)(nil)
