package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/logging"
	"github.com/easydata-inc/easydata-engine/pkg/retry"
)

// Client fetches ownership data from the backend HTTP API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an ownership client against the backend base URL.
func NewClient(baseURL, apiToken string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ListDatabases returns the databases attached to the user's account.
// Transient failures are retried with backoff.
func (c *Client) ListDatabases(ctx context.Context, userID string) ([]Database, error) {
	endpoint := fmt.Sprintf("%s/users/%s/databases", c.baseURL, url.PathEscape(userID))

	databases, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]Database, error) {
		return c.listOnce(ctx, endpoint)
	})
	if err != nil {
		c.logger.Error("ownership lookup failed",
			zap.String("userID", userID),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}
	return databases, nil
}

func (c *Client) listOnce(ctx context.Context, endpoint string) ([]Database, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build ownership request: %w", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ownership request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ownership API returned status %d: %s", resp.StatusCode, string(body))
	}

	var databases []Database
	if err := json.NewDecoder(resp.Body).Decode(&databases); err != nil {
		return nil, fmt.Errorf("decode ownership response: %w", err)
	}
	return databases, nil
}

// Ensure Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
