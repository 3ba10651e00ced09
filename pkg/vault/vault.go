// Package vault fetches per-user datasource credentials from the external
// secret store. It is a pure lookup adapter: stateless beyond its HTTP
// client and safe to share across workers.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/logging"
	"github.com/easydata-inc/easydata-engine/pkg/retry"
)

// Credentials are the decrypted connection parameters for one user database.
type Credentials struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Database string            `json:"database"`
	Options  map[string]string `json:"options,omitempty"`
}

// CredentialFetcher is the boundary contract consumed by the connection
// registry. Returns (nil, nil) when the vault holds no credentials for
// the key.
type CredentialFetcher interface {
	FetchCredentials(ctx context.Context, userID, dbType string) (*Credentials, error)
}

// Client talks to the secret-store HTTP API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a vault client from configuration.
func NewClient(cfg *config.VaultConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchCredentials retrieves credentials for (userID, dbType).
// Transient vault failures are retried with backoff; a 404 means the user
// has no stored credentials for this database type and yields (nil, nil).
func (c *Client) FetchCredentials(ctx context.Context, userID, dbType string) (*Credentials, error) {
	endpoint := fmt.Sprintf("%s/credentials/%s/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(dbType))

	creds, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*Credentials, error) {
		return c.fetchOnce(ctx, endpoint)
	})
	if err != nil {
		c.logger.Error("vault lookup failed",
			zap.String("userID", userID),
			zap.String("dbType", dbType),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}
	return creds, nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build vault request: %w", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to decode below.
	case http.StatusNotFound:
		return nil, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: vault rejected engine token (status %d)",
			apperrors.ErrCredentialInvalid, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vault returned status %d: %s", resp.StatusCode, string(body))
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("%w: decode vault response: %v", apperrors.ErrCredentialInvalid, err)
	}
	if creds.Host == "" || creds.Database == "" {
		return nil, fmt.Errorf("%w: vault response missing host or database", apperrors.ErrCredentialInvalid)
	}
	return &creds, nil
}

// Ensure Client implements CredentialFetcher at compile time.
var _ CredentialFetcher = (*Client)(nil)
