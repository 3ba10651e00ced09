package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
	"github.com/easydata-inc/easydata-engine/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(&config.VaultConfig{
		BaseURL:        server.URL,
		APIToken:       "engine-token",
		TimeoutSeconds: 2,
	}, zap.NewNop())
}

func TestFetchCredentials_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credentials/user-1/postgres", r.URL.Path)
		assert.Equal(t, "Bearer engine-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"host":"db.internal","port":5432,"username":"u","password":"p","database":"sales"}`))
	})

	creds, err := client.FetchCredentials(context.Background(), "user-1", "postgres")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "db.internal", creds.Host)
	assert.Equal(t, 5432, creds.Port)
	assert.Equal(t, "sales", creds.Database)
}

func TestFetchCredentials_NotFoundMeansNoCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	creds, err := client.FetchCredentials(context.Background(), "user-1", "mysql")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestFetchCredentials_RejectedToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.FetchCredentials(context.Background(), "user-1", "postgres")
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}

func TestFetchCredentials_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"host":"db.internal","database":"sales"}`))
	})

	creds, err := client.FetchCredentials(context.Background(), "user-1", "postgres")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchCredentials_IncompleteResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"u"}`))
	})

	_, err := client.FetchCredentials(context.Background(), "user-1", "postgres")
	assert.ErrorIs(t, err, apperrors.ErrCredentialInvalid)
}
