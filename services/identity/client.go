// Package identity reads user records from the Keycloak admin API using a
// service-account token.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services"
)

const defaultTimeout = 10 * time.Second

// Client fetches users from the identity provider. The service-account
// token is cached until expiry and refetched when rejected.
type Client struct {
	credentials   clientcredentials.Config
	adminUsersURL string
	httpClient    *http.Client
	logger        *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient creates a new identity provider client
func NewClient(cfg config.KeycloakConfig, logger *zap.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		credentials: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL(),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		adminUsersURL: cfg.AdminUsersURL(),
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// GetUser returns the user with the given id. A user the provider does not
// know yields ErrUserNotFound; any other failure is IdentityProviderUnavailable.
func (c *Client) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	if userID == "" {
		return nil, services.Reject(services.ErrInvalidInput, "user id is required")
	}

	resp, err := c.getUser(ctx, userID)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.logger.Debug("service token rejected, refreshing")
		c.clearToken()
		resp, err = c.getUser(ctx, userID)
	}
	if err != nil {
		return nil, services.WrapIdentityProviderUnavailable("fetch user", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.ErrUserNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, services.WrapIdentityProviderUnavailable("fetch user",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
	}

	var user models.UserRecord
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, services.WrapIdentityProviderUnavailable("decode user", err)
	}
	return &user, nil
}

func (c *Client) getUser(ctx context.Context, userID string) (*http.Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminUsersURL+"/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	return c.httpClient.Do(req)
}

// Token returns the cached service account token, fetching a new one when
// missing or expired. Concurrent refreshes are harmless; the last one is kept.
func (c *Client) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token.Valid() {
		return token, nil
	}

	token, err := c.credentials.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			c.logger.Error("service token request refused",
				zap.Int("status", retrieveErr.Response.StatusCode),
				zap.String("error_code", retrieveErr.ErrorCode),
			)
		}
		return nil, fmt.Errorf("fetch service token: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
