// Package badgesync pushes platform users to the OpenBadges server so badges
// can be issued to them.
package badgesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/badgeauth/internal/account"
	"github.com/yourorg/badgeauth/internal/platformtoken"
)

const syncPath = "/api/v1/users/sync"

// Credentials produces per-user request headers for the OpenBadges server.
type Credentials interface {
	CreateOpenBadgesAPIClient(u *account.User) (*platformtoken.APIClient, error)
}

// Client calls the OpenBadges server as the user being synced.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  *zap.Logger
}

// New returns a client for baseURL. An empty baseURL yields a client whose
// SyncUser does nothing.
func New(baseURL string, creds Credentials, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    httpClient,
		logger:  logger,
	}
}

// Enabled reports whether a server URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type syncRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsAdmin   bool   `json:"isAdmin"`
}

// SyncUser upserts u on the OpenBadges server.
func (c *Client) SyncUser(ctx context.Context, u *account.User) error {
	if !c.Enabled() {
		return nil
	}
	api, err := c.creds.CreateOpenBadgesAPIClient(u)
	if err != nil {
		return fmt.Errorf("openbadges credentials: %w", err)
	}
	body, err := json.Marshal(syncRequest{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsAdmin:   u.IsAdmin,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range api.Headers {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("openbadges sync: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("openbadges sync: unexpected status %d", resp.StatusCode)
	}
	c.logger.Debug("user synced to openbadges", zap.String("user_id", u.ID))
	return nil
}
