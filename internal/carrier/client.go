package carrier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrNotConfigured is returned when carrier credentials are missing.
var ErrNotConfigured = errors.New("carrier credentials not configured")

// Control is the subset of carrier operations the signaling layer needs:
// tearing down the network leg of a bridged call.
type Control interface {
	EndCall(ctx context.Context, carrierCallID string) error
}

// Client talks to the carrier's REST API and issues access tokens for
// browser clients.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	tokenTTL time.Duration
}

// NewClient creates a carrier client. baseURL may be empty, in which
// case the default carrier API endpoint is used.
func NewClient(accountSID, authToken, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.carrier.example.com/2010-04-01"
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("subsystem", "carrier"),
		tokenTTL:   time.Hour,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != ""
}

// EndCall asks the carrier to complete (hang up) an in-progress call.
func (c *Client) EndCall(ctx context.Context, carrierCallID string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, carrierCallID)

	form := url.Values{}
	form.Set("Status", "completed")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("carrier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("carrier API error (%d): %s", resp.StatusCode, string(body))
	}

	c.logger.Info("carrier leg terminated", "carrier_call_id", carrierCallID)
	return nil
}

// clientTokenClaims is the access token payload a browser client presents
// to the media gateway.
type clientTokenClaims struct {
	jwt.RegisteredClaims
	Identity string         `json:"identity"`
	Grants   map[string]any `json:"grants"`
}

// AccessToken issues a short-lived HS256 token granting the given client
// identity access to the voice gateway.
func (c *Client) AccessToken(identity string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	now := time.Now()
	claims := clientTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.accountSID,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
		},
		Identity: identity,
		Grants: map[string]any{
			"voice": map[string]any{
				"incoming": map[string]any{"allow": true},
			},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.authToken))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}
