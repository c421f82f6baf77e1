// Package strava is a minimal client for the Strava OAuth and activities APIs.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linhptit/strava-webhook-vercel/internal/observability"
	"github.com/linhptit/strava-webhook-vercel/internal/redact"
)

const maxResponseBodyBytes = 1 << 20 // 1 MiB

var (
	// ErrMissingAccessToken is returned when the token endpoint answers without an access token.
	ErrMissingAccessToken = errors.New("strava: token response missing access token")
	// ErrMissingRefreshToken is returned when a code exchange yields no refresh token.
	ErrMissingRefreshToken = errors.New("strava: token response missing refresh token")
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes how to reach Strava.
type Config struct {
	OAuthURL     string
	APIURL       string
	ClientID     string
	ClientSecret redact.Secret
	HTTPClient   HTTPDoer
}

// Client talks to the Strava OAuth and REST endpoints.
type Client struct {
	oauthURL     string
	apiURL       string
	clientID     string
	clientSecret redact.Secret
	httpClient   HTTPDoer
}

// NewClient constructs a Client. A nil HTTPClient falls back to a 10s timeout client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		oauthURL:     strings.TrimRight(cfg.OAuthURL, "/"),
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}
}

// APIError is a non-2xx answer from Strava.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("strava: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("strava: %s failed with status %d: %s", e.Op, e.Status, e.Message)
}

// Athlete is the summary returned alongside an authorization code grant.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// TokenGrant is the result of a token exchange.
type TokenGrant struct {
	AccessToken  redact.Secret
	RefreshToken redact.Secret
	ExpiresAt    time.Time
	Athlete      *Athlete
}

type tokenPayload struct {
	TokenType    string   `json:"token_type"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    int64    `json:"expires_at"`
	Athlete      *Athlete `json:"athlete"`
}

// Exchange trades a refresh token for a short-lived access token. It never retries.
func (c *Client) Exchange(ctx context.Context, refreshToken redact.Secret) (redact.Secret, error) {
	if refreshToken.Empty() {
		return "", errors.New("strava: refresh token is required")
	}
	grant, err := c.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken.Reveal(),
	})
	if err != nil {
		return "", err
	}
	return grant.AccessToken, nil
}

// ExchangeCode completes the authorization code flow used to link an athlete.
func (c *Client) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenGrant{}, errors.New("strava: authorization code is required")
	}
	grant, err := c.token(ctx, "authorization_code", map[string]string{"code": code})
	if err != nil {
		return TokenGrant{}, err
	}
	if grant.RefreshToken.Empty() {
		return TokenGrant{}, ErrMissingRefreshToken
	}
	return grant, nil
}

// AuthorizeURL builds the consent URL an athlete is redirected to.
func (c *Client) AuthorizeURL(redirectURI, scope, state string) string {
	values := url.Values{}
	values.Set("client_id", c.clientID)
	values.Set("response_type", "code")
	values.Set("redirect_uri", redirectURI)
	values.Set("approval_prompt", "auto")
	values.Set("scope", scope)
	if state != "" {
		values.Set("state", state)
	}
	return c.oauthURL + "/authorize?" + values.Encode()
}

func (c *Client) token(ctx context.Context, grantType string, params map[string]string) (TokenGrant, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret.Reveal(),
		"grant_type":    grantType,
	}
	for key, value := range params {
		body[key] = value
	}

	var payload tokenPayload
	if err := c.do(ctx, "token_exchange", http.MethodPost, c.oauthURL+"/token", "", body, &payload); err != nil {
		return TokenGrant{}, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return TokenGrant{}, ErrMissingAccessToken
	}

	grant := TokenGrant{
		AccessToken:  redact.Secret(payload.AccessToken),
		RefreshToken: redact.Secret(payload.RefreshToken),
		Athlete:      payload.Athlete,
	}
	if payload.ExpiresAt > 0 {
		grant.ExpiresAt = time.Unix(payload.ExpiresAt, 0).UTC()
	}
	return grant, nil
}

// Activity is the subset of a Strava activity this service reads.
type Activity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
}

// ActivityUpdate lists the writable fields; nil fields are left untouched.
type ActivityUpdate struct {
	Title       *string `json:"title,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// GetActivity reads one activity.
func (c *Client) GetActivity(ctx context.Context, accessToken redact.Secret, activityID string) (Activity, error) {
	var activity Activity
	if err := c.do(ctx, "get_activity", http.MethodGet, c.activityURL(activityID), accessToken, nil, &activity); err != nil {
		return Activity{}, err
	}
	return activity, nil
}

// UpdateActivity writes the non-nil fields of update and returns the stored activity.
func (c *Client) UpdateActivity(ctx context.Context, accessToken redact.Secret, activityID string, update ActivityUpdate) (Activity, error) {
	var activity Activity
	if err := c.do(ctx, "update_activity", http.MethodPut, c.activityURL(activityID), accessToken, update, &activity); err != nil {
		return Activity{}, err
	}
	return activity, nil
}

func (c *Client) activityURL(activityID string) string {
	return c.apiURL + "/activities/" + url.PathEscape(strings.TrimSpace(activityID))
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, accessToken redact.Secret, in, out any) error {
	var reader io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("strava: encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("strava: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !accessToken.Empty() {
		req.Header.Set("Authorization", "Bearer "+accessToken.Reveal())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordUpstreamCall(op, "error", time.Since(start))
		return fmt.Errorf("strava: %s request: %w", op, err)
	}
	defer resp.Body.Close()
	observability.RecordUpstreamCall(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return fmt.Errorf("strava: read %s response: %w", op, err)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return fmt.Errorf("strava: %s response exceeds %d bytes", op, maxResponseBodyBytes)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{Op: op, Status: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("strava: decode %s response: %w", op, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}
