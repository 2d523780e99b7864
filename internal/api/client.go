// Package api wraps the Diskuss REST endpoints the realtime core treats as
// opaque collaborators: authentication, profile, user search and discussion
// creation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/diskuss-client/internal/dto"
	"github.com/noah-isme/diskuss-client/internal/models"
	"github.com/noah-isme/diskuss-client/internal/socket"
)

// Client issues plain request/reply calls against the Diskuss API.
type Client struct {
	baseURL   string
	http      *http.Client
	validator *validator.Validate
	logger    zerolog.Logger
}

// envelope is the common response shape of the Diskuss API. Auth endpoints
// put the token at the top level; everything else nests under data.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Token   string          `json:"token,omitempty"`
}

// New constructs an API client for the given base URL.
func New(baseURL string, httpClient *http.Client, validate *validator.Validate, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:   baseURL,
		http:      httpClient,
		validator: validate,
		logger:    logger.With().Str("component", "api_client").Logger(),
	}
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/api/auth/login", username, password)
}

// Signup registers a new account and returns its bearer token.
func (c *Client) Signup(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/api/auth/signup", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (string, error) {
	payload := dto.LoginRequest{Username: username, Password: password}
	if err := c.validator.Struct(payload); err != nil {
		return "", err
	}

	env, err := c.do(ctx, http.MethodPost, path, "", payload)
	if err != nil {
		return "", err
	}
	if env.Token == "" {
		return "", fmt.Errorf("api: no token in auth response")
	}
	return env.Token, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context, token string) (models.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/diskuss/me", token, nil)
	if err != nil {
		return models.User{}, err
	}

	var user models.User
	if err := json.Unmarshal(env.Data, &user); err != nil {
		return models.User{}, fmt.Errorf("api: decode user: %w", err)
	}
	return user, nil
}

// Discussions fetches the user's discussion list over REST, the same set
// the websocket snapshot carries.
func (c *Client) Discussions(ctx context.Context, token string) ([]models.Discussion, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/diskuss/discussions", token, nil)
	if err != nil {
		return nil, err
	}

	var discussions []models.Discussion
	if err := json.Unmarshal(env.Data, &discussions); err != nil {
		return nil, fmt.Errorf("api: decode discussions: %w", err)
	}
	return discussions, nil
}

// SearchUsers returns candidates matching a partial username.
func (c *Client) SearchUsers(ctx context.Context, token, query string) ([]models.User, error) {
	path := "/api/diskuss/users?username=" + url.QueryEscape(query)
	env, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}

	var users []models.User
	if err := json.Unmarshal(env.Data, &users); err != nil {
		return nil, fmt.Errorf("api: decode users: %w", err)
	}
	return users, nil
}

// CreateDiscussion starts a new discussion with the given participant ids.
// The created entity surfaces in the directory on its next load.
func (c *Client) CreateDiscussion(ctx context.Context, token string, participantIDs []string) (models.Discussion, error) {
	payload := dto.CreateDiscussionRequest{Participants: participantIDs}
	if err := c.validator.Struct(payload); err != nil {
		return models.Discussion{}, err
	}

	env, err := c.do(ctx, http.MethodPost, "/api/diskuss/discussions", token, payload)
	if err != nil {
		return models.Discussion{}, err
	}

	var discussion models.Discussion
	if err := json.Unmarshal(env.Data, &discussion); err != nil {
		return models.Discussion{}, fmt.Errorf("api: decode discussion: %w", err)
	}
	return discussion, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) (envelope, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, fmt.Errorf("api: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, &socket.NetworkError{Op: method + " " + path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && resp.StatusCode < 300 {
		return envelope{}, fmt.Errorf("api: decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return envelope{}, &socket.AuthError{Reason: nonEmpty(env.Message, "credential rejected")}
	case resp.StatusCode >= 300:
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("api request failed")
		return envelope{}, fmt.Errorf("api: %s %s: %s (status %d)", method, path, nonEmpty(env.Message, "request failed"), resp.StatusCode)
	}

	return env, nil
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
