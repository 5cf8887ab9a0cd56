// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authclient is a Go client for the taskd /api/auth endpoints.
//
// Failures reported by the server are returned as oops errors carrying the
// server's error code, so callers can match them with the same codes the
// server uses (INVALID_CREDENTIALS, INVALID_REFRESH_TOKEN, ...). The HTTP
// status is attached as the "status" context value.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/taskd/pkg/sessionguard"
)

const maxBodyBytes = 1 << 20

// CodeUnexpectedResponse marks a response that is not a taskd envelope.
const CodeUnexpectedResponse = "UNEXPECTED_RESPONSE"

// Config tunes a Client.
type Config struct {
	Timeout time.Duration
	// Retries applies to idempotent requests only. Token exchanges are never
	// retried because the server rotates on first use.
	Retries   uint64
	RetryWait time.Duration
	// HTTPClient overrides the default transport.
	HTTPClient *http.Client
}

// DefaultConfig returns the defaults used by New.
func DefaultConfig() Config {
	return Config{
		Timeout:   15 * time.Second,
		Retries:   2,
		RetryWait: 250 * time.Millisecond,
	}
}

// Client calls a taskd server.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     Config
}

// New creates a Client for the server at baseURL.
func New(baseURL string, cfg Config) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, oops.Code("AUTHCLIENT_INVALID").Errorf("base URL is required")
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultConfig().RetryWait
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	return &Client{baseURL: baseURL, http: httpClient, cfg: cfg}, nil
}

// User is the account view returned by the server.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	PhoneNumber   *string    `json:"phoneNumber,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// RegisterParams describes a new account.
type RegisterParams struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber *string
}

// Registration is the result of Register. Token is an access token with no
// refresh token behind it.
type Registration struct {
	User  *User
	Token string
}

// LoginResult is the result of Login.
type LoginResult struct {
	User        *User
	Credentials sessionguard.Credentials
}

type registerBody struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword string  `json:"confirmPassword"`
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	PhoneNumber     *string `json:"phoneNumber,omitempty"`
}

type authData struct {
	User         *User  `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		RequestID string            `json:"requestId"`
	} `json:"error"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, p RegisterParams) (*Registration, error) {
	var data authData
	err := c.post(ctx, "/api/auth/register", "", registerBody{
		Email:           p.Email,
		Password:        p.Password,
		ConfirmPassword: p.Password,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		PhoneNumber:     p.PhoneNumber,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &Registration{User: data.User, Token: data.Token}, nil
}

// Login exchanges an email and password for a session.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var data authData
	err := c.post(ctx, "/api/auth/login", "", map[string]string{
		"username": email,
		"password": password,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User: data.User,
		Credentials: sessionguard.Credentials{
			AccessToken:  data.Token,
			RefreshToken: data.RefreshToken,
		},
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// is dead once this returns successfully.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (sessionguard.Credentials, error) {
	var creds sessionguard.Credentials
	if err := c.post(ctx, "/api/auth/refresh", "", map[string]string{"refreshToken": refreshToken}, &creds); err != nil {
		return sessionguard.Credentials{}, err
	}
	return creds, nil
}

// Logout ends the session of accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.post(ctx, "/api/auth/logout", accessToken, nil, nil)
}

// Session returns the user behind accessToken.
func (c *Client) Session(ctx context.Context, accessToken string) (*User, error) {
	var data struct {
		User *User `json:"user"`
	}
	backoff := retry.WithMaxRetries(c.cfg.Retries, retry.NewExponential(c.cfg.RetryWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, "/api/auth/session", accessToken, nil, &data)
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data.User, nil
}

// ForgotPassword asks the server to send a reset link to email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.post(ctx, "/api/auth/forgot-password", "", map[string]string{"email": email}, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	return c.post(ctx, "/api/auth/reset-password", "", map[string]string{
		"token":           token,
		"password":        password,
		"confirmPassword": password,
	}, nil)
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, bearer, body, out)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return oops.Code("AUTHCLIENT_ENCODE_FAILED").With("path", path).Wrap(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return oops.Code("AUTHCLIENT_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("AUTHCLIENT_TRANSPORT_FAILED").With("path", path).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeResponse(resp, path, out)
}

func decodeResponse(resp *http.Response, path string, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return oops.Code("AUTHCLIENT_TRANSPORT_FAILED").
			With("path", path).
			With("status", resp.StatusCode).
			Wrap(err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || (!env.Success && env.Error == nil) {
		return oops.Code(CodeUnexpectedResponse).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("server returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	if !env.Success {
		b := oops.Code(env.Error.Code).
			With("path", path).
			With("status", resp.StatusCode)
		if env.Error.RequestID != "" {
			b = b.With("request_id", env.Error.RequestID)
		}
		if len(env.Error.Fields) > 0 {
			b = b.With("fields", env.Error.Fields)
		}
		return b.Errorf("%s", env.Error.Message)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return oops.Code(CodeUnexpectedResponse).With("path", path).Wrap(err)
	}
	return nil
}

// Status returns the HTTP status attached to an error from this package,
// or 0 when the request never got a response.
func Status(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	status, _ := oopsErr.Context()["status"].(int)
	return status
}

// retryable reports transport failures and 5xx responses.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	status := Status(err)
	if status == 0 {
		oopsErr, ok := oops.AsOops(err)
		return ok && oopsErr.Code() == "AUTHCLIENT_TRANSPORT_FAILED"
	}
	return status >= 500 && status != http.StatusNotImplemented
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ sessionguard.Refresher = (*Client)(nil)
