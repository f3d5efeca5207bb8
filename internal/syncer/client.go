// Package syncer talks to the remote delivery server: subscription upserts,
// notification reconciliation, and the lightweight interaction callbacks the
// background worker fires on action clicks. Everything here is best-effort
// from the caller's point of view.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/models"
)

// ErrNetwork classifies transport failures so callers can degrade instead
// of surfacing them.
var ErrNetwork = errors.New("syncer: network error")

type Config struct {
	BaseURL string
	Secret  string
	OwnerID string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	secret  []byte
	ownerID string
	http    *http.Client
	logger  zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		secret:  []byte(cfg.Secret),
		ownerID: cfg.OwnerID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "sync_client").Logger(),
	}
}

func (c *Client) UploadSubscription(ctx context.Context, sub models.Subscription) error {
	return c.send(ctx, http.MethodPost, "/v1/subscriptions", sub, nil)
}

func (c *Client) RemoveSubscription(ctx context.Context, endpoint string) error {
	body := map[string]string{"endpoint": endpoint}
	return c.send(ctx, http.MethodDelete, "/v1/subscriptions", body, nil)
}

type reconcileRequest struct {
	OwnerID string                      `json:"owner_id"`
	Records []models.NotificationRecord `json:"records"`
}

type reconcileResponse struct {
	Records []models.NotificationRecord `json:"records"`
}

// ReconcileRecords pushes the local records and returns the server's merged
// view. Conflict resolution is last-write-wins by record id and updated
// timestamp; the caller applies the returned set the same way.
func (c *Client) ReconcileRecords(ctx context.Context, local []models.NotificationRecord) ([]models.NotificationRecord, error) {
	var resp reconcileResponse
	req := reconcileRequest{OwnerID: c.ownerID, Records: local}
	if err := c.send(ctx, http.MethodPost, "/v1/notifications/sync", req, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Reply forwards captured action input. The worker calls this in the
// background; it must never block notification closure.
func (c *Client) Reply(ctx context.Context, rec models.NotificationRecord, text string) error {
	body := map[string]string{"notification_id": rec.ID, "text": text}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%s/reply", rec.ID), body, nil)
}

// React records a single side-effecting interaction (like/view/share).
func (c *Client) React(ctx context.Context, rec models.NotificationRecord, verb models.ActionVerb) error {
	body := map[string]string{"notification_id": rec.ID, "verb": string(verb)}
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%s/reactions", rec.ID), body, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) error {
	if c.baseURL == "" {
		return errors.Wrap(ErrNetwork, "no delivery server configured")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.bearerToken()
	if err != nil {
		return errors.Wrap(err, "sign sync token")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Wrapf(ErrNetwork, "%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}

// bearerToken signs a short-lived HS256 token identifying the owner to the
// delivery server.
func (c *Client) bearerToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.ownerID,
		"aud": "delivery-server",
		"iss": "pushcenter",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}
