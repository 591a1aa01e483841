// Package syncclient is the replica-side HTTP transport to the sync
// service: push/pull calls with a 30s per-request timeout (§5) and
// capped exponential backoff on transport failure (§7 Transport).
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
	"github.com/beepshq/beeps/internal/metrics"
)

// requestTimeout is the client sync request timeout §5 mandates.
const requestTimeout = 30 * time.Second

// maxBackoffElapsed is the cap on total retry time for one sync
// attempt before the caller's tick gives up and tries again later.
const maxBackoffElapsed = 25 * time.Second

// Client talks to one sync service on behalf of a single account.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New constructs a Client. token is the bearer session token obtained
// from Login/Register; baseURL has no trailing slash.
func New(baseURL, token string, logger *zap.Logger, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
		metrics: m,
	}
}

// Register creates a new account against the server and returns the
// bearer token the caller should construct subsequent Clients with.
func Register(ctx context.Context, baseURL, email, password string) (string, error) {
	return authRequest(ctx, baseURL+"/api/register", email, password)
}

// Login authenticates against an existing account.
func Login(ctx context.Context, baseURL, email, password string) (string, error) {
	return authRequest(ctx, baseURL+"/api/login", email, password)
}

func authRequest(ctx context.Context, url, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: requestTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("syncclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("syncclient: %s returned %d: %s", url, resp.StatusCode, readBody(resp))
	}

	var tr struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("syncclient: decoding token response: %w", err)
	}
	return tr.Token, nil
}

// Push sends ops to POST /api/push, retrying transport failures with
// capped exponential backoff. A 2xx response (including a retried
// duplicate) is success; per-HLC idempotence on the server makes
// retries with the same body safe (§7).
func (c *Client) Push(ctx context.Context, ops []oplog.Op) error {
	if len(ops) == 0 {
		return nil
	}

	body, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("syncclient: encoding push body: %w", err)
	}

	return c.withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/push", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err // transport error: retryable
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("syncclient: push returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("syncclient: push rejected with %d: %s", resp.StatusCode, readBody(resp)))
		}
		return nil
	})
}

// Pull requests every op newer than watermarks from POST /api/pull.
func (c *Client) Pull(ctx context.Context, watermarks map[hlc.NodeID]hlc.Timestamp) ([]oplog.Op, error) {
	since := make(map[string]sincePoint, len(watermarks))
	for node, ts := range watermarks {
		since[fmt.Sprintf("%d", node)] = sincePoint{
			Timestamp: time.UnixMicro(ts.Wall).UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			Counter:   ts.Counter,
		}
	}

	body, err := json.Marshal(pullRequest{Since: since})
	if err != nil {
		return nil, fmt.Errorf("syncclient: encoding pull body: %w", err)
	}

	var ops []oplog.Op
	err = c.withBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("syncclient: pull returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("syncclient: pull rejected with %d: %s", resp.StatusCode, readBody(resp)))
		}

		ops = nil
		return json.NewDecoder(resp.Body).Decode(&ops)
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func (c *Client) withBackoff(ctx context.Context, op backoff.Operation) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxBackoffElapsed
	bo := backoff.WithContext(policy, ctx)

	err := backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		c.metrics.SyncFailuresTotal.Inc()
		c.logger.Warn("sync transport failure, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	return err
}

type sincePoint struct {
	Timestamp string `json:"timestamp"`
	Counter   uint64 `json:"counter"`
}

type pullRequest struct {
	Since map[string]sincePoint `json:"since"`
}

func readBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return string(data)
}
