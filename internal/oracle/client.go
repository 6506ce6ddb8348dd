// Package oracle connects the engine to match results: an HTTP client for a
// real results provider, a local simulator for development, and a watchdog
// that re-issues requests nobody answered.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"parlay-pool/internal/model"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-Oracle-Signature"
)

// OutcomeRequest is the body posted to the provider. It answers later by
// calling CallbackURL with a signed Callback.
type OutcomeRequest struct {
	RequestID   string        `json:"request_id"`
	RoundID     int64         `json:"round_id"`
	Matches     []model.Match `json:"matches"`
	CallbackURL string        `json:"callback_url,omitempty"`
}

// Callback is what the provider posts back once every match is final.
type Callback struct {
	RequestID string          `json:"request_id"`
	Results   []model.Outcome `json:"results"`
}

type Client struct {
	http     *http.Client
	url      string
	callback string
	secret   []byte
	limiter  *rate.Limiter
	log      *zap.Logger
	wait     func(ctx context.Context, attempt int)
}

func NewClient(url, callbackURL, secret string, perSecond float64, log *zap.Logger) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		url:      url,
		callback: callbackURL,
		secret:   []byte(secret),
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		log:      log.Named("oracle"),
	}
	c.wait = c.sleep
	return c
}

// RequestOutcomes posts the request and returns once the provider has
// accepted it. Results arrive asynchronously through the callback.
func (c *Client) RequestOutcomes(ctx context.Context, req model.OracleRequest, matches []model.Match) error {
	body, err := json.Marshal(OutcomeRequest{
		RequestID:   req.ID,
		RoundID:     req.RoundID,
		Matches:     matches,
		CallbackURL: c.callback,
	})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	sig := Sign(c.secret, body)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		hreq.Header.Set("Content-Type", "application/json")
		hreq.Header.Set(SignatureHeader, sig)

		resp, err := c.http.Do(hreq)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.wait(ctx, attempt)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			c.log.Warn("oracle unavailable", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt+1))
			if attempt == maxRetries {
				return fmt.Errorf("oracle status %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.wait(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("oracle rejected request %d: %s", resp.StatusCode, string(msg))
		}
		resp.Body.Close()
		c.log.Info("outcomes requested", zap.Int64("round", req.RoundID), zap.String("request", req.ID))
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
