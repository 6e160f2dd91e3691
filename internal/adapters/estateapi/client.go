package estateapi

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"estate_reviews/internal/adapters/observability"
	"estate_reviews/internal/domain"
)

// Client talks to the real-estate directory backend. Every response is
// wrapped in the backend's {success, message, data} envelope; success=false
// counts as a failure even on a 200.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter

	// The backend is inconsistent about how review updates are addressed;
	// strategies are tried in order until one is accepted.
	updateStrategies []UpdateStrategy
}

// UpdateStrategy names one request shape for the update-review call.
type UpdateStrategy string

const (
	UpdatePatchByURL  UpdateStrategy = "patch_url"  // PATCH /reviews/{id}
	UpdatePutByURL    UpdateStrategy = "put_url"    // PUT /reviews/{id}
	UpdatePatchByBody UpdateStrategy = "patch_body" // PATCH /reviews, id in body
	UpdatePutByBody   UpdateStrategy = "put_body"   // PUT /reviews, id in body
)

var defaultUpdateStrategies = []UpdateStrategy{
	UpdatePatchByURL, UpdatePutByURL, UpdatePatchByBody, UpdatePutByBody,
}

type Option func(*Client)

// WithUpdateStrategies overrides the attempt order for review updates.
func WithUpdateStrategies(order ...UpdateStrategy) Option {
	return func(c *Client) { c.updateStrategies = order }
}

func New(base, key string, rps int, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	c := &Client{
		base:             strings.TrimRight(base, "/"),
		hc:               &http.Client{Timeout: 20 * time.Second},
		key:              key,
		rl:               rate.NewLimiter(rate.Limit(rps), rps),
		updateStrategies: defaultUpdateStrategies,
	}
	for _, o := range opts {
		o(c)
	}
	if len(c.updateStrategies) == 0 {
		return nil, fmt.Errorf("at least one update strategy is required")
	}
	return c, nil
}

var _ domain.ReviewsClient = (*Client)(nil)

// ---- Public API ----

func (c *Client) FetchReviews(ctx context.Context, agentID int64) ([]map[string]any, error) {
	candidates := []string{
		fmt.Sprintf("%s/agents/%d/reviews", c.base, agentID), // preferred
		fmt.Sprintf("%s/agent/reviews/%d", c.base, agentID),  // legacy
	}
	var out []map[string]any
	return out, c.getFirst(ctx, candidates, &out)
}

func (c *Client) CreateReview(ctx context.Context, in domain.CreateReviewInput) (map[string]any, error) {
	body := map[string]any{
		"agent_id": in.AgentID,
		"user_id":  in.UserID,
		"rating":   in.Rating,
		"comment":  in.Comment,
	}
	var out map[string]any
	err := c.do(ctx, http.MethodPost, c.base+"/reviews", body, &out)
	return out, err
}

// UpdateReview walks the configured strategies in order. 404/405 means "this
// shape is not the one the backend wants" and moves on; any other error stops
// early.
func (c *Client) UpdateReview(ctx context.Context, reviewID int64, rating float64, comment string) error {
	body := map[string]any{"rating": rating, "comment": comment}
	bodyWithID := map[string]any{"review_id": reviewID, "rating": rating, "comment": comment}
	byURL := fmt.Sprintf("%s/reviews/%d", c.base, reviewID)

	var last error
	for _, st := range c.updateStrategies {
		var err error
		switch st {
		case UpdatePatchByURL:
			err = c.do(ctx, http.MethodPatch, byURL, body, nil)
		case UpdatePutByURL:
			err = c.do(ctx, http.MethodPut, byURL, body, nil)
		case UpdatePatchByBody:
			err = c.do(ctx, http.MethodPatch, c.base+"/reviews", bodyWithID, nil)
		case UpdatePutByBody:
			err = c.do(ctx, http.MethodPut, c.base+"/reviews", bodyWithID, nil)
		default:
			err = fmt.Errorf("unknown update strategy %q", st)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMethodNotAllowed) {
			last = err
			continue
		}
		return err
	}
	return fmt.Errorf("no update strategy accepted review %d: %w", reviewID, last)
}

func (c *Client) DeleteReview(ctx context.Context, reviewID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/reviews/%d", c.base, reviewID), nil, nil)
}

// ---- Internals ----

var (
	ErrNotFound         = errors.New("estateapi: not found")
	ErrUnauthorized     = errors.New("estateapi: unauthorized")
	ErrForbidden        = errors.New("estateapi: forbidden")
	ErrMethodNotAllowed = errors.New("estateapi: method not allowed")
)

// envelope is the backend's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) getFirst(ctx context.Context, urls []string, out any) error {
	var last error
	for _, u := range urls {
		if err := c.do(ctx, http.MethodGet, u, nil, out); err != nil {
			if errors.Is(err, ErrNotFound) {
				last = err
				continue // try next pattern
			}
			return err // non-404: stop early
		}
		return nil
	}
	if last != nil {
		return last
	}
	return errors.New("no candidate URL succeeded")
}

// do performs one request with client-side rate limiting and retries on 429
// and transient 5xx, honoring Retry-After when provided. Successful bodies
// are unwrapped from the envelope before decoding into out.
func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	endpoint := method + " " + trimID(url)
	var lastErr error
	for i := 0; i < 4; i++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return err
		}
		if c.key != "" {
			req.Header.Set("X-API-Key", c.key)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", "estate-reviews/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			observability.ObserveExternal(endpoint, 0, time.Since(start))
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			err := decodeEnvelope(resp.Body, out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusMethodNotAllowed:
			resp.Body.Close()
			return ErrMethodNotAllowed

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// decodeEnvelope unwraps {success, message, data}. Bodies that are not
// envelope-shaped are decoded directly; the legacy endpoints predate the
// convention.
func decodeEnvelope(r io.Reader, out any) error {
	b, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && (env.Success || len(env.Data) > 0 || env.Message != "") {
		if !env.Success {
			msg := env.Message
			if msg == "" {
				msg = "request rejected"
			}
			return fmt.Errorf("backend rejected request: %s", msg)
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		return json.Unmarshal(env.Data, out)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

// trimID collapses numeric path segments so metric labels stay
// low-cardinality.
func trimID(url string) string {
	parts := strings.Split(url, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil && p != "" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// Base doubles each attempt (200ms, 400ms, 800ms...), with up to +50% random
// jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
