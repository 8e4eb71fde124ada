package recommend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	scoresPath  = "/v1/scores"
	historyPath = "/v1/viewers/%s/history"

	maxResponseBytes = 4 << 20
)

// ClientConfig configures the HTTP recommender client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration

	// RequestsPerSecond caps outbound calls; excess calls fail fast with
	// ErrRateLimited instead of delaying the feed. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int

	// FailureThreshold consecutive failures open the circuit for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Millisecond
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RequestsPerSecond))
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client calls the recommender over HTTP. It implements both HistoryProvider
// and Scorer. Calls share one circuit breaker and one rate limiter.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
	metrics *Metrics
}

// NewClient creates a recommender client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid recommender url %q", cfg.BaseURL)
	}
	cfg.applyDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: limiter,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	threshold := cfg.FailureThreshold
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "recommender",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("recommender circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
			if c.metrics != nil {
				c.metrics.SetCircuitState(to)
			}
		},
	})
	if c.metrics != nil {
		c.metrics.SetCircuitState(gobreaker.StateClosed)
	}

	return c, nil
}

type scoreRequest struct {
	ViewerID string       `json:"viewer_id"`
	Items    []string     `json:"items"`
	History  []WatchEvent `json:"history"`
}

type scoreResponse struct {
	ViewerID string             `json:"viewer_id"`
	Scores   map[string]float64 `json:"scores"`
}

type historyResponse struct {
	ViewerID string       `json:"viewer_id"`
	Events   []WatchEvent `json:"events"`
}

// Score implements Scorer.
func (c *Client) Score(ctx context.Context, viewerID string, itemIDs []string, history []WatchEvent) (map[string]float64, error) {
	if history == nil {
		history = []WatchEvent{}
	}
	body, err := json.Marshal(scoreRequest{ViewerID: viewerID, Items: itemIDs, History: history})
	if err != nil {
		return nil, fmt.Errorf("failed to encode score request: %w", err)
	}

	raw, err := c.do(ctx, endpointScores, http.MethodPost, c.baseURL+scoresPath, body)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]float64{}, nil
	}

	var resp scoreResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if resp.Scores == nil {
		resp.Scores = map[string]float64{}
	}
	return resp.Scores, nil
}

// History implements HistoryProvider. A 404 means the viewer has no history.
func (c *Client) History(ctx context.Context, viewerID string) ([]WatchEvent, error) {
	u := c.baseURL + fmt.Sprintf(historyPath, url.PathEscape(viewerID))
	raw, err := c.do(ctx, endpointHistory, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var resp historyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return resp.Events, nil
}

// errNotFound marks a 404; it is not a breaker failure.
var errNotFound = errors.New("not found")

// do sends one request through the limiter and breaker. It returns nil bytes
// for a 404.
func (c *Client) do(ctx context.Context, endpoint, method, u string, body []byte) ([]byte, error) {
	if !c.limiter.Allow() {
		c.observe(endpoint, outcomeRejected)
		return nil, ErrRateLimited
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, u, body)
	})
	switch {
	case err == nil:
		c.observe(endpoint, outcomeSuccess)
		return raw, nil
	case errors.Is(err, errNotFound):
		c.observe(endpoint, outcomeSuccess)
		return nil, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.observe(endpoint, outcomeRejected)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		c.observe(endpoint, outcomeFailure)
		return nil, err
	}
}

func (c *Client) roundTrip(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return data, nil
}

func (c *Client) observe(endpoint, outcome string) {
	if c.metrics != nil {
		c.metrics.IncRequest(endpoint, outcome)
	}
}
