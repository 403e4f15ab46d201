package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// defaultMaxResponseSize caps how much of a target response is read (1MB).
const defaultMaxResponseSize = 1 << 20

// HTTPAdapterConfig configures a REST delivery adapter.
type HTTPAdapterConfig struct {
	// BaseURL is the root of the target API, e.g. https://api.example.com/sync.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds a single delivery call. Defaults to 30s.
	Timeout time.Duration
	// MaxResponseSize caps how many response bytes are read.
	MaxResponseSize int64
}

// Validate checks the configuration and applies defaults.
func (c *HTTPAdapterConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("http adapter: base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("http adapter: invalid base URL: %w", err)
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = defaultMaxResponseSize
	}
	return nil
}

// HTTPAdapter delivers resolved payloads to an external system over its
// REST API. One adapter serves one target system; the entity type and
// external ID select the resource path.
type HTTPAdapter struct {
	system domain.SystemCode
	config HTTPAdapterConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPAdapter creates an HTTP delivery adapter for the given system.
func NewHTTPAdapter(system domain.SystemCode, config HTTPAdapterConfig, logger *zap.Logger) (*HTTPAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAdapter{
		system: system,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.Named("adapter").With(zap.String("system", system.String())),
	}, nil
}

// Apply PUTs the resolved payload to {base}/{entity_type}/{external_id}.
// Permission and availability failures are wrapped in the adapter errors
// the engine classifies on.
func (a *HTTPAdapter) Apply(ctx context.Context, item *domain.SyncItem, resolved domain.Payload) error {
	body, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("http adapter: encode payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s",
		strings.TrimRight(a.config.BaseURL, "/"),
		url.PathEscape(item.EntityType.String()),
		url.PathEscape(item.ExternalID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http adapter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
	if item.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", item.IdempotencyKey)
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseSize))

	a.logger.Debug("Delivery response",
		zap.String("entity_type", item.EntityType.String()),
		zap.String("external_id", item.ExternalID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrAdapterPermission, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrAdapterUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("http adapter: %s rejected %s/%s: status %d: %s",
			a.system, item.EntityType, item.ExternalID, resp.StatusCode, truncate(string(respBody), 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.TargetAdapter = (*HTTPAdapter)(nil)
