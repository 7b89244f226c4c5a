// Package azure wraps the Azure CLI as an external resource provider.
// Invocations are rate-limited, time-bounded, and retried with
// exponential backoff for transient and throttled failures; not-found is
// a definitive, non-retryable miss.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/stores"
	"github.com/azkit/azkit/pkg/telemetry"
)

// Runner executes one provider CLI invocation and returns its combined
// output. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CLIRunner invokes the real az binary.
type CLIRunner struct {
	// Binary is the CLI executable, "az" when empty.
	Binary string
}

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	binary := r.Binary
	if binary == "" {
		binary = "az"
	}
	return exec.CommandContext(ctx, binary, args...).CombinedOutput()
}

// Config tunes the provider client.
type Config struct {
	// CallTimeout bounds a single CLI invocation.
	CallTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RateLimit is the sustained invocations-per-second budget.
	RateLimit float64

	// Burst is the rate limiter burst size.
	Burst int
}

// DefaultConfig returns conservative provider defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 60 * time.Second,
		MaxRetries:  3,
		RateLimit:   4,
		Burst:       8,
	}
}

// Client is the cache-miss path: it queries the provider and normalizes
// results into the resource model.
type Client struct {
	runner  Runner
	limiter *rate.Limiter
	cfg     Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a provider client.
func NewClient(runner Runner, cfg Config, logger *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	if runner == nil {
		runner = &CLIRunner{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Client{
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		cfg:     cfg,
		logger:  logger.NewComponentLogger("azure"),
		metrics: metrics,
	}
}

// rawResource is the provider's JSON shape for one resource.
type rawResource struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Location      string          `json:"location"`
	ResourceGroup string          `json:"resourceGroup"`
	Properties    json.RawMessage `json:"properties"`
}

// ShowResource fetches a single resource by type, name, and group.
func (c *Client) ShowResource(ctx context.Context, resourceType, name, group string) (*stores.Resource, error) {
	args := []string{
		"resource", "show",
		"--resource-type", resourceType,
		"--name", name,
		"--output", "json",
	}
	if group != "" {
		args = append(args, "--resource-group", group)
	}

	out, err := c.invoke(ctx, "show", args)
	if err != nil {
		return nil, err
	}

	var raw rawResource
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, engine.NewPermanentError("unparseable provider response", err).
			WithCode(engine.ErrCodeProviderFailed)
	}

	return normalize(&raw)
}

// ListResources fetches all resources of a type, optionally scoped to a
// group.
func (c *Client) ListResources(ctx context.Context, resourceType, group string) ([]*stores.Resource, error) {
	args := []string{
		"resource", "list",
		"--resource-type", resourceType,
		"--output", "json",
	}
	if group != "" {
		args = append(args, "--resource-group", group)
	}

	out, err := c.invoke(ctx, "list", args)
	if err != nil {
		return nil, err
	}

	var raws []rawResource
	if err := json.Unmarshal(out, &raws); err != nil {
		return nil, engine.NewPermanentError("unparseable provider response", err).
			WithCode(engine.ErrCodeProviderFailed)
	}

	resources := make([]*stores.Resource, 0, len(raws))
	for i := range raws {
		r, err := normalize(&raws[i])
		if err != nil {
			c.logger.WithError(err).Warnf("skipping malformed resource %q", raws[i].ID)
			continue
		}
		resources = append(resources, r)
	}

	return resources, nil
}

// invoke runs one CLI call through the rate limiter, with per-call
// timeout and bounded retry for retryable failures.
func (c *Client) invoke(ctx context.Context, operation string, args []string) ([]byte, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		started := time.Now()
		out, err := c.runner.Run(callCtx, args...)
		cancel()

		c.metrics.RecordProviderCall(operation, time.Since(started))
		if err == nil {
			return out, nil
		}

		lastErr = classify(callCtx, err, out)
		c.metrics.RecordProviderError(operation)

		if !engine.IsRetryable(lastErr) || attempt >= c.cfg.MaxRetries {
			return nil, lastErr
		}

		delay := backoff(attempt, lastErr)
		c.metrics.RecordProviderRetry(operation)
		c.logger.WithError(lastErr).
			Warnf("provider %s failed, retrying in %s (attempt %d/%d)",
				operation, delay, attempt+1, c.cfg.MaxRetries)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// classify maps a CLI failure to the error taxonomy by inspecting the
// output. The CLI reports everything through exit code 1, so the text is
// all there is.
func classify(ctx context.Context, err error, out []byte) error {
	text := strings.ToLower(string(out))

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return engine.NewTransientError("provider call timed out", err).
			WithCode(engine.ErrCodeTimeout)

	case strings.Contains(text, "resourcenotfound") ||
		strings.Contains(text, "notfound") ||
		strings.Contains(text, "could not be found") ||
		strings.Contains(text, "does not exist"):
		return engine.NewPermanentError("resource not found", err).
			WithCode(engine.ErrCodeNotFound)

	case strings.Contains(text, "toomanyrequests") ||
		strings.Contains(text, "429") ||
		strings.Contains(text, "rate limit") ||
		strings.Contains(text, "throttl"):
		return engine.NewThrottledError("provider throttled the request", err).
			WithCode(engine.ErrCodeRateLimited)

	case strings.Contains(text, "conflict") ||
		strings.Contains(text, "another operation is in progress"):
		return engine.NewConflictError("resource state conflict", err)

	case strings.Contains(text, "timeout") ||
		strings.Contains(text, "connection") ||
		strings.Contains(text, "temporarily unavailable") ||
		strings.Contains(text, "gatewaytimeout") ||
		strings.Contains(text, "serviceunavailable"):
		return engine.NewTransientError("provider temporarily unavailable", err)

	default:
		return engine.NewPermanentError("provider call failed", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))).
			WithCode(engine.ErrCodeProviderFailed)
	}
}

// backoff computes exponential backoff with a larger base for throttled
// failures, capped at one minute.
func backoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second
	if engine.IsThrottled(err) {
		baseDelay = 5 * time.Second
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}

	// Jitter so concurrent processes don't retry in lockstep.
	jitter := time.Duration(float64(delay) * 0.25)
	return delay + jitter/2
}

// normalize converts the provider shape into the stored resource model,
// rejecting rows whose ID is malformed. provisioningState lives inside
// the opaque properties payload.
func normalize(raw *rawResource) (*stores.Resource, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("provider returned a resource without an id")
	}

	r := &stores.Resource{
		ResourceID:    raw.ID,
		ResourceType:  raw.Type,
		Name:          raw.Name,
		ResourceGroup: raw.ResourceGroup,
		Location:      raw.Location,
		Properties:    raw.Properties,
	}

	if len(raw.Properties) > 0 {
		var props struct {
			ProvisioningState string `json:"provisioningState"`
		}
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			r.ProvisioningState = props.ProvisioningState
		}
	}

	return r, nil
}
