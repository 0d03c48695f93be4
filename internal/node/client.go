package node

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/kinode-dao/storekeeper/internal/infrastructure/config"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/logging"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/monitoring"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/resilience"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/tracing"
	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

// Client talks to the daemon's package API.
type Client struct {
	read    *resty.Client
	write   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// New creates a daemon client from configuration.
func New(node config.NodeConfig, client config.ClientConfig, metrics *monitoring.Metrics, logger *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = client.Retries
	retryClient.RetryWaitMin = client.RetryWaitMin
	retryClient.RetryWaitMax = client.RetryWaitMax
	retryClient.Logger = nil

	read := resty.New().
		SetBaseURL(node.BaseURL).
		SetTimeout(node.Timeout).
		SetRetryCount(client.Retries).
		SetRetryWaitTime(client.RetryWaitMin).
		SetRetryMaxWaitTime(client.RetryWaitMax).
		SetHeader("Accept", "application/json")
	read.SetTransport(retryClient.HTTPClient.Transport)

	write := resty.New().
		SetBaseURL(node.BaseURL).
		SetTimeout(node.Timeout).
		SetHeader("Accept", "application/json")

	rps := rate.Limit(client.RequestsPerSecond)
	if client.RequestsPerSecond <= 0 {
		rps = rate.Inf
	}

	failures := client.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := resilience.New("node-api", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     client.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return &Client{
		read:    read,
		write:   write,
		limiter: rate.NewLimiter(rps, client.Burst),
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
	}
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// do issues one request through the limiter and breaker. want lists
// the status codes considered success; empty means any 2xx.
func (c *Client) do(ctx context.Context, client *resty.Client, method, path, op string, body, out interface{}, want ...int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	timer := monitoring.NewTimer(c.metrics, "node", op)
	headers := make(map[string]string)
	tracing.InjectTraceContext(ctx, headers)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req := client.R().SetContext(ctx).SetHeaders(headers)
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}
		return req.Execute(method, path)
	})
	if err != nil {
		timer.Stop("error")
		return fmt.Errorf("%s: %w", op, err)
	}

	resp := result.(*resty.Response)
	timer.Stop(strconv.Itoa(resp.StatusCode()))

	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", op, path, types.ErrNotFound)
	}
	if len(want) > 0 {
		for _, w := range want {
			if resp.StatusCode() == w {
				return nil
			}
		}
		return fmt.Errorf("%s: daemon returned %d: %s", op, resp.StatusCode(), resp.String())
	}
	if resp.IsError() {
		return fmt.Errorf("%s: daemon returned %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) get(ctx context.Context, path, op string, out interface{}) error {
	return c.do(ctx, c.read, resty.MethodGet, path, op, nil, out)
}
