package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
	"github.com/nodeflow-go/pkg/resilience"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 10 << 20

	// Outbound request budget per remote host.
	hostRequestsPerSecond = 20
	hostBurst             = 40
)

// HTTPHandler performs outbound HTTP requests. Calls to each remote host go
// through a shared rate limiter and circuit breaker so a misbehaving
// endpoint degrades only its own traffic.
type HTTPHandler struct {
	client   *http.Client
	breakers *resilience.BreakerGroup
	logger   logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type httpConfig struct {
	Method      string                 `json:"method"`
	URL         string                 `json:"url"`
	Headers     map[string]string      `json:"headers"`
	QueryParams map[string]string      `json:"queryParams"`
	Body        interface{}            `json:"body"`
	Auth        httpAuth               `json:"authentication"`
	Timeout     float64                `json:"timeout"` // seconds
}

type httpAuth struct {
	Type         string `json:"type"` // none, basic, bearer, api-key
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	Token        string `json:"token,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	APIKeyHeader string `json:"apiKeyHeader,omitempty"`
}

// NewHTTPHandler creates an HTTP handler with shared client, limiters and
// breakers.
func NewHTTPHandler(log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		breakers: resilience.NewBreakerGroup(resilience.DefaultBreakerConfig()),
		logger:   log,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *HTTPHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg httpConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid http config: %v", err)), nil
	}
	if cfg.URL == "" {
		return missingConfig("http node requires a url"), nil
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Timeout*float64(time.Second)))
		defer cancel()
	}

	req, err := h.buildRequest(ctx, &cfg)
	if err != nil {
		return invalidConfig(fmt.Sprintf("failed to build request: %v", err)), nil
	}
	host := req.URL.Host

	if err := h.limiter(host).Wait(ctx); err != nil {
		return workflow.Failure(errcode.Runtime(errcode.Timeout,
			fmt.Sprintf("cancelled while rate limited for %s: %v", host, err), true)), nil
	}

	start := time.Now()
	out, err := h.breakers.Do(host, func() (interface{}, error) {
		resp, doErr := h.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if readErr != nil {
			return nil, readErr
		}
		return &httpResponse{status: resp.StatusCode, header: resp.Header, body: body}, nil
	})
	if err != nil {
		return workflow.Failure(h.classify(err, host)), nil
	}

	resp := out.(*httpResponse)
	if nc.Log != nil {
		nc.Log("debug", "HTTP request completed", map[string]interface{}{
			"method":     cfg.Method,
			"host":       host,
			"statusCode": resp.status,
			"durationMs": time.Since(start).Milliseconds(),
		})
	}

	if nodeErr := classifyStatus(resp.status, cfg.Method, cfg.URL); nodeErr != nil {
		return workflow.Failure(nodeErr), nil
	}

	result := workflow.Ok(resp.toMap())
	result.Metadata = &workflow.NodeMetrics{BytesProcessed: int64(len(resp.body))}
	return result, nil
}

type httpResponse struct {
	status int
	header http.Header
	body   []byte
}

func (r *httpResponse) toMap() map[string]interface{} {
	headers := make(map[string]string, len(r.header))
	for key, values := range r.header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	data := map[string]interface{}{
		"statusCode": r.status,
		"headers":    headers,
	}
	var parsed interface{}
	if err := json.Unmarshal(r.body, &parsed); err == nil {
		data["body"] = parsed
	} else {
		data["body"] = string(r.body)
	}
	return data
}

func (h *HTTPHandler) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var body io.Reader
	if cfg.Body != nil {
		payload, err := json.Marshal(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if len(cfg.QueryParams) > 0 {
		q := req.URL.Query()
		for key, value := range cfg.QueryParams {
			q.Add(key, value)
		}
		req.URL.RawQuery = q.Encode()
	}

	switch cfg.Auth.Type {
	case "basic":
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cfg.Auth.Token)
	case "api-key":
		header := cfg.Auth.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, cfg.Auth.APIKey)
	}

	return req, nil
}

func (h *HTTPHandler) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(hostRequestsPerSecond), hostBurst)
	h.limiters[host] = l
	return l
}

// classify maps transport-level failures onto the error taxonomy.
func (h *HTTPHandler) classify(err error, host string) *workflow.NodeError {
	if resilience.IsOpen(err) {
		return errcode.Runtime(errcode.ConnectionFailed,
			fmt.Sprintf("circuit open for %s", host), true)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errcode.Runtime(errcode.Timeout,
			fmt.Sprintf("request to %s timed out: %v", host, err), true)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Runtime(errcode.Timeout,
			fmt.Sprintf("request to %s timed out: %v", host, err), true)
	}

	return errcode.Runtime(errcode.ConnectionFailed,
		fmt.Sprintf("request to %s failed: %v", host, err), true)
}

// classifyStatus converts a non-success status into a node error.
// 429 and 5xx are transient, other 4xx are terminal.
func classifyStatus(status int, method, url string) *workflow.NodeError {
	switch {
	case status >= 200 && status < 400:
		return nil
	case status == http.StatusTooManyRequests:
		return errcode.Runtime(errcode.RateLimit,
			fmt.Sprintf("%s %s rate limited (429)", method, url), true)
	case status >= 500:
		return errcode.Runtime(errcode.OperationFailed,
			fmt.Sprintf("%s %s returned %d", method, url, status), true)
	default:
		return errcode.Runtime(errcode.OperationFailed,
			fmt.Sprintf("%s %s returned %d", method, url, status), false)
	}
}
