// Package http implements the sbpgate transport over HTTP: typed JSON
// request/response round trips to a gateway whose TLS channel is gated by
// certificate pinning.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sbpgate "github.com/sbpgate/sbpgate-go"
	"github.com/sbpgate/sbpgate-go/trust"
)

// ============================================================================
// Gateway HTTP Client
// ============================================================================

// GatewayClient communicates with a remote payment gateway over HTTPS.
// Implements sbpgate.CommandSender: one request/response round trip per
// call, no retry or caching semantics of its own.
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config configures the gateway HTTP client.
type Config struct {
	// BaseURL is the base URL of the gateway API.
	BaseURL string

	// APIKey authenticates every command request.
	APIKey string

	// Pins is the pinned-root trust anchor set. When set, the client's
	// transport validates the server chain against it before any request;
	// a mismatch aborts the connection and is never retried.
	Pins *trust.PinSet

	// HTTPClient overrides the HTTP client (optional). When set, Pins is
	// ignored; the caller owns the transport's TLS configuration.
	HTTPClient *http.Client

	// Timeout for individual requests (optional, defaults to 30s).
	Timeout time.Duration
}

// API routes.
const (
	routeCommand           = "/api/v1/command"
	routeIdempotentCommand = "/api/v1/command/idempotent"
	routeDescription       = "/api/v1/description"
	routePing              = "/api/v1/ping"
)

// apiKeyHeader carries the gateway API key.
const apiKeyHeader = "X-Api-Key"

// NewGatewayClient creates a gateway HTTP client.
func NewGatewayClient(config *Config) (*GatewayClient, error) {
	if config == nil || config.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if config.Pins != nil {
			transport.TLSClientConfig = config.Pins.TLSConfig()
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}

	return &GatewayClient{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		httpClient: httpClient,
	}, nil
}

// ============================================================================
// CommandSender Implementation
// ============================================================================

// SendCommand runs a plain command against the gateway.
func (c *GatewayClient) SendCommand(ctx context.Context, cmd sbpgate.Command) (*sbpgate.CommandReturn, error) {
	envelope, err := sbpgate.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	var ret sbpgate.CommandReturn
	if err := c.post(ctx, routeCommand, envelope, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// SendIdempotentCommand submits (or resubmits) an idempotent command. The
// gateway answers with a fresh ProcessingResult snapshot; a previously seen
// key never re-executes side effects.
func (c *GatewayClient) SendIdempotentCommand(ctx context.Context, cmd sbpgate.IdempotentCommand) (*sbpgate.ProcessingResult, error) {
	envelope, err := sbpgate.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	var result sbpgate.ProcessingResult
	if err := c.post(ctx, routeIdempotentCommand, envelope, &result); err != nil {
		return nil, err
	}
	if result.IsCompleted && result.Outcome == nil {
		return nil, sbpgate.Errorf(sbpgate.ErrCodeProtocolViolation,
			"completed processing result for key %s carries no outcome", cmd.IdempotencyKey())
	}
	return &result, nil
}

// ============================================================================
// Connectivity
// ============================================================================

// GetDescription reads the gateway's self-description. It needs no API key
// and doubles as a network connectivity check.
func (c *GatewayClient) GetDescription(ctx context.Context) (*sbpgate.Description, error) {
	var desc sbpgate.Description
	if err := c.get(ctx, routeDescription, false, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Ping verifies both connectivity and that the configured API key is
// accepted by the gateway.
func (c *GatewayClient) Ping(ctx context.Context) error {
	return c.get(ctx, routePing, true, &struct{}{})
}

// ============================================================================
// HTTP plumbing
// ============================================================================

func (c *GatewayClient) post(ctx context.Context, route string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	return c.do(req, out)
}

func (c *GatewayClient) get(ctx context.Context, route string, withKey bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if withKey {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	return c.do(req, out)
}

func (c *GatewayClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeErrorResponse(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

// decodeErrorResponse maps a non-200 gateway response to a structured
// error. The gateway reports business-rule rejections as sbpgate error
// envelopes; anything else becomes a gateway_rejected error with the raw
// body as the reason.
func decodeErrorResponse(status int, body []byte) error {
	var pe sbpgate.Error
	if err := json.Unmarshal(body, &pe); err == nil && pe.Code != "" {
		return &pe
	}
	return sbpgate.NewError(sbpgate.ErrCodeGatewayRejected,
		fmt.Sprintf("gateway returned HTTP %d", status),
		map[string]interface{}{"body": string(body)})
}
