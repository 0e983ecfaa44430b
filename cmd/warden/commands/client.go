package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/access"
	"github.com/MEKXH/warden/internal/config"
	"github.com/MEKXH/warden/internal/oversight"
	"github.com/MEKXH/warden/internal/safety"
	"github.com/google/uuid"
)

// gatewayClient talks to a running `warden run` over its HTTP API.
type gatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is the JSON error body written by the gateway.
type apiError struct {
	Status    int    `json:"-"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Code)
}

func newGatewayClient(cfg config.GatewayConfig) *gatewayClient {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return &gatewayClient{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *gatewayClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func (c *gatewayClient) Status(ctx context.Context) (safety.StatusSnapshot, error) {
	var out struct {
		Status safety.StatusSnapshot `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out.Status, err
}

func (c *gatewayClient) Pending(ctx context.Context) ([]oversight.Request, error) {
	var out struct {
		Requests []oversight.Request `json:"requests"`
	}
	err := c.do(ctx, http.MethodGet, "/oversight/pending", nil, &out)
	return out.Requests, err
}

func (c *gatewayClient) Get(ctx context.Context, id string) (oversight.Request, error) {
	var out struct {
		Request oversight.Request `json:"request"`
	}
	err := c.do(ctx, http.MethodGet, "/oversight/"+id, nil, &out)
	return out.Request, err
}

type decisionBody struct {
	Decision      string         `json:"decision"`
	Reason        string         `json:"reason,omitempty"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	Modifications map[string]any `json:"modifications,omitempty"`
}

func (c *gatewayClient) Decide(ctx context.Context, id string, body decisionBody) (oversight.Request, error) {
	var out struct {
		Request oversight.Request `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "/oversight/"+id+"/decision", body, &out)
	return out.Request, err
}

func (c *gatewayClient) Submit(ctx context.Context, req safety.ActionRequest) (safety.SubmitResult, error) {
	var out struct {
		Decision safety.SubmitResult `json:"decision"`
	}
	err := c.do(ctx, http.MethodPost, "/actions", req, &out)
	return out.Decision, err
}

// Login exchanges credentials for a session. The token is empty unless the gateway
// signs sessions.
func (c *gatewayClient) Login(ctx context.Context, username, secret string) (access.Session, error) {
	var out struct {
		Session access.Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "secret": secret}, &out)
	return out.Session, err
}

// CallTool invokes an agent tool and returns its raw JSON result.
func (c *gatewayClient) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/tools/"+name, args, &out)
	return out.Result, err
}
