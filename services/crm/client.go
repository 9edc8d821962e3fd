// Package crm talks to the Odoo CRM over its JSON-RPC endpoint.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/services"
)

// RPC executes model methods on the CRM
type RPC interface {
	Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error)
}

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4096
)

// Client is a JSON-RPC client bound to one CRM database and service user.
// The session uid is obtained lazily and shared by concurrent callers.
type Client struct {
	url        string
	database   string
	username   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	mu  sync.Mutex
	uid int64
}

// NewClient creates a new CRM client
func NewClient(cfg config.OdooConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
		database:   cfg.Database,
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// Fault is an error returned by the CRM for a call it received
type Fault struct {
	Code    int
	Name    string
	Message string
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.Name != "" {
		return fmt.Sprintf("odoo fault %d (%s): %s", f.Code, f.Name, f.Message)
	}
	return fmt.Sprintf("odoo fault %d: %s", f.Code, f.Message)
}

// IsAuthRejection reports whether the fault means the session credentials were refused
func (f *Fault) IsAuthRejection() bool {
	return f.Code == 100 ||
		strings.Contains(f.Name, "AccessDenied") ||
		strings.Contains(f.Name, "SessionExpired")
}

// Call executes method on model. A rejected session is re-established and
// the call retried once.
func (c *Client) Call(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.execute(ctx, uid, model, method, args, kwargs)
	if err != nil && isAuthRejection(err) {
		c.logger.Warn("CRM session rejected, re-authenticating",
			zap.String("model", model),
			zap.String("method", method),
		)
		c.resetSession(uid)
		if uid, err = c.session(ctx); err != nil {
			return nil, err
		}
		result, err = c.execute(ctx, uid, model, method, args, kwargs)
	}
	if err != nil {
		return nil, c.classify(fmt.Sprintf("%s %s", method, model), err)
	}
	return result, nil
}

// Authenticate forces a new session, returning the service user's uid
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	c.resetSession(0)
	return c.session(ctx)
}

func (c *Client) session(ctx context.Context) (int64, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}

	raw, err := c.post(ctx, "common", "authenticate", []any{c.database, c.username, c.apiKey, map[string]any{}})
	if err != nil {
		return 0, c.classify("authenticate", err)
	}

	// A refused login returns false rather than a fault
	if err := json.Unmarshal(raw, &uid); err != nil || uid == 0 {
		return 0, services.WrapCrmUnavailable("authenticate", errors.New("credentials rejected"))
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()

	c.logger.Debug("CRM session established", zap.Int64("uid", uid))
	return uid, nil
}

// resetSession clears the uid if it still equals stale
func (c *Client) resetSession(stale int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stale == 0 || c.uid == stale {
		c.uid = 0
	}
}

func (c *Client) execute(ctx context.Context, uid int64, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.post(ctx, "object", "execute_kw", []any{c.database, uid, c.apiKey, model, method, args, kwargs})
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (c *Client) post(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &httpStatusError{status: resp.StatusCode, body: string(snippet)}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		msg := decoded.Error.Data.Message
		if msg == "" {
			msg = decoded.Error.Message
		}
		return nil, &Fault{Code: decoded.Error.Code, Name: decoded.Error.Data.Name, Message: msg}
	}
	return decoded.Result, nil
}

func isAuthRejection(err error) bool {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.IsAuthRejection()
	}
	var status *httpStatusError
	if errors.As(err, &status) {
		return status.status == http.StatusUnauthorized || status.status == http.StatusForbidden
	}
	return false
}

// classify maps a raw failure onto the domain error taxonomy. Faults for
// well-formed calls are rejections; everything else means the CRM could
// not be reached or did not answer sensibly.
func (c *Client) classify(op string, err error) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	var fault *Fault
	if errors.As(err, &fault) && !fault.IsAuthRejection() {
		c.logger.Warn("CRM rejected call", zap.String("op", op), zap.Error(err))
		return services.WrapCrmRejected(op, err)
	}

	c.logger.Error("CRM unavailable", zap.String("op", op), zap.Error(err))
	return services.WrapCrmUnavailable(op, err)
}
