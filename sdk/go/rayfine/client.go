// Package rayfine is a small client for the rayfine local REST API.
package rayfine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Wait calls extend it by the requested wait duration.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with a rayfine API server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// ActionRequest is one user action. Amounts are decimal strings in token units.
type ActionRequest struct {
	ID       string `json:"id,omitempty"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
	Token    string `json:"token,omitempty"`
	TokenOut string `json:"token_out,omitempty"`
	To       string `json:"to,omitempty"`
	Slippage string `json:"slippage,omitempty"`
	RateMode int    `json:"rate_mode,omitempty"`

	// Network pins the action; the server refuses to run it on another network.
	Network string `json:"network,omitempty"`
}

// Receipt is produced once a transaction is confirmed on chain.
type Receipt struct {
	TxHash      string    `json:"tx_hash"`
	ExplorerURL string    `json:"explorer_url"`
	Kind        string    `json:"kind"`
	Network     string    `json:"network"`
	ChainID     uint64    `json:"chain_id"`
	From        string    `json:"from"`
	BlockNumber uint64    `json:"block_number"`
	GasUsed     uint64    `json:"gas_used"`
	AmountIn    string    `json:"amount_in"`
	SymbolIn    string    `json:"symbol_in"`
	AmountOut   string    `json:"amount_out,omitempty"`
	SymbolOut   string    `json:"symbol_out,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Action is the server-side record of a submitted action.
type Action struct {
	ID            string            `json:"id"`
	Request       ActionRequest     `json:"request"`
	Network       string            `json:"network"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	ErrorMetadata map[string]string `json:"error_metadata,omitempty"`
	Receipt       *Receipt          `json:"receipt,omitempty"`
	CreatedAt     int64             `json:"created_at"`
	UpdatedAt     int64             `json:"updated_at"`
}

// Done reports whether the action reached a terminal state.
func (a *Action) Done() bool {
	return a != nil && (a.Status == "succeeded" || a.Status == "failed")
}

// WalletStatus describes the stored key without exposing it.
type WalletStatus struct {
	Connected   bool   `json:"connected"`
	Address     string `json:"address,omitempty"`
	GateEnabled bool   `json:"gate_enabled"`
	Network     string `json:"network"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Network is the active network profile.
type Network struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ChainID      uint64 `json:"chain_id"`
	RPCURL       string `json:"rpc_url"`
	ExplorerURL  string `json:"explorer_url"`
	NativeSymbol string `json:"native_symbol"`
}

// ListOptions filters ListActions. Zero values are omitted.
type ListOptions struct {
	Limit   int
	Offset  int
	Status  string
	Kind    string
	Network string
}

// APIError is the error body returned by the server.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("rayfine api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("rayfine api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the API at rawURL. When httpClient is nil a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// WalletStatus reports whether a key is stored.
func (c *Client) WalletStatus(ctx context.Context) (WalletStatus, error) {
	var status WalletStatus
	err := c.call(ctx, http.MethodGet, "/api/v1/wallet", nil, nil, &status)
	return status, err
}

// Network returns the active network.
func (c *Client) Network(ctx context.Context) (Network, error) {
	var out struct {
		Current Network `json:"current"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/network", nil, nil, &out)
	return out.Current, err
}

// SelectNetwork switches the active network ("mainnet" or "testnet").
func (c *Client) SelectNetwork(ctx context.Context, id string) (Network, error) {
	var n Network
	err := c.call(ctx, http.MethodPut, "/api/v1/network", nil, map[string]string{"network": id}, &n)
	return n, err
}

// Validate checks a request locally on the server without touching the chain.
func (c *Client) Validate(ctx context.Context, req ActionRequest) error {
	return c.call(ctx, http.MethodPost, "/api/v1/actions/validate", nil, req, nil)
}

// SubmitAction queues an action for execution.
func (c *Client) SubmitAction(ctx context.Context, req ActionRequest) (Action, error) {
	var a Action
	err := c.call(ctx, http.MethodPost, "/api/v1/actions", nil, req, &a)
	return a, err
}

// GetAction fetches an action by id.
func (c *Client) GetAction(ctx context.Context, id string) (Action, error) {
	var a Action
	err := c.call(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id), nil, nil, &a)
	return a, err
}

// WaitAction blocks on the server for up to timeout. The returned action may
// still be pending when the timeout elapses; check Done.
func (c *Client) WaitAction(ctx context.Context, id string, timeout time.Duration) (Action, error) {
	q := url.Values{}
	if timeout > 0 {
		q.Set("timeout", timeout.String())
	}
	var a Action
	err := c.call(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id)+"/wait", q, nil, &a)
	return a, err
}

// ListActions returns actions matching opts, newest first.
func (c *Client) ListActions(ctx context.Context, opts ListOptions) ([]Action, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	var out struct {
		Tasks []Action `json:"tasks"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/actions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
