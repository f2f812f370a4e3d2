package nimbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SubscribeCaller issues the long-poll Subscribe request. Cancelling ctx is
// the "silent cancel" contract of §5: the Subscribe Loop relies on it to
// retire a call without producing a status event.
type SubscribeCaller interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeEnvelope, *Status, error)
}

// HeartbeatCaller issues a heartbeat for the given channels/groups.
type HeartbeatCaller interface {
	Heartbeat(ctx context.Context, channels, groups []string) (*Status, error)
}

// LeaveCaller issues a best-effort presence Leave for the given
// channels/groups.
type LeaveCaller interface {
	Leave(ctx context.Context, channels, groups []string) (*Status, error)
}

// ProbeCaller issues a cheap connectivity probe for the Reconnection
// Controller's polling loop.
type ProbeCaller interface {
	Probe(ctx context.Context) error
}

const (
	DefaultBaseURL = "https://nimbus.example.com"
	DefaultTimeout = 310 * time.Second // long-poll ceiling, plus margin
)

// Client is the top-level HTTP long-poll transport: it implements
// SubscribeCaller, HeartbeatCaller, LeaveCaller, and ProbeCaller over
// *http.Client. Grounded on the teacher's Client/ClientOption/doRequest/
// decodeJSON shape (prismer.go); the dozens of product-specific REST
// methods that shape carried are not — this Client knows only the three
// pub/sub endpoints.
type Client struct {
	subscribeKey string
	authKey      string
	baseURL      string
	httpClient   *http.Client
	logger       *zap.Logger
}

// ClientOption mutates a Client at construction time.
type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithAuthKey(authKey string) ClientOption {
	return func(c *Client) { c.authKey = authKey }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a transport client for subscribeKey.
func NewClient(subscribeKey string, opts ...ClientOption) *Client {
	c := &Client{
		subscribeKey: subscribeKey,
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string) ([]byte, *http.Response, error) {
	u := c.baseURL + path
	params := url.Values{}
	for k, v := range query {
		params.Set(k, v)
	}
	if c.subscribeKey != "" {
		params.Set("subscribe_key", c.subscribeKey)
	}
	if c.authKey != "" {
		params.Set("auth", c.authKey)
	}
	u += "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("read response: %w", err)
	}
	return body, resp, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func joinCSV(values []string) string {
	return strings.Join(values, ",")
}

func stateQueryValue(state map[string]json.RawMessage) (string, error) {
	if len(state) == 0 {
		return "", nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(b), nil
}
