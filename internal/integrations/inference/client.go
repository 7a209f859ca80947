package inference

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
)

// DefaultTimeout bounds a single Ask call. The backend runs retrieval plus
// generation per question, so this is deliberately looser than a plain chat
// completion timeout. Override with WithTimeout.
const DefaultTimeout = 30 * time.Second

// askRequest is the wire shape the backend expects. The snake_case field
// names are part of the backend contract and must not change.
type askRequest struct {
	UserID      string `json:"user_id"`
	UserMessage string `json:"user_message"`
}

// askResponse is the wire shape the backend returns.
type askResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Result is a backend answer together with the manual sections it cited.
type Result struct {
	Answer  string
	Sources []string
}

// Kind classifies an inference failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindBadResponse Kind = "bad_response"
)

// Error is a failed delegation to the inference backend. StatusCode is zero
// unless the backend answered with a non-2xx status.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Getter resolves named parameters, typically backed by the paramstore
// client. Only needed when the backend requires a service token.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client calls the external AI inference backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client

	getter     Getter
	tokenParam string
	tokenOnce  sync.Once
	token      string
	tokenErr   error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithServiceToken makes the client send a bearer token resolved from the
// given parameter on the first Ask and cached for the process lifetime.
func WithServiceToken(getter Getter, paramName string) Option {
	return func(c *Client) {
		c.getter = getter
		c.tokenParam = strings.TrimSpace(paramName)
	}
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inference: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ask forwards one user message to the backend's /chat route and returns its
// structured answer. It never retries and never returns a partial result.
func (c *Client) Ask(ctx context.Context, userID, message string) (Result, error) {
	body, err := json.Marshal(askRequest{UserID: userID, UserMessage: message})
	if err != nil {
		return Result{}, fmt.Errorf("inference: marshal request: %w", err)
	}

	url := c.baseURL + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("inference: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokenParam != "" {
		token, err := c.resolveToken(ctx)
		if err != nil {
			return Result{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, classifyTransportError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Result{}, &Error{
			Kind:       KindBadResponse,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("unexpected status from %s: %s", url, strings.TrimSpace(string(buf))),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Result{}, &Error{Kind: KindBadResponse, Err: fmt.Errorf("read response body: %w", err)}
	}

	var payload askResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, &Error{Kind: KindBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}

	sources := payload.Sources
	if sources == nil {
		sources = []string{}
	}
	return Result{Answer: payload.Answer, Sources: sources}, nil
}

// resolveToken fetches the service token on the first call and returns the
// cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenOnce.Do(func() {
		if c.getter == nil {
			c.tokenErr = errors.New("inference: token parameter set without a getter")
			return
		}
		token, err := c.getter.GetParameter(ctx, c.tokenParam)
		if err != nil {
			c.tokenErr = fmt.Errorf("inference: fetch service token: %w", err)
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.tokenErr = errors.New("inference: service token is empty")
			return
		}
		c.token = token
	})
	return c.token, c.tokenErr
}

// classifyTransportError maps an http.Client error to a timeout or
// unreachable delegation failure.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnreachable, Err: err}
}
