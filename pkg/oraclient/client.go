package oraclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Client talks to an oracle consultation server. The zero value is not
// usable; create one with New.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client must
// carry a cookie jar or every call lands in a fresh session.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("oraclient: cookie jar: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Jar:     jar,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Services lists the consultable services.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var out struct {
		Services []Service `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/services", nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// Chat returns the transcript for a service, including the persona's
// welcome on first visit.
func (c *Client) Chat(ctx context.Context, service string) (*Transcript, error) {
	var out struct {
		Chat Transcript `json:"chat"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+service+"/chat", nil, &out); err != nil {
		return nil, err
	}
	return &out.Chat, nil
}

// Send delivers a message and returns the persona's reply. A closed gate
// surfaces as an APIError for which IsPaymentRequired reports true.
func (c *Client) Send(ctx context.Context, service, message string) (*SendResult, error) {
	in := map[string]string{"message": message}
	var out struct {
		Result SendResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/services/"+service+"/chat", in, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// ResetChat starts the conversation over and returns the fresh transcript.
func (c *Client) ResetChat(ctx context.Context, service string) (*Transcript, error) {
	var out struct {
		Chat Transcript `json:"chat"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/services/"+service+"/chat/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out.Chat, nil
}

// Entitlement returns the gate state for a service.
func (c *Client) Entitlement(ctx context.Context, service string) (*Entitlement, error) {
	var out struct {
		Entitlement Entitlement `json:"entitlement"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/services/"+service+"/entitlement", nil, &out); err != nil {
		return nil, err
	}
	return &out.Entitlement, nil
}

// Wheel returns the reward wheel state.
func (c *Client) Wheel(ctx context.Context) (*WheelStatus, error) {
	var out struct {
		Wheel WheelStatus `json:"wheel"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/wheel", nil, &out); err != nil {
		return nil, err
	}
	return &out.Wheel, nil
}

// Spin spins the wheel toward a service. The prize is already applied when
// this returns; RevealDelayMs is how long the UI should keep the animation
// going before showing it.
func (c *Client) Spin(ctx context.Context, service string) (*SpinOutcome, error) {
	in := map[string]string{"service": service}
	var out struct {
		Result        SpinResult `json:"result"`
		RevealDelayMs int64      `json:"revealDelayMs"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/wheel/spin", in, &out); err != nil {
		return nil, err
	}
	return &SpinOutcome{Result: out.Result, RevealDelayMs: out.RevealDelayMs}, nil
}

// CloseWheel dismisses the revealed prize.
func (c *Client) CloseWheel(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/wheel/close", nil, nil)
}

// CaptureLead stores the visitor's contact info. Required before Checkout.
func (c *Client) CaptureLead(ctx context.Context, lead Lead) error {
	return c.do(ctx, http.MethodPost, "/v1/leads", lead, nil)
}

// Checkout creates a payment session for unlocking the service. message,
// when non-empty, is replayed into the conversation after the payment
// clears.
func (c *Client) Checkout(ctx context.Context, service, message string) (*Checkout, error) {
	var in any
	if message != "" {
		in = map[string]string{"message": message}
	}
	var out struct {
		Checkout Checkout `json:"checkout"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/services/"+service+"/checkout", in, &out); err != nil {
		return nil, err
	}
	return &out.Checkout, nil
}

// do runs one API call, decoding either the success payload into out or
// the error payload into an APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("oraclient: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("oraclient: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oraclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "unknown"}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("oraclient: decode response: %w", err)
		}
	}
	return nil
}
