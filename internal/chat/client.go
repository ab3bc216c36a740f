package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/videncia/oraculo/internal/circuitbreaker"
)

// Client calls a remote persona backend over HTTP. A per-service circuit
// breaker sheds calls while the backend is failing so a flapping backend
// does not hold every chat request for the full timeout.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewClient creates a backend client for the given base URL. An empty API
// key is allowed for backends that do their own network-level auth.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type wireRequest struct {
	ServiceID           string         `json:"serviceId"`
	PersonaConfig       wirePersona    `json:"personaConfig"`
	UserMessage         string         `json:"userMessage"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
	MessageCount        int            `json:"messageCount"`
	IsPremiumUser       bool           `json:"isPremiumUser"`
}

type wirePersona struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ErrorMessage string `json:"errorMessage"`
}

type wireResponse struct {
	Success     bool   `json:"success"`
	Response    string `json:"response"`
	Error       string `json:"error"`
	ShowPaywall bool   `json:"showPaywall"`
}

// Respond posts the exchange to the backend and decodes the persona reply.
func (c *Client) Respond(ctx context.Context, req Request) (*Reply, error) {
	if !c.breaker.Allow(req.Service.ID) {
		return nil, fmt.Errorf("%w: circuit open", ErrBackendUnavailable)
	}

	reply, err := c.respond(ctx, req)
	switch {
	case err == nil:
		c.breaker.RecordSuccess(req.Service.ID)
	case errors.Is(err, ErrBackendUnavailable):
		c.breaker.RecordFailure(req.Service.ID)
	default:
		// Refusals are valid backend answers, not outages.
	}
	return reply, err
}

func (c *Client) respond(ctx context.Context, req Request) (*Reply, error) {
	history := req.History
	if history == nil {
		history = []HistoryEntry{}
	}
	body, err := json.Marshal(wireRequest{
		ServiceID: req.Service.ID,
		PersonaConfig: wirePersona{
			Name:         req.Service.Persona.Name,
			Description:  req.Service.Persona.Description,
			ErrorMessage: req.Service.Persona.ErrorMessage,
		},
		UserMessage:         req.UserMessage,
		ConversationHistory: history,
		MessageCount:        req.MessageCount,
		IsPremiumUser:       req.Premium,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !out.Success || out.Response == "" {
		if out.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrBackendRefused, out.Error)
		}
		return nil, ErrBackendRefused
	}

	return &Reply{
		Text:        out.Response,
		ShowPaywall: out.ShowPaywall,
	}, nil
}
