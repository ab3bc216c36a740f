package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/retry"
)

// Forwarder delivers captured leads to the external collection endpoint.
// All deliveries are fire-and-forget: failures are counted and logged but
// never surfaced to the visitor.
type Forwarder struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewForwarder creates a forwarder posting to the given URL.
func NewForwarder(url string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Forward posts the lead on a background goroutine.
func (f *Forwarder) Forward(lead Lead) {
	go f.deliver(lead)
}

func (f *Forwarder) deliver(lead Lead) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := json.Marshal(lead)
	if err != nil {
		metrics.LeadDeliveriesTotal.WithLabelValues("error").Inc()
		f.logger.Warn("lead encode failed", "error", err)
		return
	}

	// Transient failures are retried; a 4xx means the payload itself was
	// rejected and retrying cannot help.
	err = retry.Do(ctx, 3, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("lead rejected: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("lead delivery failed: status %d", resp.StatusCode)
		}
	})
	if err != nil {
		metrics.LeadDeliveriesTotal.WithLabelValues("error").Inc()
		f.logger.Warn("lead delivery failed", "error", err)
		return
	}
	metrics.LeadDeliveriesTotal.WithLabelValues("ok").Inc()
}
