// Package push is the HTTP client for the external push gateway
// (FCM-equivalent). Delivery is best-effort; the gateway owns retries.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Notification is the payload handed to the gateway per recipient.
type Notification struct {
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
	ChatID     string `json:"chat_id"`
	Type       string `json:"type"`
}

type request struct {
	To           string       `json:"to"`
	Notification Notification `json:"notification"`
}

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client posts notifications to the gateway behind a circuit breaker,
// so a dead gateway sheds load instead of stalling dispatch goroutines.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	log     *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "push-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("push breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		cfg:     cfg,
		log:     log,
	}
}

// Push hands one (recipient, payload) pair to the gateway. No
// end-user delivery acknowledgement is assumed; a 2xx means accepted.
func (c *Client) Push(ctx context.Context, recipientID string, n Notification) error {
	body, err := json.Marshal(request{To: recipientID, Notification: n})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "key="+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("push gateway returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
