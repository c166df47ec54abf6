// Package webhook delivers admin alerts as JSON POSTs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// timeout is the timeout for webhook request. Default to 30 seconds.
var timeout = 30 * time.Second

// AlertPayload is the body posted for every alert.
type AlertPayload struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sentAt"`
}

// Channel posts alerts to one endpoint. The recipient is carried in the body.
type Channel struct {
	URL    string
	client *http.Client
}

// NewChannel creates a webhook channel for url.
func NewChannel(url string) *Channel {
	return &Channel{URL: url, client: &http.Client{Timeout: timeout}}
}

func (c *Channel) Name() string { return "webhook" }

// Notify posts text to the endpoint.
func (c *Channel) Notify(ctx context.Context, recipient, text string) error {
	return c.post(ctx, &AlertPayload{Recipient: recipient, Text: text, SentAt: time.Now().UTC()})
}

func (c *Channel) post(ctx context.Context, payload *AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", c.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", c.URL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", c.URL)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", c.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", c.URL, resp.StatusCode, b)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	// Endpoints may report application errors in a 2xx body.
	response := &struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{}
	if err := json.Unmarshal(b, response); err != nil {
		return nil
	}
	if response.Code != 0 {
		return errors.Errorf("receive error code sent by webhook server, code %d, msg: %s", response.Code, response.Message)
	}
	return nil
}
