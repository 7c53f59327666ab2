package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookTransport posts each notification as JSON to a push gateway.
type WebhookTransport struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewWebhookTransport(url, token string) *WebhookTransport {
	return &WebhookTransport{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookTransport) Send(ctx context.Context, n Notification) error {
	if w.URL == "" {
		return errors.New("push webhook url not configured")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push webhook failed: %s", resp.Status)
	}
	return nil
}
