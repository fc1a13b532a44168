package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wacampaign/internal/models"
)

// Client submits messages to the external WhatsApp HTTP API.
type Client interface {
	SendText(ctx context.Context, phone, body string) (*SendMessageResponse, error)
	SendTemplate(ctx context.Context, phone string, tpl models.TemplatePayload) (*SendMessageResponse, error)
	SendMedia(ctx context.Context, phone string, media models.MediaPayload) (*SendMessageResponse, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a WhatsApp API client.
func NewClient(baseURL, apiKey string, timeout time.Duration) Client {
	return &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) SendText(ctx context.Context, phone, body string) (*SendMessageResponse, error) {
	payload := map[string]interface{}{
		"phone": phone,
		"text":  body,
	}
	return c.sendRequest(ctx, "/api/sendText", payload)
}

func (c *httpClient) SendTemplate(ctx context.Context, phone string, tpl models.TemplatePayload) (*SendMessageResponse, error) {
	payload := map[string]interface{}{
		"phone":    phone,
		"template": tpl.Name,
		"language": tpl.Language,
		"params":   tpl.Params,
	}
	return c.sendRequest(ctx, "/api/sendTemplate", payload)
}

func (c *httpClient) SendMedia(ctx context.Context, phone string, media models.MediaPayload) (*SendMessageResponse, error) {
	payload := map[string]interface{}{
		"phone":   phone,
		"kind":    media.Kind,
		"url":     media.URL,
		"caption": media.Caption,
	}
	return c.sendRequest(ctx, "/api/sendMedia", payload)
}

func (c *httpClient) sendRequest(ctx context.Context, endpoint string, payload interface{}) (*SendMessageResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SendError{Class: models.ErrClassTransientNetwork, Detail: err.Error()}
	}
	defer resp.Body.Close()

	var result SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := result.Error
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, &SendError{
			StatusCode: resp.StatusCode,
			Class:      ClassifyStatus(resp.StatusCode),
			Detail:     detail,
		}
	}

	return &result, nil
}

// Sender adapts a Client to the single-method channel interface consumed by
// the dispatch workers, matching exhaustively on the payload variant.
type Sender struct {
	client Client
}

// NewSender wraps a Client for use as a channel adapter.
func NewSender(client Client) *Sender {
	return &Sender{client: client}
}

// Send transmits one payload and returns the provider message id.
func (s *Sender) Send(ctx context.Context, phone string, payload models.MessagePayload) (string, error) {
	var (
		resp *SendMessageResponse
		err  error
	)
	switch payload.Type {
	case models.PayloadText:
		resp, err = s.client.SendText(ctx, phone, payload.Text.Body)
	case models.PayloadTemplate:
		resp, err = s.client.SendTemplate(ctx, phone, *payload.Template)
	case models.PayloadMedia:
		resp, err = s.client.SendMedia(ctx, phone, *payload.Media)
	default:
		return "", &SendError{Class: models.ErrClassProviderRejected, Detail: fmt.Sprintf("unknown payload type %q", payload.Type)}
	}
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}
