package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"wacampaign/internal/models"
)

// Client reads lead and contact records from the CRM backend. The CRM owns
// the primary data; this client is lookup-only.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a CRM lead store client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// ListLeads returns every lead of a tenant.
func (c *Client) ListLeads(ctx context.Context, tenantID string) ([]models.Lead, error) {
	return c.getLeads(ctx, tenantID, "/api/leads")
}

// ListContacts returns every contact of a tenant.
func (c *Client) ListContacts(ctx context.Context, tenantID string) ([]models.Lead, error) {
	return c.getLeads(ctx, tenantID, "/api/contacts")
}

// GetLeads fetches specific leads by id.
func (c *Client) GetLeads(ctx context.Context, tenantID string, ids []string) ([]models.Lead, error) {
	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lead lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/leads/lookup", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req, tenantID)

	return c.doLeads(req)
}

// FindLeadByPhone resolves a lead from a canonical phone number. Returns
// nil when no lead matches.
func (c *Client) FindLeadByPhone(ctx context.Context, tenantID, phone string) (*models.Lead, error) {
	endpoint := c.baseURL + "/api/leads/by-phone?phone=" + url.QueryEscape(phone)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req, tenantID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query lead by phone: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lead lookup failed with status %d", resp.StatusCode)
	}

	var lead models.Lead
	if err := json.NewDecoder(resp.Body).Decode(&lead); err != nil {
		return nil, fmt.Errorf("failed to decode lead: %w", err)
	}
	return &lead, nil
}

func (c *Client) getLeads(ctx context.Context, tenantID, path string) ([]models.Lead, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req, tenantID)
	return c.doLeads(req)
}

func (c *Client) doLeads(req *http.Request) ([]models.Lead, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query CRM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRM request failed with status %d", resp.StatusCode)
	}

	var leads []models.Lead
	if err := json.NewDecoder(resp.Body).Decode(&leads); err != nil {
		return nil, fmt.Errorf("failed to decode leads: %w", err)
	}
	return leads, nil
}

func (c *Client) setAuth(req *http.Request, tenantID string) {
	req.Header.Set("X-Tenant-ID", tenantID)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
