package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// NotifyClient talks to a GOV.UK-Notify-compatible REST API. Requests
// are authenticated with a short-lived JWT signed by the service's
// secret key.
type NotifyClient struct {
	baseURL    string
	serviceID  string
	secretKey  string
	httpClient *http.Client
}

func NewNotifyClient(cfg config.ProviderConfig) *NotifyClient {
	return &NotifyClient{
		baseURL:   cfg.BaseURL,
		serviceID: cfg.ServiceID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sendEmailRequest struct {
	EmailAddress    string         `json:"email_address"`
	TemplateID      string         `json:"template_id"`
	Personalisation map[string]any `json:"personalisation,omitempty"`
	Reference       string         `json:"reference,omitempty"`
	EmailReplyToID  string         `json:"email_reply_to_id,omitempty"`
}

type sendEmailResponse struct {
	ID string `json:"id"`
}

type notificationStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *NotifyClient) SendEmail(ctx context.Context, templateID, address string, opts SendOptions) (*SendResponse, error) {
	body := sendEmailRequest{
		EmailAddress:    address,
		TemplateID:      templateID,
		Personalisation: opts.Personalisation,
		Reference:       opts.Reference,
		EmailReplyToID:  opts.EmailReplyToID,
	}

	var response sendEmailResponse
	if err := c.post(ctx, "/v2/notifications/email", body, &response); err != nil {
		return nil, err
	}

	return &SendResponse{TrackingID: response.ID}, nil
}

func (c *NotifyClient) GetStatusByID(ctx context.Context, trackingID string) (*StatusResponse, error) {
	var response notificationStatusResponse
	if err := c.get(ctx, "/v2/notifications/"+trackingID, &response); err != nil {
		return nil, err
	}

	return &StatusResponse{
		TrackingID: response.ID,
		Status:     mapProviderStatus(response.Status),
	}, nil
}

// mapProviderStatus narrows the provider's status vocabulary onto the
// engine's. Unknown values stay in-flight so the sweep keeps watching.
func mapProviderStatus(status string) models.NotifyStatus {
	switch status {
	case "created":
		return models.StatusCreated
	case "sending", "pending":
		return models.StatusSending
	case "delivered", "sent":
		return models.StatusDelivered
	case "permanent-failure":
		return models.StatusPermanentFailure
	case "temporary-failure":
		return models.StatusTemporaryFailure
	case "technical-failure":
		return models.StatusTechnicalFailure
	default:
		return models.StatusSending
	}
}

func (c *NotifyClient) post(ctx context.Context, path string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *NotifyClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}

	return c.do(req, out)
}

func (c *NotifyClient) do(req *http.Request, out any) error {
	token, err := c.authToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}

	return nil
}

// authToken signs a fresh token per request; the provider rejects
// tokens older than a short validity window, so caching buys nothing.
func (c *NotifyClient) authToken() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.serviceID,
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign provider auth token: %w", err)
	}

	return signed, nil
}
