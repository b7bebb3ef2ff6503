package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
)

// SendOptions carries the opaque payload fields passed through to the
// provider unmodified, plus the reference the provider dedupes on.
type SendOptions struct {
	Personalisation map[string]any
	Reference       string
	EmailReplyToID  string
}

type SendResponse struct {
	TrackingID string
}

type StatusResponse struct {
	TrackingID string
	Status     models.NotifyStatus
}

// IEmailProvider is the black-box capability surface of the external
// email provider: send one email, poll one send's status by tracking id.
type IEmailProvider interface {
	SendEmail(ctx context.Context, templateID, address string, opts SendOptions) (*SendResponse, error)
	GetStatusByID(ctx context.Context, trackingID string) (*StatusResponse, error)
}

// ProviderError is a synchronous rejection from the provider API.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsServerError reports whether the rejection is a 5xx-equivalent
// transient infrastructure failure, classified as technical-failure.
func (e *ProviderError) IsServerError() bool {
	return e.StatusCode >= 500
}

// ClassifySendFailure maps a synchronous send rejection to a notify
// status: server-side failures are retryable, everything else is an
// internal failure of the dispatching side.
func ClassifySendFailure(err error) models.NotifyStatus {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.IsServerError() {
		return models.StatusTechnicalFailure
	}
	return models.StatusInternalFailure
}
