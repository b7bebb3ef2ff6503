package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *NotifyClient {
	return NewNotifyClient(config.ProviderConfig{
		BaseURL:   baseURL,
		ServiceID: "service-1",
		SecretKey: "secret",
		Timeout:   5 * time.Second,
	})
}

func TestSendEmail_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/notifications/email", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))

		var body sendEmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "farmer@example.com", body.EmailAddress)
		assert.Equal(t, "template-1", body.TemplateID)
		assert.Equal(t, "ref-A", body.Reference)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sendEmailResponse{ID: "trk-1"})
	}))
	defer server.Close()

	response, err := testClient(server.URL).SendEmail(context.Background(), "template-1", "farmer@example.com", SendOptions{
		Reference: "ref-A",
	})

	require.NoError(t, err)
	assert.Equal(t, "trk-1", response.TrackingID)
}

func TestSendEmail_RejectionCarriesStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("provider down"))
	}))
	defer server.Close()

	_, err := testClient(server.URL).SendEmail(context.Background(), "template-1", "farmer@example.com", SendOptions{})

	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, http.StatusServiceUnavailable, providerErr.StatusCode)
	assert.True(t, providerErr.IsServerError())
	assert.Equal(t, models.StatusTechnicalFailure, ClassifySendFailure(err))
}

func TestSendEmail_ClientErrorIsInternalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad template"))
	}))
	defer server.Close()

	_, err := testClient(server.URL).SendEmail(context.Background(), "template-1", "farmer@example.com", SendOptions{})

	assert.Equal(t, models.StatusInternalFailure, ClassifySendFailure(err))
}

func TestGetStatusByID_MapsProviderVocabulary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/notifications/trk-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notificationStatusResponse{ID: "trk-1", Status: "temporary-failure"})
	}))
	defer server.Close()

	response, err := testClient(server.URL).GetStatusByID(context.Background(), "trk-1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusTemporaryFailure, response.Status)
}

func TestMapProviderStatus_UnknownStaysInFlight(t *testing.T) {
	assert.Equal(t, models.StatusSending, mapProviderStatus("accepted"))
	assert.Equal(t, models.StatusDelivered, mapProviderStatus("sent"))
	assert.Equal(t, models.StatusSending, mapProviderStatus("pending"))
}
