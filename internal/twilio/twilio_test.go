package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/pkg/logger"
)

var testCreds = model.TwilioCredentials{
	AccountSID: "AC123",
	AuthToken:  "token",
	FromNumber: "+15559990000",
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "AC123", user)
		require.Equal(t, "token", pass)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"sid": "SM42"})
	}))
	defer server.Close()

	c := NewClient(testCreds, logger.NewNop()).WithBaseURL(server.URL)
	sid, err := c.SendMessage(context.Background(), "", "+15551230000", "hello")
	require.NoError(t, err)
	require.Equal(t, "SM42", sid)

	require.Equal(t, "/Accounts/AC123/Messages.json", gotPath)
	require.Equal(t, "+15551230000", gotTo)
	require.Equal(t, "+15559990000", gotFrom, "empty from falls back to the configured number")
	require.Equal(t, "hello", gotBody)
}

func TestSendMessageNotConfigured(t *testing.T) {
	c := NewClient(model.TwilioCredentials{}, logger.NewNop())

	_, err := c.SendMessage(context.Background(), "", "+15551230000", "hello")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendMessageHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(testCreds, logger.NewNop()).WithBaseURL(server.URL)
	_, err := c.SendMessage(context.Background(), "", "bogus", "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 400")
}

func TestEnsureSMSWebhookUpdatesWhenDifferent(t *testing.T) {
	var updatedSID, updatedURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			require.Equal(t, "+15559990000", r.URL.Query().Get("PhoneNumber"))
			json.NewEncoder(w).Encode(map[string]any{
				"incoming_phone_numbers": []map[string]string{{
					"sid":          "PN1",
					"phone_number": "+15559990000",
					"sms_url":      "https://old.example.com/hook",
				}},
			})
		case r.Method == http.MethodPost:
			require.NoError(t, r.ParseForm())
			updatedSID = r.URL.Path
			updatedURL = r.PostFormValue("SmsUrl")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{})
		}
	}))
	defer server.Close()

	c := NewClient(testCreds, logger.NewNop()).WithBaseURL(server.URL)
	err := c.EnsureSMSWebhook(context.Background(), "https://relay.example.com/webhook/twilio/receive")
	require.NoError(t, err)
	require.Equal(t, "/Accounts/AC123/IncomingPhoneNumbers/PN1.json", updatedSID)
	require.Equal(t, "https://relay.example.com/webhook/twilio/receive", updatedURL)
}

func TestEnsureSMSWebhookNoopWhenAlreadySet(t *testing.T) {
	posts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"incoming_phone_numbers": []map[string]string{{
				"sid":          "PN1",
				"phone_number": "+15559990000",
				"sms_url":      "https://relay.example.com/webhook/twilio/receive",
			}},
		})
	}))
	defer server.Close()

	c := NewClient(testCreds, logger.NewNop()).WithBaseURL(server.URL)
	err := c.EnsureSMSWebhook(context.Background(), "https://relay.example.com/webhook/twilio/receive")
	require.NoError(t, err)
	require.Zero(t, posts)
}

func TestGetPhoneNumberInfoNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"incoming_phone_numbers": []any{}})
	}))
	defer server.Close()

	c := NewClient(testCreds, logger.NewNop()).WithBaseURL(server.URL)
	_, err := c.GetPhoneNumberInfo(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}
