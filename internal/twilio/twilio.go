// Package twilio implements the two Twilio REST interactions the relay
// needs: sending a message and keeping the inbound SMS webhook URL of the
// configured phone number pointed at this deployment.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/metrics"
)

// DefaultAPIBaseURL is the Twilio REST API base URL.
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// ErrNotConfigured is returned from send attempts when account
// credentials are missing. Startup proceeds without them; only the send
// capability degrades.
var ErrNotConfigured = errors.New("twilio: not configured")

// Client talks to the Twilio REST API for one account.
type Client struct {
	creds   model.TwilioCredentials
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a Twilio client. Credentials may be empty; calls then
// fail with ErrNotConfigured.
func NewClient(creds model.TwilioCredentials, log *logger.Logger) *Client {
	return &Client{
		creds:   creds,
		baseURL: DefaultAPIBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log,
	}
}

// WithBaseURL overrides the API base URL. Used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Configured reports whether account credentials are present.
func (c *Client) Configured() bool {
	return c.creds.Configured()
}

// SendMessage sends an outbound SMS from the given sender. When from is
// empty the configured account number is used. Returns the message SID.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (string, error) {
	if !c.creds.Configured() {
		metrics.TwilioSends.WithLabelValues("not_configured").Inc()
		return "", ErrNotConfigured
	}
	if from == "" {
		from = c.creds.FromNumber
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.creds.AccountSID)
	var resp struct {
		SID string `json:"sid"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, form, &resp); err != nil {
		metrics.TwilioSends.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.TwilioSends.WithLabelValues("ok").Inc()
	return resp.SID, nil
}

// PhoneNumberInfo describes an incoming phone number resource.
type PhoneNumberInfo struct {
	SID         string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
	SMSURL      string `json:"sms_url"`
}

// GetPhoneNumberInfo looks up the configured phone number and returns its
// SID and current SMS webhook URL.
func (c *Client) GetPhoneNumberInfo(ctx context.Context) (*PhoneNumberInfo, error) {
	if !c.creds.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers.json?PhoneNumber=%s",
		c.baseURL, c.creds.AccountSID, url.QueryEscape(c.creds.FromNumber))

	var resp struct {
		IncomingPhoneNumbers []PhoneNumberInfo `json:"incoming_phone_numbers"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.IncomingPhoneNumbers) == 0 {
		return nil, fmt.Errorf("twilio: phone number %s not found in account", c.creds.FromNumber)
	}
	return &resp.IncomingPhoneNumbers[0], nil
}

// UpdateSMSWebhook sets the SMS webhook URL for a phone number resource.
func (c *Client) UpdateSMSWebhook(ctx context.Context, phoneSID, smsURL string) error {
	if !c.creds.Configured() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("SmsUrl", smsURL)

	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers/%s.json",
		c.baseURL, c.creds.AccountSID, phoneSID)
	return c.do(ctx, http.MethodPost, endpoint, form, nil)
}

// EnsureSMSWebhook makes sure the configured number delivers inbound SMS
// to webhookURL, updating the resource when it points elsewhere.
func (c *Client) EnsureSMSWebhook(ctx context.Context, webhookURL string) error {
	info, err := c.GetPhoneNumberInfo(ctx)
	if err != nil {
		return err
	}

	if info.SMSURL == webhookURL {
		c.logger.Info("SMS webhook already configured", zap.String("url", webhookURL))
		return nil
	}

	c.logger.Info("updating SMS webhook",
		zap.String("from", info.SMSURL),
		zap.String("to", webhookURL),
	)
	return c.UpdateSMSWebhook(ctx, info.SID, webhookURL)
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("twilio: build request: %w", err)
	}
	req.SetBasicAuth(c.creds.AccountSID, c.creds.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twilio: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("twilio: decode response: %w", err)
		}
	}
	return nil
}
