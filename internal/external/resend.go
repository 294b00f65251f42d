package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"eventdigest/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey    string
	BaseURL   string // Override for testing; defaults to resendAPIBase
	SegmentID string // Segment new contacts are added to
	Logger    *slog.Logger
}

// ResendClient talks to the Resend contacts and email APIs. Reads go through
// the fetch BaseClient, which may retry and trip its breaker. Sends go through
// a separate BaseClient that never retries so one failing recipient cannot
// cause duplicate delivery or short-circuit the remaining recipients.
type ResendClient struct {
	fetch     *BaseClient
	send      *BaseClient
	apiKey    string
	baseURL   string
	segmentID string
	logger    *slog.Logger
}

// NewResendClient creates a ResendClient with the given fetch and send
// BaseClients.
func NewResendClient(fetch, send *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		fetch:     fetch,
		send:      send,
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		segmentID: cfg.SegmentID,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// RecipientDirectory Implementation
// ---------------------------------------------------------------------------

type resendContactList struct {
	Data []types.Contact `json:"data"`
}

// ListRecipients lists the contacts of segmentID (all contacts when empty)
// and returns the addresses of those still subscribed, in provider order.
func (c *ResendClient) ListRecipients(ctx context.Context, segmentID string) ([]string, error) {
	reqURL := c.baseURL + "/contacts"
	if segmentID != "" {
		reqURL += "?segment_id=" + url.QueryEscape(segmentID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create contacts request", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.fetch.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamContacts, "Failed to list contacts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorMessage(resp)
		return nil, types.NewAppError(
			types.ErrCodeUpstreamContacts,
			"Failed to list contacts",
			fmt.Errorf("resend returned %d: %s", resp.StatusCode, msg),
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var list resendContactList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamContacts, "Failed to list contacts", err)
	}

	recipients := make([]string, 0, len(list.Data))
	for _, contact := range list.Data {
		if contact.Eligible() {
			recipients = append(recipients, contact.Email)
		}
	}
	c.logger.DebugContext(ctx, "listed contacts",
		"segment_id", segmentID,
		"contacts", len(list.Data),
		"eligible", len(recipients),
	)
	return recipients, nil
}

// ---------------------------------------------------------------------------
// ContactRegistrar Implementation
// ---------------------------------------------------------------------------

type resendSegmentRef struct {
	SegmentID string `json:"segment_id"`
}

type resendCreateContactPayload struct {
	Email        string             `json:"email"`
	Unsubscribed bool               `json:"unsubscribed"`
	Segments     []resendSegmentRef `json:"segments,omitempty"`
}

// subscribeFailedMessage is shown to the subscriber when Resend gives no reason.
const subscribeFailedMessage = "No se pudo suscribir."

// CreateContact adds email as a subscribed contact, placing it in the
// configured segment when one is set.
//
// Error mapping:
//   - 4xx -> types.ErrCodeEmailRejected carrying the provider message
//   - 5xx -> types.ErrCodeUpstreamContacts carrying the provider message
//   - transport, breaker -> types.ErrCodeUpstreamContacts
func (c *ResendClient) CreateContact(ctx context.Context, email string) error {
	payload := resendCreateContactPayload{Email: email}
	if c.segmentID != "" {
		payload.Segments = []resendSegmentRef{{SegmentID: c.segmentID}}
	}

	resp, err := c.postJSON(ctx, c.fetch, "/contacts", payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamContacts, subscribeFailedMessage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	msg := readErrorMessage(resp)
	if msg == "" {
		msg = subscribeFailedMessage
	}
	code := types.ErrCodeEmailRejected
	if resp.StatusCode >= 500 {
		code = types.ErrCodeUpstreamContacts
	}
	return types.NewAppError(code, msg, nil).WithDetails(map[string]any{"status": resp.StatusCode})
}

// ---------------------------------------------------------------------------
// Mailer Implementation
// ---------------------------------------------------------------------------

type resendEmailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendEmailResponse struct {
	ID string `json:"id"`
}

// SendEmail transmits msg and returns the Resend message ID. Any 2xx counts
// as accepted.
//
// Error mapping:
//   - 4xx (except 429) -> types.ErrCodeEmailRejected
//   - everything else -> types.ErrCodeUpstreamEmailProvider
func (c *ResendClient) SendEmail(ctx context.Context, msg Message) (string, error) {
	payload := resendEmailPayload{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}

	resp, err := c.postJSON(ctx, c.send, "/emails", payload)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeInternalUnexpected {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "resend send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		var out resendEmailResponse
		// The ID is informational; an unreadable body still means accepted.
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out.ID, nil
	}

	detail := readErrorMessage(resp)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", types.NewAppError(
			types.ErrCodeEmailRejected,
			fmt.Sprintf("resend rejected message (%d): %s", resp.StatusCode, detail),
			nil,
		).WithDetails(map[string]any{"status": resp.StatusCode})
	}
	return "", types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("resend returned %d: %s", resp.StatusCode, detail),
		nil,
	).WithDetails(map[string]any{"status": resp.StatusCode})
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

func (c *ResendClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *ResendClient) postJSON(ctx context.Context, base *BaseClient, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create resend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	return base.Do(req)
}

// resendErrorResponse is the JSON error body returned by Resend. Older
// endpoints use msg or an errors array instead of message.
type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// readErrorMessage extracts the provider's error message. Returns "" when the
// body carries none.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return ""
	}
	var re resendErrorResponse
	if jsonErr := json.Unmarshal(body, &re); jsonErr != nil {
		return ""
	}
	switch {
	case re.Message != "":
		return re.Message
	case re.Msg != "":
		return re.Msg
	case len(re.Errors) > 0:
		return re.Errors[0].Message
	}
	return ""
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var (
	_ RecipientDirectory = (*ResendClient)(nil)
	_ ContactRegistrar   = (*ResendClient)(nil)
	_ Mailer             = (*ResendClient)(nil)
)
