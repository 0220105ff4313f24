package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Mailjet API root
const DefaultBaseURL = "https://api.mailjet.com"

const (
	campaignSyncComplete  = "Congrats on Initial Sync"
	campaignSetupReminder = "Finish Your Setup"
)

// Config holds Mailjet credentials and template ids
type Config struct {
	BaseURL               string
	APIKey                string
	SecretKey             string
	SyncCompleteTemplate  int
	SetupReminderTemplate int
	HTTPClient            *http.Client
}

// Mailer sends transactional emails through the Mailjet Send API v3.1
type Mailer struct {
	baseURL    string
	apiKey     string
	secretKey  string
	templates  map[string]int
	httpClient *http.Client
}

// NewMailer creates a Mailjet mailer
func NewMailer(config Config) (*Mailer, error) {
	if config.APIKey == "" || config.SecretKey == "" {
		return nil, fmt.Errorf("mailjet api key and secret key are required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Mailer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    config.APIKey,
		secretKey: config.SecretKey,
		templates: map[string]int{
			campaignSyncComplete:  config.SyncCompleteTemplate,
			campaignSetupReminder: config.SetupReminderTemplate,
		},
		httpClient: httpClient,
	}, nil
}

type address struct {
	Email string `json:"Email"`
}

type globals struct {
	CustomCampaign   string `json:"CustomCampaign"`
	TemplateID       int    `json:"TemplateID"`
	TemplateLanguage bool   `json:"TemplateLanguage"`
}

type message struct {
	To []address `json:"To"`
}

type sendRequest struct {
	Globals  globals   `json:"Globals"`
	Messages []message `json:"Messages"`
}

type sendResult struct {
	Status string `json:"Status"`
	Errors []struct {
		ErrorCode       string `json:"ErrorCode"`
		ErrorMessage    string `json:"ErrorMessage"`
		StatusCode      int    `json:"StatusCode"`
		ErrorIdentifier string `json:"ErrorIdentifier"`
	} `json:"Errors"`
	To []address `json:"To"`
}

type sendResponse struct {
	Messages []sendResult `json:"Messages"`
}

// SendError is returned when Mailjet rejects a request or a message
type SendError struct {
	StatusCode int
	Detail     string
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mailjet send failed with status %d: %s", e.StatusCode, e.Detail)
	}
	return "mailjet send failed: " + e.Detail
}

// SendSyncComplete emails the user that their first sync finished
func (m *Mailer) SendSyncComplete(ctx context.Context, email string) error {
	return m.send(ctx, campaignSyncComplete, email)
}

// SendSetupReminder emails a user who signed up but never synced
func (m *Mailer) SendSetupReminder(ctx context.Context, email string) error {
	return m.send(ctx, campaignSetupReminder, email)
}

func (m *Mailer) send(ctx context.Context, campaign, email string) error {
	templateID := m.templates[campaign]
	if templateID == 0 {
		return fmt.Errorf("no mailjet template configured for %q", campaign)
	}

	payload := sendRequest{
		Globals:  globals{CustomCampaign: campaign, TemplateID: templateID, TemplateLanguage: true},
		Messages: []message{{To: []address{{Email: email}}}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3.1/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(m.apiKey, m.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %q email: %w", campaign, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	var result sendResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding send response: %w", err)
	}
	if len(result.Messages) == 0 {
		return &SendError{Detail: "response contained no messages"}
	}
	for _, msg := range result.Messages {
		if msg.Status == "success" {
			continue
		}
		detail := "status " + msg.Status
		if len(msg.Errors) > 0 {
			detail = msg.Errors[0].ErrorCode + ": " + msg.Errors[0].ErrorMessage
		}
		return &SendError{Detail: detail}
	}
	return nil
}
