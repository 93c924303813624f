package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultAfricasTalkingURL = "https://api.africastalking.com"
	defaultTwilioURL         = "https://api.twilio.com"
	defaultWhatsAppURL       = "https://graph.facebook.com"
	defaultWhatsAppVersion   = "v18.0"
)

// AfricasTalkingConfig holds Africa's Talking SMS credentials.
type AfricasTalkingConfig struct {
	Username string
	APIKey   string
	SenderID string
	BaseURL  string
}

// AfricasTalking sends SMS through the Africa's Talking messaging API.
type AfricasTalking struct {
	cfg    AfricasTalkingConfig
	client *http.Client
}

// NewAfricasTalking validates cfg and builds the sender.
func NewAfricasTalking(cfg AfricasTalkingConfig, client *http.Client) (*AfricasTalking, error) {
	if err := required(ProviderAfricasTalking, map[string]string{"username": cfg.Username, "api key": cfg.APIKey}); err != nil {
		return nil, err
	}
	cfg.BaseURL = baseURL(cfg.BaseURL, defaultAfricasTalkingURL)
	return &AfricasTalking{cfg: cfg, client: client}, nil
}

func (a *AfricasTalking) Name() Provider { return ProviderAfricasTalking }

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number string `json:"number"`
			Status string `json:"status"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send posts one message. A recipient status other than "Success" is an
// error.
func (a *AfricasTalking) Send(ctx context.Context, to, message string) error {
	form := url.Values{}
	form.Set("username", a.cfg.Username)
	form.Set("to", to)
	form.Set("message", message)
	if a.cfg.SenderID != "" {
		form.Set("from", a.cfg.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build africastalking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", a.cfg.APIKey)

	data, err := do(a.client, ProviderAfricasTalking, req)
	if err != nil {
		return err
	}

	var out atResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode africastalking response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("africastalking: no recipients accepted: %s", out.SMSMessageData.Message)
	}
	for _, r := range out.SMSMessageData.Recipients {
		if r.Status != "Success" {
			return fmt.Errorf("africastalking: delivery to %s: %s", r.Number, r.Status)
		}
	}
	return nil
}

// TwilioConfig holds Twilio Programmable Messaging credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

// Twilio sends SMS through the Twilio Messages API.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewTwilio validates cfg and builds the sender.
func NewTwilio(cfg TwilioConfig, client *http.Client) (*Twilio, error) {
	if err := required(ProviderTwilio, map[string]string{"account sid": cfg.AccountSID, "auth token": cfg.AuthToken, "from": cfg.From}); err != nil {
		return nil, err
	}
	cfg.BaseURL = baseURL(cfg.BaseURL, defaultTwilioURL)
	return &Twilio{cfg: cfg, client: client}, nil
}

func (t *Twilio) Name() Provider { return ProviderTwilio }

// Send posts one message.
func (t *Twilio) Send(ctx context.Context, to, message string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.From)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	_, err = do(t.client, ProviderTwilio, req)
	return err
}

// WhatsAppConfig holds WhatsApp Business Cloud API credentials.
type WhatsAppConfig struct {
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
	BaseURL       string
}

// WhatsApp sends text messages through the WhatsApp Business Cloud API.
type WhatsApp struct {
	cfg    WhatsAppConfig
	client *http.Client
}

// NewWhatsApp validates cfg and builds the sender.
func NewWhatsApp(cfg WhatsAppConfig, client *http.Client) (*WhatsApp, error) {
	if err := required(ProviderWhatsApp, map[string]string{"phone number id": cfg.PhoneNumberID, "access token": cfg.AccessToken}); err != nil {
		return nil, err
	}
	cfg.BaseURL = baseURL(cfg.BaseURL, defaultWhatsAppURL)
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultWhatsAppVersion
	}
	return &WhatsApp{cfg: cfg, client: client}, nil
}

func (w *WhatsApp) Name() Provider { return ProviderWhatsApp }

type waMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send posts one text message. The Cloud API wants the number without '+'.
func (w *WhatsApp) Send(ctx context.Context, to, message string) error {
	payload := waMessage{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
	}
	payload.Text.Body = message

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return fmt.Errorf("encode whatsapp payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", w.cfg.BaseURL, w.cfg.APIVersion, url.PathEscape(w.cfg.PhoneNumberID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	_, err = do(w.client, ProviderWhatsApp, req)
	return err
}

func baseURL(v, fallback string) string {
	v = strings.TrimSuffix(strings.TrimSpace(v), "/")
	if v == "" {
		return fallback
	}
	return v
}
