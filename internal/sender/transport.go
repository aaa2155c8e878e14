package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

// PostmarkTransport sends email through Postmark's JSON API.
// The base URL is injected from config so tests can point to a local server.
type PostmarkTransport struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewPostmarkTransport(url, token string, timeout time.Duration) *PostmarkTransport {
	return &PostmarkTransport{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkRequest struct {
	From     string           `json:"From"`
	To       string           `json:"To"`
	Bcc      string           `json:"Bcc,omitempty"`
	Subject  string           `json:"Subject"`
	TextBody string           `json:"TextBody"`
	Headers  []postmarkHeader `json:"Headers,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (t *PostmarkTransport) SendEmail(ctx context.Context, msg *EmailMessage) (string, error) {
	body, err := json.Marshal(postmarkRequest{
		From:     msg.From,
		To:       msg.To,
		Bcc:      msg.BCC,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Headers:  []postmarkHeader{{Name: "Message-ID", Value: "<" + msg.MessageID + ">"}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", t.token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var pr postmarkResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || pr.ErrorCode != 0 {
		return "", fmt.Errorf("postmark status %d, code %d: %s", resp.StatusCode, pr.ErrorCode, pr.Message)
	}
	return pr.MessageID, nil
}

// SMTPTransport relays the raw message to an SMTP server.
type SMTPTransport struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTPTransport authenticates with PLAIN when username is set. from is
// the envelope sender.
func NewSMTPTransport(addr, username, password, from string) *SMTPTransport {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPTransport{addr: addr, auth: auth, from: from}
}

// SendEmail does not honour ctx; net/smtp has no context support.
func (t *SMTPTransport) SendEmail(_ context.Context, msg *EmailMessage) (string, error) {
	rcpt := []string{msg.To}
	if msg.BCC != "" {
		rcpt = append(rcpt, msg.BCC)
	}
	if err := smtp.SendMail(t.addr, t.auth, t.from, rcpt, msg.Raw); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return msg.MessageID, nil
}

// TwilioTransport sends SMS through Twilio's Messages resource.
type TwilioTransport struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

func NewTwilioTransport(baseURL, accountSID, authToken, from string, timeout time.Duration) *TwilioTransport {
	return &TwilioTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *TwilioTransport) SendSMS(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var tr twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twilio status %d: %s", resp.StatusCode, tr.Message)
	}
	return tr.SID, nil
}

// compile-time checks
var (
	_ EmailTransport = (*PostmarkTransport)(nil)
	_ EmailTransport = (*SMTPTransport)(nil)
	_ SMSTransport   = (*TwilioTransport)(nil)
	_ Sender         = (*EmailSender)(nil)
	_ Sender         = (*SMSSender)(nil)
)
