package sender_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/sender"
)

var templates = fstest.MapFS{
	"job/paid.tmpl": {Data: []byte("Hello, job {{.target}} was {{.action}}.")},
	"job/long.tmpl": {Data: []byte(`{{range .items}}{{.}}{{end}}`)},
	"job/bad.tmpl":  {Data: []byte(`{{.missing.field}`)},
}

func baseData() sender.Data {
	return sender.Data{
		"subject":      "Job paid",
		"to_address":   "alice@example.com",
		"from_address": "Notifications <notifications@example.com>",
		"bcc_address":  "audit@example.com",
		"target":       "J-1",
		"action":       "paid",
	}
}

// captureEmail records the last message it was given.
type captureEmail struct {
	msg *sender.EmailMessage
	err error
}

func (c *captureEmail) SendEmail(_ context.Context, msg *sender.EmailMessage) (string, error) {
	c.msg = msg
	if c.err != nil {
		return "", c.err
	}
	return "pm-1", nil
}

func TestFSRenderer_Render(t *testing.T) {
	r := sender.NewFSRenderer(templates)

	out, err := r.Render("job/paid.tmpl", baseData())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Hello, job J-1 was paid." {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := r.Render("job/absent.tmpl", baseData()); err == nil {
		t.Fatal("expected error for missing template")
	}
	if _, err := r.Render("job/bad.tmpl", baseData()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEmailSender_ComposesMIME(t *testing.T) {
	transport := &captureEmail{}
	s := sender.NewEmailSender(sender.NewFSRenderer(templates), transport, nil)

	meta, err := s.Send(context.Background(), "job/paid.tmpl", baseData())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.MessageID != "pm-1" || meta.To != "alice@example.com" || meta.Channel != domain.ChannelEmail {
		t.Fatalf("unexpected meta %+v", meta)
	}

	msg := transport.msg
	if msg.BCC != "audit@example.com" {
		t.Fatalf("expected bcc on envelope, got %q", msg.BCC)
	}

	mr, err := mail.CreateReader(strings.NewReader(string(msg.Raw)))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}
	subject, _ := mr.Header.Subject()
	if subject != "Job paid" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if mr.Header.Get("Bcc") != "" {
		t.Fatal("bcc must not appear in message headers")
	}
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("read body part: %v", err)
	}
	body, _ := io.ReadAll(part.Body)
	if string(body) != "Hello, job J-1 was paid." {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestEmailSender_TransportFailure(t *testing.T) {
	transport := &captureEmail{err: errors.New("connection refused")}
	s := sender.NewEmailSender(sender.NewFSRenderer(templates), transport, nil)

	_, err := s.Send(context.Background(), "job/paid.tmpl", baseData())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestEmailSender_BadRecipient(t *testing.T) {
	s := sender.NewEmailSender(sender.NewFSRenderer(templates), &captureEmail{}, nil)
	data := baseData()
	data["to_address"] = "not an address"

	if _, err := s.Send(context.Background(), "job/paid.tmpl", data); !errors.Is(err, domain.ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

type captureSMS struct {
	to, body string
}

func (c *captureSMS) SendSMS(_ context.Context, to, body string) (string, error) {
	c.to, c.body = to, body
	return "SM1", nil
}

func TestSMSSender_Truncates(t *testing.T) {
	transport := &captureSMS{}
	s := sender.NewSMSSender(sender.NewFSRenderer(templates), transport, nil)

	data := baseData()
	data["to_address"] = "+15550001111"
	items := make([]string, 2000)
	for i := range items {
		items[i] = "é"
	}
	data["items"] = items

	meta, err := s.Send(context.Background(), "job/long.tmpl", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.MessageID != "SM1" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if n := len([]rune(transport.body)); n != sender.MaxSMSLength {
		t.Fatalf("expected %d characters, got %d", sender.MaxSMSLength, n)
	}
}

func TestStubSenders(t *testing.T) {
	r := sender.NewFSRenderer(templates)
	reg := sender.NewRegistry(
		sender.NewStubEmailSender(r, zap.NewNop()),
		sender.NewStubSMSSender(r, zap.NewNop()),
	)

	email, err := reg.For(domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := email.Send(context.Background(), "job/paid.tmpl", baseData()); err != nil {
		t.Fatalf("stub email: %v", err)
	}

	sms, _ := reg.For(domain.ChannelSMS)
	data := baseData()
	data["to_address"] = "+15550001111"
	if _, err := sms.Send(context.Background(), "job/paid.tmpl", data); err != nil {
		t.Fatalf("stub sms: %v", err)
	}

	if _, err := sender.NewRegistry().For(domain.ChannelEmail); !errors.Is(err, domain.ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestBuildData(t *testing.T) {
	d := &domain.Dispatch{ToAddress: "alice@example.com", BCCAddress: "audit@example.com"}
	e := &domain.Event{Type: "paid", Target: "J-1"}

	data := sender.BuildData(sender.Data{"target": "Job #1"}, d, e, "site@example.com")
	if data.String("subject") != "J-1 paid" {
		t.Fatalf("expected default subject, got %q", data.String("subject"))
	}
	if data.String("target") != "Job #1" {
		t.Fatal("view data must win over defaults")
	}
	if data.String("to_address") != "alice@example.com" || data.String("from_address") != "site@example.com" {
		t.Fatalf("unexpected addresses %v", data)
	}

	d.Subject = "Custom"
	if got := sender.BuildData(nil, d, e, "").String("subject"); got != "Custom" {
		t.Fatalf("expected dispatch subject, got %q", got)
	}
}

func TestViews(t *testing.T) {
	views := sender.DefaultViews()
	in := sender.ViewInput{Event: &domain.Event{Context: map[string]string{"k": "v"}}}

	data, err := views.Data(context.Background(), "default", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data["context"].(map[string]string)["k"] != "v" {
		t.Fatalf("unexpected data %v", data)
	}
	if _, err := views.Data(context.Background(), "nope", in); !errors.Is(err, domain.ErrUnknownView) {
		t.Fatalf("expected ErrUnknownView, got %v", err)
	}
}

func TestPostmarkTransport(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Postmark-Server-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ErrorCode":10,"Message":"bad token"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"MessageID":"abc","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	msg := &sender.EmailMessage{From: "a@example.com", To: "b@example.com", Subject: "s", Body: "b", MessageID: "m@x"}

	id, err := sender.NewPostmarkTransport(srv.URL, "tok", time.Second).SendEmail(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc" || got["To"] != "b@example.com" || got["TextBody"] != "b" {
		t.Fatalf("unexpected result id=%q body=%v", id, got)
	}

	if _, err := sender.NewPostmarkTransport(srv.URL, "wrong", time.Second).SendEmail(context.Background(), msg); err == nil {
		t.Fatal("expected error for rejected token")
	}
}

func TestTwilioTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"auth"}`))
			return
		}
		if r.URL.Path != "/Accounts/AC1/Messages.json" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"path"}`))
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("To") != "+1555" || r.PostForm.Get("Body") != "hi" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"form"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM9","status":"queued"}`))
	}))
	defer srv.Close()

	tr := sender.NewTwilioTransport(srv.URL, "AC1", "secret", "+1000", time.Second)
	id, err := tr.SendSMS(context.Background(), "+1555", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "SM9" {
		t.Fatalf("expected SM9, got %q", id)
	}

	bad := sender.NewTwilioTransport(srv.URL, "AC1", "nope", "+1000", time.Second)
	if _, err := bad.SendSMS(context.Background(), "+1555", "hi"); err == nil {
		t.Fatal("expected error for bad credentials")
	}
}
