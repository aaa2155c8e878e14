package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/notifyhub/torque-notifications/internal/auth"
	"github.com/notifyhub/torque-notifications/internal/domain"
)

// ErrEngineRejected is returned when the work engine does not accept a task.
var ErrEngineRejected = errors.New("work engine rejected task")

// engineRequest is the task description the work engine stores and replays.
type engineRequest struct {
	URL     string                `json:"url"`
	Method  string                `json:"method"`
	Timeout int                   `json:"timeout"`
	Headers map[string]string     `json:"headers"`
	Body    domain.DeliverRequest `json:"body"`
}

// HTTPDispatcher posts tasks to an external work engine, which calls the
// delivery webhook and retries it on 5xx answers.
type HTTPDispatcher struct {
	engineURL   string
	webhookBase string
	secret      string
	taskTimeout time.Duration
	tokenTTL    time.Duration
	httpClient  *http.Client
	now         func() time.Time
}

// NewHTTPDispatcher builds a dispatcher for the engine at engineURL.
// When secret is set every scheduled webhook call carries a bearer token
// for the task's user valid for tokenTTL.
func NewHTTPDispatcher(engineURL, webhookBase, secret string, taskTimeout, tokenTTL, requestTimeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		engineURL:   engineURL,
		webhookBase: webhookBase,
		secret:      secret,
		taskTimeout: taskTimeout,
		tokenTTL:    tokenTTL,
		httpClient:  &http.Client{Timeout: requestTimeout},
		now:         time.Now,
	}
}

func (d *HTTPDispatcher) Enqueue(ctx context.Context, task domain.DeliveryTask) error {
	headers := map[string]string{"Content-Type": "application/json"}
	if d.secret != "" {
		tok, err := auth.Sign(d.secret, task.UserID, d.tokenTTL, d.now())
		if err != nil {
			return err
		}
		headers["Authorization"] = "Bearer " + tok
	}

	body, err := json.Marshal(engineRequest{
		URL:     WebhookURL(d.webhookBase, task.UserID),
		Method:  http.MethodPost,
		Timeout: int(d.taskTimeout.Seconds()),
		Headers: headers,
		Body:    domain.DeliverRequest{LatestHash: task.LatestHash},
	})
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.engineURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send task: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("%w: status %d", ErrEngineRejected, resp.StatusCode)
	}
}
