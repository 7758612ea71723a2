package notify

import (
	"context"
	"time"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/internal/httpclient"
	"github.com/teranos/courseforge/metrics"
)

// DefaultWebhookTimeout bounds a single delivery attempt
const DefaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs an Event to a fixed URL. One attempt per event.
type WebhookNotifier struct {
	url     string
	secret  string
	client  *httpclient.SaferClient
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWebhookNotifier builds a notifier whose outbound calls go through the
// SSRF-checked client. secret, when set, is sent as X-Courseforge-Secret.
func NewWebhookNotifier(url, secret string, m *metrics.Metrics) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		secret:  secret,
		client:  httpclient.NewSaferClient(DefaultWebhookTimeout),
		metrics: m,
		now:     time.Now,
	}
}

// WithClient replaces the HTTP client (tests point it at httptest servers)
func (w *WebhookNotifier) WithClient(c *httpclient.SaferClient) *WebhookNotifier {
	w.client = c
	return w
}

func (w *WebhookNotifier) NotifyJobComplete(ctx context.Context, owner string, job JobSummary) error {
	return w.deliver(ctx, jobEvent(owner, job, w.now()))
}

func (w *WebhookNotifier) NotifyBatchComplete(ctx context.Context, owner string, batch BatchSummary) error {
	return w.deliver(ctx, batchEvent(owner, batch, w.now()))
}

func (w *WebhookNotifier) deliver(ctx context.Context, ev Event) error {
	if w.url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultWebhookTimeout)
	defer cancel()

	headers := map[string]string{"X-Courseforge-Event": ev.Type}
	if w.secret != "" {
		headers["X-Courseforge-Secret"] = w.secret
	}
	if err := w.client.PostJSON(ctx, w.url, headers, ev, nil); err != nil {
		w.metrics.Notified("webhook", "error")
		return errors.Wrapf(err, "webhook delivery of %s failed", ev.Type)
	}
	w.metrics.Notified("webhook", "ok")
	return nil
}
