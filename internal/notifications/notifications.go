package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Notifier pushes alerts to an ntfy topic. Alerts beyond one per interval are dropped so a
// flapping serial link cannot flood the phone.
type Notifier struct {
	client  *http.Client
	baseURL string
	topic   string
	limiter *rate.Limiter
}

// New returns nil when no topic is configured; a nil Notifier is safe to call.
func New(baseURL, topic string, interval time.Duration) *Notifier {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	log.Info().Str("topic", topic).Dur("interval", interval).Msg("Ntfy notifications initialized")
	return &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		topic:   topic,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Send publishes a notification. It returns false without sending when throttled.
func (n *Notifier) Send(ctx context.Context, title, message string) (bool, error) {
	if n == nil {
		return false, nil
	}
	if !n.limiter.Allow() {
		log.Debug().Str("title", title).Msg("Notification throttled")
		return false, nil
	}

	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
		"tags":    []string{"swimmer"},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/", bytes.NewBuffer(jsonData))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().Str("title", title).Int("status", resp.StatusCode).Msg("Notification sent successfully")
	return true, nil
}

// ControllerError reports a transport error from the pool controller.
func (n *Notifier) ControllerError(ctx context.Context, err error) {
	if _, serr := n.Send(ctx, "Pool controller error", err.Error()); serr != nil {
		log.Warn().Err(serr).Msg("Failed to send notification")
	}
}
