// Package observability provides webhook alerting for budget and provider events.
package observability

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AlertConfig contains configuration for webhook alerting.
// The payload format is Slack-compatible.
type AlertConfig struct {
	WebhookURL      string        // Incoming webhook URL
	Channel         string        // Override channel (optional)
	Username        string        // Bot username (default: "OMEN")
	IconEmoji       string        // Bot icon emoji (default: ":crystal_ball:")
	AlertOnBudget   bool          // Alert on budget thresholds
	AlertOnProvider bool          // Alert on provider health transitions
	MinInterval     time.Duration // Minimum interval between alerts per entity
}

// DefaultAlertConfig returns default configuration from environment.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		WebhookURL:      os.Getenv("OMEN_ALERT_WEBHOOK_URL"),
		Channel:         os.Getenv("OMEN_ALERT_CHANNEL"),
		Username:        "OMEN",
		IconEmoji:       ":crystal_ball:",
		AlertOnBudget:   true,
		AlertOnProvider: true,
		MinInterval:     time.Minute,
	}
}

// AlertNotifier sends webhook alerts with per-entity rate limiting.
type AlertNotifier struct {
	config    AlertConfig
	client    *http.Client
	lastAlert map[string]time.Time
	mu        sync.Mutex
}

// webhookMessage represents a Slack-compatible message payload.
type webhookMessage struct {
	Channel     string              `json:"channel,omitempty"`
	Username    string              `json:"username,omitempty"`
	IconEmoji   string              `json:"icon_emoji,omitempty"`
	Text        string              `json:"text,omitempty"`
	Attachments []webhookAttachment `json:"attachments,omitempty"`
}

// webhookAttachment represents a message attachment.
type webhookAttachment struct {
	Color      string         `json:"color,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	Fields     []webhookField `json:"fields,omitempty"`
	Footer     string         `json:"footer,omitempty"`
	Timestamp  int64          `json:"ts,omitempty"`
	MarkdownIn []string       `json:"mrkdwn_in,omitempty"`
}

// webhookField represents a field in an attachment.
type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewAlertNotifier creates a new webhook alert notifier.
func NewAlertNotifier(cfg AlertConfig) (*AlertNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("alerts: webhook_url is required")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}

	return &AlertNotifier{
		config:    cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		lastAlert: make(map[string]time.Time),
	}, nil
}

// BudgetAlert sends a budget threshold alert. Alerts for the same entity
// are suppressed within MinInterval.
func (a *AlertNotifier) BudgetAlert(ctx context.Context, entityType, entityID string, remaining, maxBudget, percentUsed float64) error {
	if a == nil || !a.config.AlertOnBudget {
		return nil
	}
	if !a.shouldAlert("budget:" + entityType + ":" + entityID) {
		return nil
	}

	msg := a.buildBudgetMessage(entityType, entityID, remaining, maxBudget, percentUsed)
	return a.send(ctx, msg)
}

// ProviderAlert sends a provider health transition alert.
func (a *AlertNotifier) ProviderAlert(ctx context.Context, providerID string, healthy bool, cause error) error {
	if a == nil || !a.config.AlertOnProvider {
		return nil
	}
	if !a.shouldAlert("provider:" + providerID) {
		return nil
	}

	msg := a.buildProviderMessage(providerID, healthy, cause)
	return a.send(ctx, msg)
}

// shouldAlert reports whether an alert for key is outside the suppression window.
func (a *AlertNotifier) shouldAlert(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if last, ok := a.lastAlert[key]; ok && time.Since(last) < a.config.MinInterval {
		return false
	}
	a.lastAlert[key] = time.Now()
	return true
}

// buildBudgetMessage builds a webhook message for a budget threshold.
func (a *AlertNotifier) buildBudgetMessage(entityType, entityID string, remaining, maxBudget, percentUsed float64) webhookMessage {
	var color string
	if percentUsed >= 100 {
		color = "danger"
	} else if percentUsed >= 90 {
		color = "warning"
	} else {
		color = "good"
	}

	caser := cases.Title(language.English)
	title := fmt.Sprintf(":moneybag: Budget Alert: %s", caser.String(entityType))
	text := fmt.Sprintf("%s `%s` has used %.1f%% of budget", caser.String(entityType), entityID, percentUsed)

	fields := []webhookField{
		{Title: "Remaining", Value: fmt.Sprintf("$%.2f", remaining), Short: true},
		{Title: "Max Budget", Value: fmt.Sprintf("$%.2f", maxBudget), Short: true},
		{Title: "Usage", Value: fmt.Sprintf("%.1f%%", percentUsed), Short: true},
	}

	return webhookMessage{
		Channel:   a.config.Channel,
		Username:  a.config.Username,
		IconEmoji: a.config.IconEmoji,
		Attachments: []webhookAttachment{
			{
				Color:      color,
				Title:      title,
				Text:       text,
				Fields:     fields,
				Footer:     "OMEN Alert",
				Timestamp:  time.Now().Unix(),
				MarkdownIn: []string{"text"},
			},
		},
	}
}

// buildProviderMessage builds a webhook message for a provider transition.
func (a *AlertNotifier) buildProviderMessage(providerID string, healthy bool, cause error) webhookMessage {
	var color, title, text string

	if healthy {
		color = "good"
		title = ":white_check_mark: Provider Recovered"
		text = fmt.Sprintf("Provider `%s` is healthy again", providerID)
	} else {
		color = "danger"
		title = ":x: Provider Unhealthy"
		text = fmt.Sprintf("Provider `%s` failed its health probe", providerID)
	}

	fields := []webhookField{
		{Title: "Provider", Value: providerID, Short: true},
	}

	if cause != nil {
		errMsg := cause.Error()
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		fields = append(fields, webhookField{Title: "Error", Value: errMsg, Short: false})
	}

	return webhookMessage{
		Channel:   a.config.Channel,
		Username:  a.config.Username,
		IconEmoji: a.config.IconEmoji,
		Attachments: []webhookAttachment{
			{
				Color:      color,
				Title:      title,
				Text:       text,
				Fields:     fields,
				Footer:     "OMEN Alert",
				Timestamp:  time.Now().Unix(),
				MarkdownIn: []string{"text"},
			},
		},
	}
}

// send sends a message to the webhook.
func (a *AlertNotifier) send(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("alerts: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alerts: webhook returned status %d", resp.StatusCode)
	}

	return nil
}
