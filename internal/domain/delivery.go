package domain

import "time"

// AlertConfig describes where failure reports are delivered.
type AlertConfig struct {
	WebhookURL string
	Secret     string // HMAC secret
	Timeout    time.Duration
}

// Enabled reports whether an alert destination is configured.
func (c AlertConfig) Enabled() bool {
	return c.WebhookURL != ""
}
