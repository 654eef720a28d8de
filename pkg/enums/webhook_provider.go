package enums

import "fmt"

// WebhookProvider names the upstream system that delivered an event.
type WebhookProvider string

const (
	WebhookProviderStripe WebhookProvider = "stripe"
	WebhookProviderSquare WebhookProvider = "square"
)

var validWebhookProviders = []WebhookProvider{
	WebhookProviderStripe,
	WebhookProviderSquare,
}

// IsValid reports whether the provider is recognized.
func (p WebhookProvider) IsValid() bool {
	for _, candidate := range validWebhookProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseWebhookProvider converts raw input into a WebhookProvider.
func ParseWebhookProvider(value string) (WebhookProvider, error) {
	for _, candidate := range validWebhookProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook provider %q", value)
}
