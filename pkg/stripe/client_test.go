package stripe

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
)

func TestNewClientValidatesKeys(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		cfg  config.StripeConfig
		want string
	}{
		"missing key":    {config.StripeConfig{WebhookSecret: "whsec"}, "api key"},
		"no prefix":      {config.StripeConfig{APIKey: "pk_test_1", WebhookSecret: "whsec"}, "sk_test_/rk_test_"},
		"missing secret": {config.StripeConfig{APIKey: "sk_test_1"}, "webhook secret"},
		"live key in test": {
			config.StripeConfig{APIKey: "sk_live_1", WebhookSecret: "whsec"}, "test secret key",
		},
		"test key in live": {
			config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec", Env: "live"}, "live secret key",
		},
		"bad env": {config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec", Env: "staging"}, "environment"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewClient(ctx, tc.cfg, nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewClientAcceptsRestrictedTestKey(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "rk_test_123",
		WebhookSecret: " whsec_abc ",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("unexpected env %q", client.Environment())
	}
	if client.signingSecret != "whsec_abc" {
		t.Fatalf("expected trimmed secret, got %q", client.signingSecret)
	}
}
