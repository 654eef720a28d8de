package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
	errNotInitialized        = errors.New("square client not initialized")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

type inventoryAPI interface {
	BatchCreateChanges(ctx context.Context, request *sq.BatchChangeInventoryRequest, opts ...sqoption.RequestOption) (*sq.BatchChangeInventoryResponse, error)
}

// Client is the marketplace side of stock sync: it pushes absolute counts to
// Square Inventory and verifies inbound inventory webhooks.
type Client struct {
	inventory     inventoryAPI
	environment   string
	webhookSecret string
	logg          *logger.Logger
}

// NewClient validates credentials and builds the SDK client for the configured environment.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errWebhookSecretRequired
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = baseURLs[env]
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return &Client{
		inventory:     sdk.Inventory,
		environment:   env,
		webhookSecret: secret,
		logg:          logg,
	}, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// idempotencyKey keeps a caller supplied key so retries of the same push
// collapse on Square's side; otherwise it mints one.
func idempotencyKey(provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return "sf-inv-" + uuid.NewString()
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		return sandboxEnv, nil
	}
	if _, ok := baseURLs[env]; !ok {
		return "", errInvalidSquareEnv
	}
	return env, nil
}
