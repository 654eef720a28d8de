package square

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sqcore "github.com/square/square-go-sdk/core"

	"github.com/angelmondragon/stockflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", WebhookSecret: "s"}, nil); !errors.Is(err, errLoggerRequired) {
		t.Fatalf("expected logger error, got %v", err)
	}
	if _, err := NewClient(ctx, config.SquareConfig{WebhookSecret: "s"}, logger.Nop()); !errors.Is(err, errAccessTokenRequired) {
		t.Fatalf("expected token error, got %v", err)
	}
	if _, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok"}, logger.Nop()); !errors.Is(err, errWebhookSecretRequired) {
		t.Fatalf("expected secret error, got %v", err)
	}
	c, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", WebhookSecret: "s"}, logger.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Environment() != sandboxEnv {
		t.Fatalf("expected sandbox default, got %q", c.Environment())
	}
}

func TestNormalizeEnv(t *testing.T) {
	if env, err := normalizeEnv(" Production "); err != nil || env != productionEnv {
		t.Fatalf("unexpected %q %v", env, err)
	}
	if _, err := normalizeEnv("staging"); !errors.Is(err, errInvalidSquareEnv) {
		t.Fatalf("expected invalid env error, got %v", err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	if got := idempotencyKey(" sync-42 "); got != "sync-42" {
		t.Fatalf("expected provided key, got %q", got)
	}
	a, b := idempotencyKey(""), idempotencyKey("")
	if !strings.HasPrefix(a, "sf-inv-") || a == b {
		t.Fatalf("expected unique generated keys, got %q and %q", a, b)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pkgerrors.Code
	}{
		{"transport", errors.New("dial tcp: timeout"), pkgerrors.CodeDependency},
		{"server error", sqcore.NewAPIError(http.StatusBadGateway, errors.New(`{"errors":[]}`)), pkgerrors.CodeDependency},
		{"not found", sqcore.NewAPIError(http.StatusNotFound, errors.New(`{}`)), pkgerrors.CodeNotFound},
		{"bad request", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`not json`)), pkgerrors.CodeValidation},
		{
			"auth category",
			sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			pkgerrors.CodeUnauthorized,
		},
		{
			"rate limit category",
			sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"RATE_LIMIT_ERROR","code":"RATE_LIMITED"}]}`)),
			pkgerrors.CodeRateLimit,
		},
		{
			"idempotency reuse",
			sqcore.NewAPIError(http.StatusConflict, errors.New(`{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)),
			pkgerrors.CodeIdempotency,
		},
	}
	for _, tc := range cases {
		typed := pkgerrors.As(classify(tc.err, "push"))
		if typed == nil || typed.Code() != tc.want {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, typed)
		}
	}
	if classify(nil, "push") != nil {
		t.Fatalf("nil error must stay nil")
	}
}
