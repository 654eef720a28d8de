package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/stockflow-backend/api/controllers"
	"github.com/angelmondragon/stockflow-backend/api/controllers/deadletters"
	inventorycontrollers "github.com/angelmondragon/stockflow-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/stockflow-backend/api/controllers/orders"
	webhookeventcontrollers "github.com/angelmondragon/stockflow-backend/api/controllers/webhookevents"
	webhookcontrollers "github.com/angelmondragon/stockflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/stockflow-backend/api/middleware"
	"github.com/angelmondragon/stockflow-backend/internal/orders"
	"github.com/angelmondragon/stockflow-backend/internal/webhookevents"
	"github.com/angelmondragon/stockflow-backend/pkg/config"
	"github.com/angelmondragon/stockflow-backend/pkg/enums"
	"github.com/angelmondragon/stockflow-backend/pkg/logger"
	"github.com/angelmondragon/stockflow-backend/pkg/metrics"
)

// RedisStore covers the Redis features the HTTP surface needs.
type RedisStore interface {
	controllers.Pinger
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type squareVerifier interface {
	VerifyWebhook(notificationURL string, body []byte, sig string) error
}

// Dependencies are the collaborators cmd/api wires into the router.
type Dependencies struct {
	DB             controllers.Pinger
	Redis          RedisStore
	Metrics        *metrics.Domain
	MetricsHandler http.Handler
	Orders         orders.Orchestrator
	Stock          inventorycontrollers.StockAdmin
	Sync           inventorycontrollers.SyncDispatcher
	WebhookEvents  webhookevents.Gate
	DeadLetters    deadletters.Lister
	StripeWebhooks webhookcontrollers.StripeEventProcessor
	StripeClient   stripeVerifier
	SquareWebhooks webhookcontrollers.SquareEventProcessor
	SquareClient   squareVerifier
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessChecks(deps)))
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(webhookLimit(cfg, deps, enums.WebhookProviderStripe, logg)).
			Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeClient, logg))
		r.With(webhookLimit(cfg, deps, enums.WebhookProviderSquare, logg)).
			Post("/square", webhookcontrollers.SquareWebhook(deps.SquareWebhooks, deps.SquareClient, cfg.Square.WebhookURL, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(middleware.Idempotency(deps.Redis, cfg.Eventing.APIIdempotencyTTL, logg)).
			Post("/orders", ordercontrollers.Place(deps.Orders, logg))
		r.Get("/orders", ordercontrollers.List(deps.Orders, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))

			r.Route("/inventory/{productId}", func(r chi.Router) {
				r.Get("/", inventorycontrollers.Get(deps.Stock, logg))
				r.Put("/", inventorycontrollers.SetQuantity(deps.Stock, deps.Sync, logg))
				r.Post("/adjust", inventorycontrollers.Adjust(deps.Stock, deps.Sync, logg))
				r.Put("/sync", inventorycontrollers.UpdateSync(deps.Stock, deps.Sync, logg))
				r.Get("/mutations", inventorycontrollers.ListMutations(deps.Stock, logg))
			})
			r.Get("/webhook-events/failed", webhookeventcontrollers.ListFailed(deps.WebhookEvents, logg))
			r.Get("/outbox/dead-letters", deadletters.List(deps.DeadLetters, logg))
		})
	})

	return r
}

func webhookLimit(cfg *config.Config, deps Dependencies, provider enums.WebhookProvider, logg *logger.Logger) func(http.Handler) http.Handler {
	policy := middleware.RateLimitPolicy{
		Provider: provider,
		Limit:    cfg.Eventing.WebhookRateLimit,
		Window:   cfg.Eventing.WebhookRateWindow,
	}
	return middleware.WebhookRateLimit(policy, deps.Redis, deps.Metrics, logg)
}

func readinessChecks(deps Dependencies) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{}
	if deps.DB != nil {
		checks["db"] = deps.DB
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	return checks
}
