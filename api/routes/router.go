package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/p2pex-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/p2pex-backend/api/controllers/orders"
	taskcontrollers "github.com/angelmondragon/p2pex-backend/api/controllers/tasks"
	walletcontrollers "github.com/angelmondragon/p2pex-backend/api/controllers/wallets"
	"github.com/angelmondragon/p2pex-backend/api/middleware"
	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/internal/orders"
	"github.com/angelmondragon/p2pex-backend/internal/tasks"
	"github.com/angelmondragon/p2pex-backend/pkg/config"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/redis"
)

// redisStore is the slice of the Redis client the HTTP layer needs.
type redisStore interface {
	controllers.Pinger
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	ledgerService ledger.Service,
	ordersService orders.Service,
	tasksService tasks.Service,
	hub controllers.SocketServer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.WebSocket.Origins()),
	)

	taskCompletePolicy := middleware.NewRateLimitPolicy(
		"task-complete",
		cfg.Tasks.CompleteWindow,
		cfg.Tasks.CompleteRateLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.With(middleware.WebSocketAuth(cfg.JWT, logg)).Get("/ws", controllers.WebSocket(hub, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", walletcontrollers.List(ledgerService, logg))
			r.Get("/entries", walletcontrollers.Entries(ledgerService, logg))
			r.Get("/{currencyId}", walletcontrollers.Detail(ledgerService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersService, logg))
			r.Get("/", ordercontrollers.List(ordersService, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAgent, enums.RoleAdmin)).Get("/pending", ordercontrollers.Pending(ordersService, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersService, logg))
			r.Patch("/{orderId}", ordercontrollers.Amend(ordersService, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAgent, enums.RoleAdmin)).Post("/{orderId}/claim", ordercontrollers.Claim(ordersService, logg))
			r.Post("/{orderId}/confirm", ordercontrollers.Confirm(ordersService, logg))
			r.Post("/{orderId}/complete", ordercontrollers.Complete(ordersService, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersService, logg))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskcontrollers.List(tasksService, logg))
			r.Get("/history", taskcontrollers.History(tasksService, logg))
			r.With(middleware.RateLimit(taskCompletePolicy, redisClient, logg)).Post("/{taskId}/complete", taskcontrollers.Complete(tasksService, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Route("/wallets/{userId}/{currencyId}", func(r chi.Router) {
				r.Patch("/", walletcontrollers.AdminSetStatus(ledgerService, logg))
				r.Post("/credit", walletcontrollers.AdminCredit(ledgerService, logg))
				r.Post("/debit", walletcontrollers.AdminDebit(ledgerService, logg))
				r.Post("/freeze", walletcontrollers.AdminFreeze(ledgerService, logg))
				r.Post("/unfreeze", walletcontrollers.AdminUnfreeze(ledgerService, logg))
			})
			r.Post("/deposits", walletcontrollers.Deposit(ledgerService, logg))
			r.Post("/tasks", taskcontrollers.AdminCreate(tasksService, logg))
		})
	})

	return r
}
