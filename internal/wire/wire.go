// internal/wire/wire.go
package wire

import (
	"popndrop/internal/adaptor"
	"popndrop/internal/data/repository"
	"popndrop/internal/usecase"
	"popndrop/pkg/middleware"
	"popndrop/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and the services behind it
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Wiring builds services, handlers and routes
func Wiring(
	repo *repository.Repository,
	deps usecase.Dependencies,
	checks map[string]adaptor.Pinger,
	config *utils.Config,
	logger *zap.Logger,
) *App {
	service := usecase.NewService(repo, deps, config, logger)
	handler := adaptor.NewHandler(service, checks, logger)

	router := setupRouter(handler, config, logger)

	return &App{
		Router:  router,
		Service: service,
	}
}

func setupRouter(handler *adaptor.Handler, config *utils.Config, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))

	wireHealth(r, handler.Health)
	wireWebhook(r, handler.Webhook, config, logger)
	wireAutomation(r, handler.Automation, config, logger)
	wireBooking(r, handler.Booking, config, logger)

	return r
}

func wireHealth(r chi.Router, h *adaptor.HealthHandler) {
	r.Get("/health", h.Live)
	r.Get("/health/ready", h.Ready)
}
