package wire

import (
	"popndrop/internal/adaptor"
	"popndrop/pkg/middleware"
	"popndrop/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireAutomation(r chi.Router, automationHandler *adaptor.AutomationHandler, config *utils.Config, log *zap.Logger) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(config.RateLimit.PerMinute, config.RateLimit.Burst, log))
		r.Use(middleware.BearerToken(config.Automation.Token, config.Automation.TokenHash, log))

		// POST /api/automation/sweep - called by an external scheduler
		r.Post("/api/automation/sweep", automationHandler.Sweep)
	})
}
