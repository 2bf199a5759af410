package adaptor

import (
	"net/http"

	"popndrop/internal/usecase"
	"popndrop/pkg/utils"

	"go.uber.org/zap"
)

type AutomationHandler struct {
	service usecase.AutomationService
	log     *zap.Logger
}

func NewAutomationHandler(service usecase.AutomationService, log *zap.Logger) *AutomationHandler {
	return &AutomationHandler{
		service: service,
		log:     log.With(zap.String("handler", "automation")),
	}
}

// Sweep handles POST /api/automation/sweep
func (h *AutomationHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Sweep(r.Context())
	if err != nil {
		h.log.Error("Automation sweep failed", zap.Error(err))
		utils.ResponseInternalError(w, "Sweep failed")
		return
	}

	utils.ResponseSuccess(w, "Sweep completed", summary)
}
