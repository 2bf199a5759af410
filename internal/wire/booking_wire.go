package wire

import (
	"popndrop/internal/adaptor"
	"popndrop/pkg/middleware"
	"popndrop/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireBooking(r chi.Router, bookingHandler *adaptor.BookingHandler, config *utils.Config, log *zap.Logger) {
	// ==================== ADMIN ROUTES ====================
	// Same bearer token as automation
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.BearerToken(config.Automation.Token, config.Automation.TokenHash, log))

		r.Get("/bookings/{id}", bookingHandler.GetBooking)
		r.Get("/bookings/{id}/refund-quote", bookingHandler.QuoteRefund)
		r.Get("/bookings/{id}/payment-options", bookingHandler.PaymentOptions)
		r.Post("/bookings/{id}/cancel", bookingHandler.CancelBooking)

		r.Get("/attention", bookingHandler.ListAttention)
		r.Post("/attention/{id}/resolve", bookingHandler.ResolveAttention)
	})
}
