package adaptor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"popndrop/internal/dto/request"
	"popndrop/internal/usecase"
	"popndrop/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// GetBooking handles GET /api/admin/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err, "get booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// QuoteRefund handles GET /api/admin/bookings/{id}/refund-quote
func (h *BookingHandler) QuoteRefund(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := request.RefundQuoteRequest{
		WeatherOrEmergency: utils.ParseBool(query.Get("weather"), false),
		CancelAt:           query.Get("cancel_at"),
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	quote, err := h.service.QuoteRefund(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.handleServiceError(w, err, "quote refund")
		return
	}

	utils.ResponseSuccess(w, "success", quote)
}

// CancelBooking handles POST /api/admin/bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req request.CancelBookingRequest
	// an empty body is an ordinary cancellation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	result, err := h.service.CancelBooking(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.handleServiceError(w, err, "cancel booking")
		return
	}

	utils.ResponseSuccess(w, "Booking cancelled", result)
}

// PaymentOptions handles GET /api/admin/bookings/{id}/payment-options
func (h *BookingHandler) PaymentOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.service.PaymentOptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err, "get payment options")
		return
	}

	utils.ResponseSuccess(w, "success", options)
}

// ListAttention handles GET /api/admin/attention
func (h *BookingHandler) ListAttention(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &request.PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), 10),
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	items, err := h.service.ListAttention(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "list attention items")
		return
	}

	utils.ResponseSuccess(w, "success", items)
}

// ResolveAttention handles POST /api/admin/attention/{id}/resolve
func (h *BookingHandler) ResolveAttention(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.ResolveAttention(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err, "resolve attention item")
		return
	}

	utils.ResponseSuccess(w, "Attention item resolved", item)
}

func (h *BookingHandler) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, usecase.ErrBookingNotFound), errors.Is(err, usecase.ErrAttentionNotFound):
		h.log.Warn(operation+" failed - not found", zap.Error(err))
		utils.ResponseNotFound(w, err.Error())

	case errors.Is(err, usecase.ErrInvalidInput):
		h.log.Warn("Invalid input for "+operation, zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, usecase.ErrInvalidState):
		h.log.Warn(operation+" failed - invalid state", zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, usecase.ErrRefundConflict), errors.Is(err, usecase.ErrStaleBooking):
		h.log.Warn(operation+" failed - conflict", zap.Error(err))
		utils.ResponseConflict(w, err.Error())

	default:
		h.log.Error("Failed to "+operation, zap.Error(err))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
