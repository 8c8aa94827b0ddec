// Package handler exposes rate limit administration over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"commonvote/internal/ratelimit/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/httputil"
	"commonvote/pkg/requestcontext"
)

// Service is the subset of the rate limit service administrators reach.
type Service interface {
	Reset(ctx context.Context, number phone.Number, action models.Action) error
}

// Handler serves the rate limit admin routes. Authentication is applied by the
// router that mounts it.
type Handler struct {
	service            Service
	logger             *slog.Logger
	defaultCountryCode string
}

func New(service Service, logger *slog.Logger, defaultCountryCode string) *Handler {
	return &Handler{
		service:            service,
		logger:             logger,
		defaultCountryCode: defaultCountryCode,
	}
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/ratelimit/otp/{phone}/reset", h.HandleResetOTP)
}

// HandleResetOTP clears the OTP request windows of one phone so a member
// locked out by the hourly limit can ask for a code again.
func (h *Handler) HandleResetOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	number, err := phone.Normalize(chi.URLParam(r, "phone"), h.defaultCountryCode)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.Reset(ctx, number, models.ActionOTPRequest); err != nil {
		if dErrors.Is(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "rate limit reset failed",
				"request_id", requestcontext.RequestID(ctx),
				"phone", phone.Mask(number),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.ResetResponse{
		Phone:  number.String(),
		Action: models.ActionOTPRequest,
		Reset:  true,
	})
}
