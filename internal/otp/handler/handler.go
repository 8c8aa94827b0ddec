package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"commonvote/internal/otp/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/httputil"
	"commonvote/pkg/requestcontext"
)

// Service defines the OTP operations exposed over HTTP.
type Service interface {
	Request(ctx context.Context, number phone.Number, purpose models.Purpose) (*models.RequestResult, error)
	Verify(ctx context.Context, number phone.Number, purpose models.Purpose, code string) (models.VerifyOutcome, error)
	Status(ctx context.Context, number phone.Number, purpose models.Purpose) (*models.Status, error)
}

// Handler serves the public OTP endpoints.
type Handler struct {
	service            Service
	logger             *slog.Logger
	validate           *validator.Validate
	defaultCountryCode string
}

func New(service Service, logger *slog.Logger, validate *validator.Validate, defaultCountryCode string) *Handler {
	return &Handler{
		service:            service,
		logger:             logger,
		validate:           validate,
		defaultCountryCode: defaultCountryCode,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/otp/request", h.HandleRequest)
	r.Post("/otp/verify", h.HandleVerify)
	r.Get("/otp/status", h.HandleStatus)
}

func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RequestOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	number, purpose, ok := h.parseTarget(w, r, req.Phone, req.Purpose)
	if !ok {
		return
	}

	res, err := h.service.Request(ctx, number, purpose)
	if err != nil {
		h.fail(w, r, "otp request failed", err)
		return
	}

	if res.Status == models.RequestRateLimited {
		seconds := int((res.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		httputil.WriteJSON(w, http.StatusTooManyRequests, models.RequestOTPResponse{
			Status:            res.Status,
			RetryAfterSeconds: seconds,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.RequestOTPResponse{
		Status:    res.Status,
		ExpiresAt: res.ExpiresAt.UTC().Format(time.RFC3339),
		Delivered: res.Delivered,
	})
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	number, purpose, ok := h.parseTarget(w, r, req.Phone, req.Purpose)
	if !ok {
		return
	}

	outcome, err := h.service.Verify(r.Context(), number, purpose, req.Code)
	if err != nil {
		h.fail(w, r, "otp verify failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.VerifyOTPResponse{Status: outcome})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	number, purpose, ok := h.parseTarget(w, r, q.Get("phone"), q.Get("purpose"))
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), number, purpose)
	if err != nil {
		h.fail(w, r, "otp status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.StatusResponse{
		Status:             status.State,
		HasActive:          status.HasActive,
		AttemptsRemaining:  status.AttemptsRemaining,
		SecondsUntilExpiry: status.SecondsUntilExpiry,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(ctx, "invalid otp request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	if err := h.validate.StructCtx(ctx, dst); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, err.Error()))
		return false
	}
	return true
}

func (h *Handler) parseTarget(w http.ResponseWriter, r *http.Request, rawPhone, rawPurpose string) (phone.Number, models.Purpose, bool) {
	number, err := phone.Normalize(rawPhone, h.defaultCountryCode)
	if err != nil {
		httputil.WriteError(w, err)
		return "", "", false
	}
	purpose, err := models.ParsePurpose(rawPurpose)
	if err != nil {
		httputil.WriteError(w, err)
		return "", "", false
	}
	return number, purpose, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
