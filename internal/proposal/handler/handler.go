package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"commonvote/internal/proposal/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/platform/httputil"
	"commonvote/pkg/requestcontext"
)

// Service defines the proposal operations exposed to administrators.
type Service interface {
	Create(ctx context.Context, groupID, title, body string) (*models.Proposal, error)
	StartVoting(ctx context.Context, id string, duration time.Duration) (*models.StartResult, error)
	CloseVoting(ctx context.Context, id string) (*models.CloseResult, error)
	GetTally(ctx context.Context, id string) (*models.Tally, error)
}

// Handler serves the admin proposal API. Authentication is applied by the
// router that mounts it.
type Handler struct {
	service  Service
	logger   *slog.Logger
	validate *validator.Validate
}

func New(service Service, logger *slog.Logger, validate *validator.Validate) *Handler {
	return &Handler{
		service:  service,
		logger:   logger,
		validate: validate,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/proposals", h.HandleCreate)
	r.Post("/admin/proposals/{id}/start", h.HandleStart)
	r.Post("/admin/proposals/{id}/close", h.HandleClose)
	r.Get("/admin/proposals/{id}/tally", h.HandleTally)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create proposal body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.validate.StructCtx(ctx, &req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, err.Error()))
		return
	}

	p, err := h.service.Create(ctx, req.GroupID, req.Title, req.Body)
	if err != nil {
		h.fail(w, r, "create proposal failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.NewProposalResponse(p))
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// An empty body starts voting with the default window.
	var req models.StartVotingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "duration must be a positive Go duration such as 48h"))
			return
		}
		duration = d
	}

	res, err := h.service.StartVoting(ctx, chi.URLParam(r, "id"), duration)
	if err != nil {
		h.fail(w, r, "start voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.StartVotingResponse{
		Outcome:   res.Outcome,
		Proposal:  models.NewProposalResponse(res.Proposal),
		Broadcast: res.Broadcast,
	})
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CloseVoting(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "close voting failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CloseVotingResponse{
		Outcome:  res.Outcome,
		Proposal: models.NewProposalResponse(res.Proposal),
	})
}

func (h *Handler) HandleTally(w http.ResponseWriter, r *http.Request) {
	tally, err := h.service.GetTally(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get tally failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewTallyResponse(*tally))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.Is(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
