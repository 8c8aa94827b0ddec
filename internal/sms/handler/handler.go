package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"commonvote/internal/sms/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/platform/httputil"
	"commonvote/pkg/requestcontext"
)

// Coordinator produces the reply for one inbound message.
type Coordinator interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) models.Reply
}

// Enqueuer hands a message to the inbound queue for asynchronous handling.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg models.InboundMessage) error
}

// Handler serves the carrier webhook. With a queue configured the message is
// enqueued and the reply goes out through the outbound transport; otherwise
// the reply is returned in the webhook response.
type Handler struct {
	coordinator Coordinator
	queue       Enqueuer
	logger      *slog.Logger
	validate    *validator.Validate
}

type Option func(*Handler)

func WithQueue(q Enqueuer) Option {
	return func(h *Handler) {
		h.queue = q
	}
}

func New(coordinator Coordinator, logger *slog.Logger, validate *validator.Validate, opts ...Option) *Handler {
	h := &Handler{
		coordinator: coordinator,
		logger:      logger,
		validate:    validate,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/sms/inbound", h.HandleInbound)
}

func (h *Handler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asJSON := wantsJSON(r)

	req, err := decode(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid inbound sms body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, err.Error()))
		return
	}

	msg := models.InboundMessage{
		From:       req.From,
		Body:       req.Body,
		MessageSID: req.MessageSID,
		ReceivedAt: requestcontext.Now(ctx),
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(ctx, msg); err != nil {
			h.logger.ErrorContext(ctx, "failed to enqueue inbound sms",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "inbound queue unavailable"))
			return
		}
		if asJSON {
			httputil.WriteJSON(w, http.StatusAccepted, models.ReplyResponse{Queued: true})
			return
		}
		httputil.WriteXML(w, http.StatusOK, models.TwiML{})
		return
	}

	reply := h.coordinator.HandleInbound(ctx, msg)
	if asJSON {
		httputil.WriteJSON(w, http.StatusOK, models.ReplyResponse{Reply: reply.Text, Kind: reply.Kind})
		return
	}
	httputil.WriteXML(w, http.StatusOK, models.TwiML{Message: reply.Text})
}

// decode accepts the carrier's form post (From, Body, MessageSid) or JSON.
func decode(r *http.Request) (*models.InboundSMSRequest, error) {
	if isJSON(r.Header.Get("Content-Type")) {
		var req models.InboundSMSRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &models.InboundSMSRequest{
		From:       r.PostForm.Get("From"),
		Body:       r.PostForm.Get("Body"),
		MessageSID: r.PostForm.Get("MessageSid"),
	}, nil
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return isJSON(r.Header.Get("Content-Type"))
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
