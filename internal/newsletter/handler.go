package newsletter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/deals247/newsletter/internal/pkg/ctxlog"
	"github.com/deals247/newsletter/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Response messages.
const (
	MessageSubscribed   = "Successfully subscribed to newsletter"
	MessageResubscribed = "Successfully resubscribed to newsletter"
	MessageUnsubscribed = "Successfully unsubscribed from newsletter"
)

const maxRequestBodyBytes = 64 << 10

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEmailRequired, Status: http.StatusBadRequest, Message: "Email is required"},
	{Error: ErrInvalidEmail, Status: http.StatusBadRequest, Message: "Invalid email format"},
	{Error: ErrAlreadySubscribed, Status: http.StatusConflict, Message: "Email is already subscribed to newsletter"},
	{Error: ErrSubscriberNotFound, Status: http.StatusNotFound, Message: "Email not found or already unsubscribed"},
}

// Handler handles HTTP requests for the newsletter module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new newsletter handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers newsletter routes. None of them require auth.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/subscribe", h.Subscribe)
	r.Post("/unsubscribe", h.Unsubscribe)
	r.Get("/count", h.Count)
}

// SubscribeRequest represents request body for subscribing.
type SubscribeRequest struct {
	Email  EmailField `json:"email"`
	Source string     `json:"source" validate:"omitempty,max=50,printascii"`
}

// UnsubscribeRequest represents request body for unsubscribing.
type UnsubscribeRequest struct {
	Email EmailField `json:"email"`
}

// EmailField accepts any JSON value for "email". null, false and 0 read as
// a missing address; other non-string values are kept as malformed so they
// answer "Invalid email format" instead of a decode error.
type EmailField struct {
	Value     string
	malformed bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EmailField) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*e = EmailField{}
	switch v := v.(type) {
	case nil:
	case string:
		e.Value = v
	case bool:
		e.malformed = v
	case float64:
		e.malformed = v != 0
	default:
		e.malformed = true
	}
	return nil
}

// check reports the address error, if any, ahead of other field validation.
func (e EmailField) check() error {
	if e.malformed {
		return ErrInvalidEmail
	}
	_, err := NormalizeEmail(e.Value, false)
	return err
}

// CountResponse is the body of GET /count.
type CountResponse struct {
	TotalSubscribers int64 `json:"total_subscribers"`
}

// Subscribe handles POST /subscribe.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "operation", "subscribe")
	if err := req.Email.check(); err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	outcome, err := h.service.Subscribe(ctx, req.Email.Value, req.Source)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	if outcome == OutcomeResubscribed {
		httputil.Message(w, http.StatusOK, MessageResubscribed)
		return
	}
	httputil.Message(w, http.StatusCreated, MessageSubscribed)
}

// Unsubscribe handles POST /unsubscribe.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := ctxlog.With(r.Context(), "operation", "unsubscribe")
	if err := req.Email.check(); err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	if err := h.service.Unsubscribe(ctx, req.Email.Value); err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.Message(w, http.StatusOK, MessageUnsubscribed)
}

// Count handles GET /count.
func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	ctx := ctxlog.With(r.Context(), "operation", "count")
	total, err := h.service.Count(ctx)
	if err != nil {
		httputil.HandleError(ctx, w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, CountResponse{TotalSubscribers: total})
}

// decodeBody reads a JSON body into v. An empty body decodes to the zero
// value so a missing email is reported as "Email is required".
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
