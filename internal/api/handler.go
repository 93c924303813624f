// Package api exposes the wallet's payment form over HTTP. Each wallet
// client drives its own flow controller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/flow"
	"github.com/berniyo/mpesa-lambda/internal/form"
	"github.com/berniyo/mpesa-lambda/internal/notify"
)

// ResetNotifier sends password reset codes.
type ResetNotifier interface {
	SendPasswordResetCode(ctx context.Context, phone, code string) notify.Result
}

// Handler serves the payment and notification endpoints.
type Handler struct {
	registry *Registry
	notifier ResetNotifier
	logger   *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(registry *Registry, notifier ResetNotifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		notifier: notifier,
		logger:   logger.Named("api"),
	}
}

// Routes returns the router for /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/payments", func(r chi.Router) {
		r.Use(ClientID)
		r.Get("/state", h.GetState)
		r.Get("/stream", h.Stream)
		r.Put("/form", h.UpdateForm)
		r.Post("/submit", h.Submit)
		r.Post("/cancel", h.Cancel)
		r.Post("/retry", h.Retry)
		r.Post("/dismiss", h.Dismiss)
	})

	r.Post("/notifications/password-reset", h.PasswordReset)

	return r
}

// FormRequest updates one or both form fields. Absent fields are left
// unchanged.
type FormRequest struct {
	Amount *string `json:"amount"`
	Phone  *string `json:"phone"`
}

// PasswordResetRequest asks for a reset code to be texted.
type PasswordResetRequest struct {
	Phone string `json:"phone" validate:"required"`
	Code  string `json:"code" validate:"required,numeric,min=4,max=8"`
}

func (h *Handler) controller(r *http.Request) *flow.Controller {
	return h.registry.Get(GetClientID(r.Context()))
}

// GetState handles GET /payments/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	WriteData(w, http.StatusOK, h.controller(r).State())
}

// UpdateForm handles PUT /payments/form
func (h *Handler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	var req FormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	ctrl := h.controller(r)
	if ctrl.State().Phase != flow.PhaseEditing {
		Conflict(w, "Form can only be edited before submission")
		return
	}
	if req.Amount != nil {
		ctrl.SetAmount(*req.Amount)
	}
	if req.Phone != nil {
		ctrl.SetPhone(*req.Phone)
	}
	WriteData(w, http.StatusOK, ctrl.State())
}

// Submit handles POST /payments/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	if ctrl.State().Phase == flow.PhaseSubmitting {
		Conflict(w, "A payment request is already being submitted")
		return
	}

	started := ctrl.OnSubmit(r.Context())
	h.writeSubmitResult(w, ctrl, started)
}

// Retry handles POST /payments/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	if ctrl.State().Phase != flow.PhaseError {
		Conflict(w, "Nothing to retry")
		return
	}

	started := ctrl.OnRetry(r.Context())
	h.writeSubmitResult(w, ctrl, started)
}

func (h *Handler) writeSubmitResult(w http.ResponseWriter, ctrl *flow.Controller, started bool) {
	st := ctrl.State()
	switch {
	case started:
		WriteData(w, http.StatusAccepted, st)
	case st.Phase == flow.PhaseEditing && !st.Validation.Valid():
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeValidation, "Validation failed", validationDetails(st.Validation))
	default:
		WriteData(w, http.StatusOK, st)
	}
}

// Cancel handles POST /payments/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	ctrl.OnCancelWaiting()
	WriteData(w, http.StatusOK, ctrl.State())
}

// Dismiss handles POST /payments/dismiss
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	ctrl := h.controller(r)
	switch ctrl.State().Phase {
	case flow.PhaseError:
		ctrl.OnDismissError()
	case flow.PhaseSuccess:
		ctrl.OnDismissSuccess()
	default:
		Conflict(w, "Nothing to dismiss")
		return
	}
	WriteData(w, http.StatusOK, ctrl.State())
}

// Stream handles GET /payments/stream as server-sent events, one per state
// transition, starting with the current state.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "Streaming unsupported")
		return
	}

	ctrl := h.controller(r)
	updates := newLatestState()
	unsubscribe := ctrl.Subscribe(updates.offer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := ctrl.State()
	if err := writeEvent(w, last); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates.c:
			if s.Version <= last.Version {
				continue
			}
			last = s
			if err := writeEvent(w, s); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// latestState hands snapshots to a stream reader. A reader that falls
// behind skips intermediate snapshots but always receives the newest one.
type latestState struct {
	c chan flow.State
}

func newLatestState() *latestState {
	return &latestState{c: make(chan flow.State, 1)}
}

// offer replaces any unread snapshot with s. The controller delivers to a
// subscriber from one goroutine at a time, so offer has a single sender.
func (l *latestState) offer(s flow.State) {
	for {
		select {
		case l.c <- s:
			return
		default:
		}
		select {
		case <-l.c:
		default:
		}
	}
}

func writeEvent(w http.ResponseWriter, s flow.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\nid: %d\ndata: %s\n\n", s.Version, data)
	return err
}

// PasswordReset handles POST /notifications/password-reset. Delivery
// failures are reported in the body with a 200 status.
func (h *Handler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			BadRequest(w, "Invalid request body")
			return
		}
		ValidationError(w, err)
		return
	}

	WriteData(w, http.StatusOK, h.notifier.SendPasswordResetCode(r.Context(), req.Phone, req.Code))
}

func validationDetails(res form.Result) map[string]string {
	details := make(map[string]string)
	if !res.Amount.Valid {
		details["amount"] = res.Amount.Message
	}
	if !res.Phone.Valid {
		details["phone"] = res.Phone.Message
	}
	return details
}
