package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formation-desk/api/internal/platform/httpx"
	"github.com/formation-desk/api/internal/platform/observability"
	"github.com/formation-desk/api/internal/services"
)

const (
	maxStepRequestBody       = 8 * 1024
	sessionIDParam           = "sessionId"
	defaultIdempotencyHeader = "Idempotency-Key"
)

// CheckoutSessionHandlers exposes the checkout wizard over HTTP.
type CheckoutSessionHandlers struct {
	checkout          services.CheckoutWizardService
	currency          string
	createLimiter     rateLimiter
	submitMiddleware  []func(http.Handler) http.Handler
	idempotencyHeader string
}

// CheckoutSessionOption customises CheckoutSessionHandlers.
type CheckoutSessionOption func(*CheckoutSessionHandlers)

// WithSessionCreateRateLimit limits session creation per client IP.
func WithSessionCreateRateLimit(perMinute, burst int, clock func() time.Time) CheckoutSessionOption {
	return func(h *CheckoutSessionHandlers) {
		h.createLimiter = newKeyedRateLimiter(perMinute, burst, clock)
	}
}

// WithSubmitMiddleware wraps the submit endpoint, typically with idempotency enforcement.
func WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) CheckoutSessionOption {
	return func(h *CheckoutSessionHandlers) {
		h.submitMiddleware = append(h.submitMiddleware, mw...)
	}
}

// WithIdempotencyHeader sets the header forwarded as the submission idempotency key.
func WithIdempotencyHeader(name string) CheckoutSessionOption {
	return func(h *CheckoutSessionHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyHeader = name
		}
	}
}

// NewCheckoutSessionHandlers constructs the wizard handlers. currency is used
// to render display amounts.
func NewCheckoutSessionHandlers(checkout services.CheckoutWizardService, currency string, opts ...CheckoutSessionOption) *CheckoutSessionHandlers {
	h := &CheckoutSessionHandlers{
		checkout:          checkout,
		currency:          currency,
		idempotencyHeader: defaultIdempotencyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout session endpoints under the provided router.
func (h *CheckoutSessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitMiddleware(h.createLimiter, "session")).Post("/checkout/sessions", h.startSession)
	r.Route("/checkout/sessions/{"+sessionIDParam+"}", func(session chi.Router) {
		session.Use(observability.SessionContextMiddleware(sessionIDParam))
		session.Get("/", h.getSession)
		session.Delete("/", h.abandonSession)
		session.Post("/steps/{stepId}", h.commitStep)
		session.Post("/back", h.back)
		session.Post("/reset", h.reset)
		session.Delete("/addons/{productId}", h.removeAddon)
		session.With(h.submitMiddleware...).Post("/submit", h.submit)
	})
}

type commitStepRequest struct {
	EntityTypeID   string `json:"entityTypeId"`
	JurisdictionID string `json:"jurisdictionId"`
	CompanyName    string `json:"companyName"`
	Designator     string `json:"designator"`
	TierID         string `json:"tierId"`
	ExpediteFeeID  string `json:"expediteFeeId"`
	Accept         *bool  `json:"accept"`
	PriceID        string `json:"priceId"`
}

func (h *CheckoutSessionHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	state, err := h.checkout.StartSession(ctx)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+state.Session.ID)
	writeJSONResponse(w, http.StatusCreated, newSessionResponse(state, h.currency))
}

func (h *CheckoutSessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.GetSession(ctx, sessionID)
	})
}

func (h *CheckoutSessionHandlers) back(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.Back(ctx, sessionID)
	})
}

func (h *CheckoutSessionHandlers) reset(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.Reset(ctx, sessionID)
	})
}

func (h *CheckoutSessionHandlers) removeAddon(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.RemoveAddon(ctx, services.RemoveAddonCommand{SessionID: sessionID, ProductID: productID})
	})
}

func (h *CheckoutSessionHandlers) submit(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(h.idempotencyHeader))
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.Submit(ctx, services.SubmitOrderCommand{SessionID: sessionID, IdempotencyKey: key})
	})
}

func (h *CheckoutSessionHandlers) commitStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxStepRequestBody)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req commitStepRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	stepID := services.StepID(strings.TrimSpace(chi.URLParam(r, "stepId")))
	h.respond(w, r, func(ctx context.Context, sessionID string) (services.CheckoutState, error) {
		return h.checkout.CommitStep(ctx, services.CommitStepCommand{
			SessionID: sessionID,
			StepID:    stepID,
			Input: services.StepInput{
				EntityTypeID:   strings.TrimSpace(req.EntityTypeID),
				JurisdictionID: strings.TrimSpace(req.JurisdictionID),
				CompanyName:    req.CompanyName,
				Designator:     strings.TrimSpace(req.Designator),
				TierID:         strings.TrimSpace(req.TierID),
				ExpediteFeeID:  strings.TrimSpace(req.ExpediteFeeID),
				Accept:         req.Accept,
				PriceID:        strings.TrimSpace(req.PriceID),
			},
		})
	})
}

func (h *CheckoutSessionHandlers) abandonSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	if err := h.checkout.Abandon(ctx, chi.URLParam(r, sessionIDParam)); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutSessionHandlers) respond(w http.ResponseWriter, r *http.Request, call func(context.Context, string) (services.CheckoutState, error)) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutUnavailable(ctx, w)
		return
	}
	state, err := call(ctx, strings.TrimSpace(chi.URLParam(r, sessionIDParam)))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionResponse(state, h.currency))
}

func writeCheckoutUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStepIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("step_incomplete", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrStepInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_step_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReferenceDataUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("reference_data_unavailable", "reference data could not be loaded; retry shortly", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrStepMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("step_mismatch", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found or expired", http.StatusNotFound))
	case errors.Is(err, services.ErrSessionClosed):
		httpx.WriteError(ctx, w, httpx.NewError("session_closed", "order already submitted; reset to start over", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("session_conflict", "session has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrSubmissionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("submission_failed", "the order could not be submitted; please try again", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		writeCheckoutUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
