package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/repositories"
)

const (
	checkoutSessionIDPrefix   = "cs_"
	defaultCheckoutSessionTTL = 2 * time.Hour
	checkoutMetricNamespace   = "github.com/formation-desk/api/internal/services"
	receiptSaveAttempts       = 3
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutSessionNotFound indicates the session does not exist or expired.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutConflict indicates a concurrent modification of the session.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrStepMismatch indicates the command targets a step other than the current one.
	ErrStepMismatch = errors.New("checkout: step is not current")
	// ErrSessionClosed indicates the session already submitted its order.
	ErrSessionClosed = errors.New("checkout: session closed")
	// ErrSubmissionFailed indicates the formation backend did not accept the order.
	ErrSubmissionFailed = errors.New("checkout: submission failed")
)

// CheckoutWizardServiceDeps wires the dependencies required by the checkout wizard service.
type CheckoutWizardServiceDeps struct {
	Sessions    repositories.SessionRepository
	Gateway     FormationGateway
	Catalog     *catalog.Catalog
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	SessionTTL  time.Duration
	Meter       metric.Meter
}

type checkoutWizardService struct {
	sessions repositories.SessionRepository
	gateway  FormationGateway
	catalog  *catalog.Catalog
	events   OrderEventPublisher
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
	ttl      time.Duration
	wizard   *Wizard

	// receipts the backend accepted but the session store did not take yet
	unsavedMu sync.Mutex
	unsaved   map[string]domain.CheckoutSession

	sessionsStarted metric.Int64Counter
	ordersSubmitted metric.Int64Counter
	ordersFailed    metric.Int64Counter
}

// NewCheckoutWizardService constructs a CheckoutWizardService validating required dependencies.
func NewCheckoutWizardService(deps CheckoutWizardServiceDeps) (CheckoutWizardService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout wizard service: session repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout wizard service: formation gateway is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout wizard service: catalog is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return checkoutSessionIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultCheckoutSessionTTL
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMetricNamespace)
	}

	svc := &checkoutWizardService{
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		catalog:  deps.Catalog,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		ttl:     ttl,
		wizard:  NewWizard(formationSteps(deps.Gateway, deps.Catalog, logger)...),
		unsaved: make(map[string]domain.CheckoutSession),
	}

	var err error
	if svc.sessionsStarted, err = meter.Int64Counter("checkout.sessions.started",
		metric.WithDescription("Checkout sessions started")); err != nil {
		return nil, fmt.Errorf("checkout wizard service: register metric: %w", err)
	}
	if svc.ordersSubmitted, err = meter.Int64Counter("checkout.orders.submitted",
		metric.WithDescription("Orders accepted by the formation backend")); err != nil {
		return nil, fmt.Errorf("checkout wizard service: register metric: %w", err)
	}
	if svc.ordersFailed, err = meter.Int64Counter("checkout.orders.failed",
		metric.WithDescription("Order submissions that failed")); err != nil {
		return nil, fmt.Errorf("checkout wizard service: register metric: %w", err)
	}

	return svc, nil
}

// StartSession creates an empty draft positioned on the first step.
func (s *checkoutWizardService) StartSession(ctx context.Context) (CheckoutState, error) {
	now := s.now()
	session := domain.CheckoutSession{
		ID:        strings.TrimSpace(s.newID()),
		Status:    domain.CheckoutStatusActive,
		Step:      1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if session.ID == "" {
		return CheckoutState{}, ErrCheckoutUnavailable
	}

	sc := &StepContext{Session: &session}
	view := s.render(ctx, sc)
	session.UpdatedAt = s.now()
	if err := s.sessions.Save(ctx, session, nil); err != nil {
		return CheckoutState{}, s.translateRepositoryError(err)
	}

	s.sessionsStarted.Add(ctx, 1)
	s.logger(ctx, "checkout.session_started", map[string]any{
		"sessionId": session.ID,
	})
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// GetSession returns the current step view. Reference data loaded while
// rendering is stored unless the session changed in the meantime, in which
// case the late result is dropped and the fresh session is rendered.
func (s *checkoutWizardService) GetSession(ctx context.Context, sessionID string) (CheckoutState, error) {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		session, err := s.load(ctx, sessionID)
		if err != nil {
			return CheckoutState{}, err
		}
		expected := session.UpdatedAt
		sc := &StepContext{Session: &session}
		view := s.render(ctx, sc)
		if !sc.Dirty() {
			return CheckoutState{Session: session.Clone(), View: view}, nil
		}
		err = s.persist(ctx, &session, expected)
		if err == nil {
			return CheckoutState{Session: session.Clone(), View: view}, nil
		}
		if !errors.Is(err, ErrCheckoutConflict) {
			return CheckoutState{}, err
		}
		s.logger(ctx, "checkout.stale_reference_discarded", map[string]any{
			"sessionId": session.ID,
			"step":      string(view.Step),
		})
		lastErr = err
	}
	return CheckoutState{}, lastErr
}

// CommitStep writes the step input into the draft and only then advances the wizard.
func (s *checkoutWizardService) CommitStep(ctx context.Context, cmd CommitStepCommand) (CheckoutState, error) {
	session, err := s.loadActive(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutState{}, err
	}
	expected := session.UpdatedAt

	wizard := s.wizard.At(session.Step)
	step, ok := wizard.CurrentStep()
	if !ok {
		return CheckoutState{}, ErrCheckoutUnavailable
	}
	if StepID(strings.TrimSpace(string(cmd.StepID))) != step.ID() {
		return CheckoutState{}, fmt.Errorf("%w: current step is %s", ErrStepMismatch, step.ID())
	}

	sc := &StepContext{Session: &session}
	advance, err := step.Commit(ctx, sc, cmd.Input)
	if err != nil {
		if sc.Dirty() {
			// keep reference data fetched during the failed attempt
			if perr := s.persist(ctx, &session, expected); perr != nil {
				s.logger(ctx, "checkout.reference_persist_failed", map[string]any{
					"sessionId": session.ID,
					"step":      string(step.ID()),
					"error":     perr.Error(),
				})
			}
		}
		s.logger(ctx, "checkout.step_rejected", map[string]any{
			"sessionId": session.ID,
			"step":      string(step.ID()),
			"error":     err.Error(),
		})
		return CheckoutState{}, err
	}

	if advance {
		s.move(sc, wizard, wizard.Next, false)
	}

	view := s.render(ctx, sc)
	if err := s.persist(ctx, &session, expected); err != nil {
		return CheckoutState{}, err
	}
	s.logger(ctx, "checkout.step_committed", map[string]any{
		"sessionId": session.ID,
		"step":      string(step.ID()),
		"next":      string(view.Step),
	})
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// Back returns to the previous screen, walking inner step sequences first.
func (s *checkoutWizardService) Back(ctx context.Context, sessionID string) (CheckoutState, error) {
	session, err := s.loadActive(ctx, sessionID)
	if err != nil {
		return CheckoutState{}, err
	}
	expected := session.UpdatedAt

	wizard := s.wizard.At(session.Step)
	sc := &StepContext{Session: &session}
	handled := false
	if step, ok := wizard.CurrentStep(); ok {
		if backer, ok := step.(stepBacker); ok {
			handled = backer.Back(sc)
		}
	}
	if !handled {
		s.move(sc, wizard, wizard.Back, true)
	}

	view := s.render(ctx, sc)
	if err := s.persist(ctx, &session, expected); err != nil {
		return CheckoutState{}, err
	}
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// RemoveAddon drops an add-on from the draft; unknown products are ignored.
func (s *checkoutWizardService) RemoveAddon(ctx context.Context, cmd RemoveAddonCommand) (CheckoutState, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CheckoutState{}, ErrCheckoutInvalidInput
	}
	session, err := s.loadActive(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutState{}, err
	}
	expected := session.UpdatedAt

	removed := session.Draft.RemoveAddon(productID)
	sc := &StepContext{Session: &session}
	view := s.render(ctx, sc)
	if !removed && !sc.Dirty() {
		return CheckoutState{Session: session.Clone(), View: view}, nil
	}
	if err := s.persist(ctx, &session, expected); err != nil {
		return CheckoutState{}, err
	}
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// Reset empties the draft and restarts the wizard, also reopening a submitted session.
func (s *checkoutWizardService) Reset(ctx context.Context, sessionID string) (CheckoutState, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return CheckoutState{}, err
	}
	expected := session.UpdatedAt

	session.Draft.Reset()
	session.Step = 1
	session.AddonIndex = 0
	session.Reference = domain.ReferenceData{}
	session.Status = domain.CheckoutStatusActive
	session.Receipt = nil

	view := s.render(ctx, &StepContext{Session: &session})
	if err := s.persist(ctx, &session, expected); err != nil {
		return CheckoutState{}, err
	}
	s.logger(ctx, "checkout.session_reset", map[string]any{
		"sessionId": session.ID,
	})
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// Submit sends the completed draft to the formation backend. On failure the
// session stays on the review step with the draft intact.
func (s *checkoutWizardService) Submit(ctx context.Context, cmd SubmitOrderCommand) (CheckoutState, error) {
	session, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutState{}, err
	}
	if session.Status == domain.CheckoutStatusSubmitted {
		return CheckoutState{}, ErrSessionClosed
	}
	expected := session.UpdatedAt

	wizard := s.wizard.At(session.Step)
	step, ok := wizard.CurrentStep()
	if !ok || step.ID() != StepReview {
		return CheckoutState{}, fmt.Errorf("%w: submit requires the review step", ErrStepMismatch)
	}

	payload, err := session.Draft.SubmissionPayload()
	if err != nil {
		return CheckoutState{}, fmt.Errorf("%w: missing %s", ErrStepIncomplete, strings.Join(session.Draft.MissingFields(), ", "))
	}
	total := session.Draft.Total()
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = session.ID
	}

	ack, err := s.gateway.SubmitOrder(ctx, payload, key)
	if err != nil {
		s.ordersFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", payload.PricingTierID)))
		s.logger(ctx, "checkout.submit_failed", map[string]any{
			"sessionId": session.ID,
			"error":     err.Error(),
		})
		return CheckoutState{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	receipt := domain.SubmissionReceipt{
		OrderID:     ack.OrderID,
		Total:       total,
		Message:     ack.Message,
		SubmittedAt: s.now(),
	}
	session = s.storeReceipt(ctx, session, expected, receipt)

	s.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", payload.PricingTierID)))
	s.logger(ctx, "checkout.order_submitted", map[string]any{
		"sessionId": session.ID,
		"orderId":   ack.OrderID,
		"total":     int64(total),
	})
	s.publishSubmitted(ctx, session, payload, key)

	view := s.render(ctx, &StepContext{Session: &session})
	return CheckoutState{Session: session.Clone(), View: view}, nil
}

// storeReceipt closes the session with receipt. The order is already placed, so
// a failed save never turns into an error: conflicts are retried on a fresh
// copy and anything else is kept in memory until the next load can write it.
func (s *checkoutWizardService) storeReceipt(ctx context.Context, session domain.CheckoutSession, expected time.Time, receipt domain.SubmissionReceipt) domain.CheckoutSession {
	var err error
	for attempt := 0; attempt < receiptSaveAttempts; attempt++ {
		closeWithReceipt(&session, receipt)
		if err = s.persist(ctx, &session, expected); err == nil {
			return session
		}
		if !errors.Is(err, ErrCheckoutConflict) {
			break
		}
		fresh, lerr := s.sessions.Get(ctx, session.ID)
		if lerr != nil {
			err = s.translateRepositoryError(lerr)
			break
		}
		if fresh.Status == domain.CheckoutStatusSubmitted {
			return fresh
		}
		session, expected = fresh, fresh.UpdatedAt
	}

	s.logger(ctx, "checkout.receipt_persist_failed", map[string]any{
		"sessionId": session.ID,
		"orderId":   receipt.OrderID,
		"error":     err.Error(),
	})
	now := s.now()
	s.unsavedMu.Lock()
	for id, kept := range s.unsaved {
		if kept.Expired(now) {
			delete(s.unsaved, id)
		}
	}
	s.unsaved[session.ID] = session.Clone()
	s.unsavedMu.Unlock()
	return session
}

// applyUnsavedReceipt closes a session whose receipt could not be stored at
// submit time and retries the save.
func (s *checkoutWizardService) applyUnsavedReceipt(ctx context.Context, session *domain.CheckoutSession) {
	s.unsavedMu.Lock()
	closed, ok := s.unsaved[session.ID]
	s.unsavedMu.Unlock()
	if !ok || closed.Receipt == nil {
		return
	}
	if session.Status == domain.CheckoutStatusActive {
		closeWithReceipt(session, *closed.Receipt)
		if err := s.persist(ctx, session, session.UpdatedAt); err != nil {
			s.logger(ctx, "checkout.receipt_persist_failed", map[string]any{
				"sessionId": session.ID,
				"orderId":   closed.Receipt.OrderID,
				"error":     err.Error(),
			})
			return
		}
	}
	s.unsavedMu.Lock()
	delete(s.unsaved, session.ID)
	s.unsavedMu.Unlock()
}

func closeWithReceipt(session *domain.CheckoutSession, receipt domain.SubmissionReceipt) {
	session.Receipt = &receipt
	session.Status = domain.CheckoutStatusSubmitted
	session.Draft.Reset()
	session.Reference = domain.ReferenceData{}
}

// Abandon discards the session.
func (s *checkoutWizardService) Abandon(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrCheckoutInvalidInput
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return s.translateRepositoryError(err)
	}
	s.logger(ctx, "checkout.session_abandoned", map[string]any{
		"sessionId": sessionID,
	})
	return nil
}

// move navigates with nav and notifies the entered step. Reference lists
// belong to the step that fetched them and are dropped once it is left.
func (s *checkoutWizardService) move(sc *StepContext, wizard *Wizard, nav func(), fromBack bool) {
	before := wizard.Current()
	nav()
	if wizard.Current() == before {
		return
	}
	sc.Session.Step = wizard.Current()
	step, ok := wizard.CurrentStep()
	if !ok {
		return
	}
	if step.ID() != StepEntityType {
		sc.Session.Reference.EntityTypes = nil
	}
	if step.ID() != StepJurisdiction {
		sc.Session.Reference.Jurisdictions = nil
	}
	if enterer, ok := step.(stepEnterer); ok {
		enterer.Enter(sc, fromBack)
	}
}

func (s *checkoutWizardService) render(ctx context.Context, sc *StepContext) StepView {
	wizard := s.wizard.At(sc.Session.Step)
	step, ok := wizard.CurrentStep()
	if !ok {
		return StepView{Index: wizard.Current(), Total: wizard.Last()}
	}
	view := step.View(ctx, sc)
	view.Step = step.ID()
	view.Index = wizard.Current()
	view.Total = wizard.Last()
	if sc.Session.Status == domain.CheckoutStatusSubmitted {
		view.Ready = false
	}
	return view
}

func (s *checkoutWizardService) load(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.CheckoutSession{}, ErrCheckoutInvalidInput
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, s.translateRepositoryError(err)
	}
	if session.Expired(s.now()) {
		return domain.CheckoutSession{}, ErrCheckoutSessionNotFound
	}
	s.applyUnsavedReceipt(ctx, &session)
	return session, nil
}

func (s *checkoutWizardService) loadActive(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if session.Status != domain.CheckoutStatusActive {
		return domain.CheckoutSession{}, ErrSessionClosed
	}
	return session, nil
}

// persist refreshes the idle deadline and saves against the loaded UpdatedAt.
func (s *checkoutWizardService) persist(ctx context.Context, session *domain.CheckoutSession, expected time.Time) error {
	now := s.now()
	if !now.After(expected) {
		now = expected.Add(time.Microsecond)
	}
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.ttl)
	if err := s.sessions.Save(ctx, *session, &expected); err != nil {
		return s.translateRepositoryError(err)
	}
	return nil
}

func (s *checkoutWizardService) publishSubmitted(ctx context.Context, session domain.CheckoutSession, payload domain.OrderSubmission, key string) {
	if s.events == nil || session.Receipt == nil {
		return
	}
	addonIDs := make([]string, 0, len(payload.Addons))
	for _, addon := range payload.Addons {
		addonIDs = append(addonIDs, addon.ProductID)
	}
	message := OrderSubmittedMessage{
		SessionID:      session.ID,
		OrderID:        session.Receipt.OrderID,
		EntityTypeID:   payload.EntityTypeID,
		JurisdictionID: payload.JurisdictionID,
		PricingTierID:  payload.PricingTierID,
		AddonIDs:       addonIDs,
		Total:          int64(session.Receipt.Total),
		Currency:       s.catalog.Currency(),
		SubmittedAt:    session.Receipt.SubmittedAt,
		IdempotencyKey: key,
	}
	if _, err := s.events.PublishOrderSubmitted(ctx, message); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"sessionId": session.ID,
			"orderId":   session.Receipt.OrderID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutWizardService) translateRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutSessionNotFound
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		default:
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}
