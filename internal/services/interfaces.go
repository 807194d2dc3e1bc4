package services

import (
	"context"
	"time"

	"github.com/formation-desk/api/internal/domain"
)

// CheckoutWizardService drives a formation checkout session through the wizard steps
// and forwards the completed order to the formation backend.
type CheckoutWizardService interface {
	StartSession(ctx context.Context) (CheckoutState, error)
	GetSession(ctx context.Context, sessionID string) (CheckoutState, error)
	CommitStep(ctx context.Context, cmd CommitStepCommand) (CheckoutState, error)
	Back(ctx context.Context, sessionID string) (CheckoutState, error)
	RemoveAddon(ctx context.Context, cmd RemoveAddonCommand) (CheckoutState, error)
	Reset(ctx context.Context, sessionID string) (CheckoutState, error)
	Submit(ctx context.Context, cmd SubmitOrderCommand) (CheckoutState, error)
	Abandon(ctx context.Context, sessionID string) error
}

// FormationGateway is the remote backend supplying reference data and accepting orders.
type FormationGateway interface {
	FetchEntityTypes(ctx context.Context) ([]domain.EntityType, error)
	FetchJurisdictions(ctx context.Context) ([]domain.Jurisdiction, error)
	FetchFeeSchedule(ctx context.Context, jurisdictionID, entityTypeID string) (domain.FeeSchedule, error)
	SubmitOrder(ctx context.Context, order domain.OrderSubmission, idempotencyKey string) (domain.SubmissionAck, error)
}

// OrderEventPublisher announces accepted orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderSubmitted(ctx context.Context, message OrderSubmittedMessage) (string, error)
}

// CheckoutState is a session snapshot together with the view of its current step.
type CheckoutState struct {
	Session domain.CheckoutSession
	View    StepView
}

// CommitStepCommand confirms the current step with the supplied input.
type CommitStepCommand struct {
	SessionID string
	StepID    StepID
	Input     StepInput
}

type RemoveAddonCommand struct {
	SessionID string
	ProductID string
}

type SubmitOrderCommand struct {
	SessionID      string
	IdempotencyKey string
}

// OrderSubmittedMessage is published after the backend accepts an order.
type OrderSubmittedMessage struct {
	SessionID      string    `json:"sessionId"`
	OrderID        string    `json:"orderId"`
	EntityTypeID   string    `json:"entityTypeId"`
	JurisdictionID string    `json:"jurisdictionId"`
	PricingTierID  string    `json:"pricingTierId"`
	AddonIDs       []string  `json:"addonIds"`
	Total          int64     `json:"total"`
	Currency       string    `json:"currency"`
	SubmittedAt    time.Time `json:"submittedAt"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// SystemService reports service health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemHealthReport aliases the domain report returned by HealthReport.
type SystemHealthReport = domain.SystemHealthReport
