package services

import (
	"context"
	"errors"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/domain"
)

// StepID names a wizard step.
type StepID string

const (
	StepEntityType   StepID = "entity_type"
	StepJurisdiction StepID = "jurisdiction"
	StepNaming       StepID = "naming"
	StepPricingTier  StepID = "pricing_tier"
	StepExpedite     StepID = "expedite"
	StepAddons       StepID = "addons"
	StepReview       StepID = "review"
)

var (
	// ErrStepIncomplete indicates a required field of the current step is missing.
	ErrStepIncomplete = errors.New("checkout: step incomplete")
	// ErrStepInvalidInput indicates the step input does not match the available options.
	ErrStepInvalidInput = errors.New("checkout: invalid step input")
	// ErrReferenceDataUnavailable indicates backend reference data could not be loaded for the step.
	ErrReferenceDataUnavailable = errors.New("checkout: reference data unavailable")
)

// Step is one screen of the checkout wizard.
type Step interface {
	ID() StepID
	// View reports what the step needs to display. Reference data failures are
	// reported on the view rather than returned.
	View(ctx context.Context, sc *StepContext) StepView
	// Commit validates input and writes it to the draft. advance tells the
	// caller whether the wizard should move to the next step.
	Commit(ctx context.Context, sc *StepContext, input StepInput) (advance bool, err error)
}

// stepEnterer is implemented by steps holding state that depends on the direction they were entered from.
type stepEnterer interface {
	Enter(sc *StepContext, fromBack bool)
}

// stepBacker is implemented by steps with an inner sequence; Back reports whether it moved within the step.
type stepBacker interface {
	Back(sc *StepContext) bool
}

// StepContext carries the session a step reads and writes.
type StepContext struct {
	Session *domain.CheckoutSession
	dirty   bool
}

// MarkDirty records that the step changed the session while rendering.
func (sc *StepContext) MarkDirty() {
	sc.dirty = true
}

// Dirty reports whether the session changed since the context was created.
func (sc *StepContext) Dirty() bool {
	return sc.dirty
}

// StepInput is the union of fields accepted by the wizard steps. Each step reads only its own fields.
type StepInput struct {
	EntityTypeID   string
	JurisdictionID string
	CompanyName    string
	Designator     string
	TierID         string
	ExpediteFeeID  string
	Accept         *bool
	PriceID        string
}

// StepView describes the current step. Exactly one of the step payloads is set.
type StepView struct {
	Step  StepID
	Index int
	Total int
	Ready bool
	Error string

	EntityType   *EntityTypeView
	Jurisdiction *JurisdictionView
	Naming       *NamingView
	PricingTier  *PricingTierView
	Expedite     *ExpediteView
	Addons       *AddonsView
	Review       *ReviewView
}

type EntityTypeView struct {
	Options  []domain.EntityType
	Selected string
}

type JurisdictionView struct {
	Options  []domain.Jurisdiction
	Selected string
}

type NamingView struct {
	Name        string
	Designator  string
	Designators []string
}

type PricingTierView struct {
	Tiers    []catalog.Tier
	Selected string
}

type ExpediteView struct {
	StateFee *domain.StateFee
	Options  []catalog.ExpediteOption
	Selected string
}

// AddonsView shows one eligible add-on at a time. NoAddonsAvailable is set when
// the chosen tier already includes every optional product.
type AddonsView struct {
	NoAddonsAvailable bool
	Position          int
	Count             int
	Product           *catalog.AddonProduct
	Current           *domain.AddonSelection
}

type ReviewView struct {
	Draft    domain.OrderDraft
	Total    domain.Money
	Currency string
	Missing  []string
}

// Wizard is the step controller. Its index is 1-based and always clamped to the configured steps.
type Wizard struct {
	steps   []Step
	current int
}

// NewWizard returns a controller positioned on the first step.
func NewWizard(steps ...Step) *Wizard {
	return &Wizard{steps: steps, current: 1}
}

// At returns a controller over the same steps positioned at index, clamped to the valid range.
func (w *Wizard) At(index int) *Wizard {
	out := &Wizard{steps: w.steps, current: index}
	if out.current > out.Last() {
		out.current = out.Last()
	}
	if out.current < 1 {
		out.current = 1
	}
	return out
}

// Current returns the 1-based index of the active step.
func (w *Wizard) Current() int {
	return w.current
}

// Last returns the index of the terminal step.
func (w *Wizard) Last() int {
	return len(w.steps)
}

// Next moves forward one step; it is a no-op on the last step.
func (w *Wizard) Next() {
	if w.current < w.Last() {
		w.current++
	}
}

// Back moves back one step; it is a no-op on the first step.
func (w *Wizard) Back() {
	if w.current > 1 {
		w.current--
	}
}

// StepAt maps an index to its step. Indexes outside the configured range map to nothing.
func (w *Wizard) StepAt(index int) (Step, bool) {
	if index < 1 || index > len(w.steps) {
		return nil, false
	}
	return w.steps[index-1], true
}

// CurrentStep returns the active step.
func (w *Wizard) CurrentStep() (Step, bool) {
	return w.StepAt(w.current)
}

// Index returns the position of the step with the given id, or 0 when absent.
func (w *Wizard) Index(id StepID) int {
	for i, step := range w.steps {
		if step.ID() == id {
			return i + 1
		}
	}
	return 0
}
