package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/domain"
)

const maxCompanyNameLength = 120

type stepLogger func(ctx context.Context, event string, fields map[string]any)

// formationSteps returns the wizard steps in order.
func formationSteps(gateway FormationGateway, cat *catalog.Catalog, logger stepLogger) []Step {
	return []Step{
		&entityTypeStep{gateway: gateway, catalog: cat, logger: logger},
		&jurisdictionStep{gateway: gateway, logger: logger},
		&namingStep{catalog: cat, policy: bluemonday.StrictPolicy()},
		&pricingTierStep{catalog: cat},
		&expediteStep{gateway: gateway, catalog: cat, logger: logger},
		&addonsStep{catalog: cat},
		&reviewStep{catalog: cat},
	}
}

type entityTypeStep struct {
	gateway FormationGateway
	catalog *catalog.Catalog
	logger  stepLogger
}

func (s *entityTypeStep) ID() StepID { return StepEntityType }

func (s *entityTypeStep) load(ctx context.Context, sc *StepContext) ([]domain.EntityType, error) {
	if sc.Session.Reference.EntityTypes != nil {
		return sc.Session.Reference.EntityTypes, nil
	}
	types, err := s.gateway.FetchEntityTypes(ctx)
	if err != nil {
		s.logger(ctx, "checkout.reference_fetch_failed", map[string]any{
			"sessionId": sc.Session.ID,
			"resource":  "entity_types",
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: entity types: %v", ErrReferenceDataUnavailable, err)
	}
	if types == nil {
		types = []domain.EntityType{}
	}
	sc.Session.Reference.EntityTypes = types
	sc.MarkDirty()
	return types, nil
}

func (s *entityTypeStep) View(ctx context.Context, sc *StepContext) StepView {
	view := StepView{EntityType: &EntityTypeView{}}
	if current := sc.Session.Draft.EntityType; current != nil {
		view.EntityType.Selected = current.ID
	}
	options, err := s.load(ctx, sc)
	if err != nil {
		view.Error = "Entity types could not be loaded. Please try again."
		return view
	}
	view.EntityType.Options = options
	view.Ready = len(options) > 0
	return view
}

func (s *entityTypeStep) Commit(ctx context.Context, sc *StepContext, input StepInput) (bool, error) {
	id := strings.TrimSpace(input.EntityTypeID)
	if id == "" {
		return false, fmt.Errorf("%w: entityTypeId is required", ErrStepIncomplete)
	}
	options, err := s.load(ctx, sc)
	if err != nil {
		return false, err
	}
	for _, option := range options {
		if option.ID != id {
			continue
		}
		draft := &sc.Session.Draft
		if previous := draft.EntityType; previous != nil && previous.ID != option.ID {
			draft.ClearFees()
			sc.Session.Reference.FeeSchedule = nil
			sc.Session.Reference.FeeScheduleKey = ""
			if info := draft.CompanyInfo; info != nil && !s.catalog.ValidDesignator(option, info.Designator) {
				draft.ClearCompanyInfo()
			}
		}
		draft.SetEntityType(option)
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown entity type %q", ErrStepInvalidInput, id)
}

type jurisdictionStep struct {
	gateway FormationGateway
	logger  stepLogger
}

func (s *jurisdictionStep) ID() StepID { return StepJurisdiction }

func (s *jurisdictionStep) load(ctx context.Context, sc *StepContext) ([]domain.Jurisdiction, error) {
	if sc.Session.Reference.Jurisdictions != nil {
		return sc.Session.Reference.Jurisdictions, nil
	}
	jurisdictions, err := s.gateway.FetchJurisdictions(ctx)
	if err != nil {
		s.logger(ctx, "checkout.reference_fetch_failed", map[string]any{
			"sessionId": sc.Session.ID,
			"resource":  "jurisdictions",
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: jurisdictions: %v", ErrReferenceDataUnavailable, err)
	}
	if jurisdictions == nil {
		jurisdictions = []domain.Jurisdiction{}
	}
	sc.Session.Reference.Jurisdictions = jurisdictions
	sc.MarkDirty()
	return jurisdictions, nil
}

func (s *jurisdictionStep) View(ctx context.Context, sc *StepContext) StepView {
	view := StepView{Jurisdiction: &JurisdictionView{}}
	if current := sc.Session.Draft.Jurisdiction; current != nil {
		view.Jurisdiction.Selected = current.ID
	}
	options, err := s.load(ctx, sc)
	if err != nil {
		view.Error = "Jurisdictions could not be loaded. Please try again."
		return view
	}
	view.Jurisdiction.Options = options
	view.Ready = len(options) > 0
	return view
}

func (s *jurisdictionStep) Commit(ctx context.Context, sc *StepContext, input StepInput) (bool, error) {
	id := strings.TrimSpace(input.JurisdictionID)
	if id == "" {
		return false, fmt.Errorf("%w: jurisdictionId is required", ErrStepIncomplete)
	}
	options, err := s.load(ctx, sc)
	if err != nil {
		return false, err
	}
	for _, option := range options {
		if option.ID != id {
			continue
		}
		draft := &sc.Session.Draft
		if previous := draft.Jurisdiction; previous != nil && previous.ID != option.ID {
			draft.ClearFees()
			sc.Session.Reference.FeeSchedule = nil
			sc.Session.Reference.FeeScheduleKey = ""
		}
		draft.SetJurisdiction(option)
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown jurisdiction %q", ErrStepInvalidInput, id)
}

type namingStep struct {
	catalog *catalog.Catalog
	policy  *bluemonday.Policy
}

func (s *namingStep) ID() StepID { return StepNaming }

func (s *namingStep) designators(session *domain.CheckoutSession) []string {
	entityType := session.Draft.EntityType
	if entityType == nil {
		return nil
	}
	return s.catalog.Designators(*entityType)
}

func (s *namingStep) View(_ context.Context, sc *StepContext) StepView {
	view := StepView{Naming: &NamingView{Designators: s.designators(sc.Session)}}
	if info := sc.Session.Draft.CompanyInfo; info != nil {
		view.Naming.Name = info.Name
		view.Naming.Designator = info.Designator
	}
	view.Ready = len(view.Naming.Designators) > 0
	return view
}

func (s *namingStep) Commit(_ context.Context, sc *StepContext, input StepInput) (bool, error) {
	name := s.sanitizeName(input.CompanyName)
	designator := strings.TrimSpace(input.Designator)
	if name == "" || designator == "" {
		return false, fmt.Errorf("%w: name and designator are required", ErrStepIncomplete)
	}
	if len([]rune(name)) > maxCompanyNameLength {
		return false, fmt.Errorf("%w: name exceeds %d characters", ErrStepInvalidInput, maxCompanyNameLength)
	}
	canonical := ""
	for _, candidate := range s.designators(sc.Session) {
		if strings.EqualFold(candidate, designator) {
			canonical = candidate
			break
		}
	}
	if canonical == "" {
		return false, fmt.Errorf("%w: designator %q is not valid for the entity type", ErrStepInvalidInput, designator)
	}
	sc.Session.Draft.SetCompanyInfo(name, canonical)
	return true, nil
}

// sanitizeName strips markup and control characters and collapses whitespace.
// Entities are decoded before the policy runs so encoded tags are stripped too;
// angle brackets left over afterwards are dropped.
func (s *namingStep) sanitizeName(raw string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(html.UnescapeString(raw)))
	cleaned = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>':
			return -1
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

type pricingTierStep struct {
	catalog *catalog.Catalog
}

func (s *pricingTierStep) ID() StepID { return StepPricingTier }

func (s *pricingTierStep) View(_ context.Context, sc *StepContext) StepView {
	view := StepView{PricingTier: &PricingTierView{Tiers: s.catalog.Tiers()}}
	if tier := sc.Session.Draft.PricingTier; tier != nil {
		view.PricingTier.Selected = tier.ID
	}
	view.Ready = len(view.PricingTier.Tiers) > 0
	return view
}

func (s *pricingTierStep) Commit(_ context.Context, sc *StepContext, input StepInput) (bool, error) {
	id := strings.TrimSpace(input.TierID)
	if id == "" {
		return false, fmt.Errorf("%w: tierId is required", ErrStepIncomplete)
	}
	tier, err := s.catalog.Tier(id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStepInvalidInput, err)
	}
	draft := &sc.Session.Draft
	draft.SetPricingTier(tier.PricingTier())
	// add-ons the new tier already includes are no longer purchasable
	for _, addon := range append([]domain.AddonSelection(nil), draft.Addons...) {
		product, err := s.catalog.Product(addon.ProductID)
		if err != nil || tier.Includes(product.Feature) {
			draft.RemoveAddon(addon.ProductID)
		}
	}
	return true, nil
}

type expediteStep struct {
	gateway FormationGateway
	catalog *catalog.Catalog
	logger  stepLogger
}

func (s *expediteStep) ID() StepID { return StepExpedite }

func feeScheduleKey(draft domain.OrderDraft) string {
	if draft.Jurisdiction == nil || draft.EntityType == nil {
		return ""
	}
	return draft.Jurisdiction.ID + "/" + draft.EntityType.ID
}

// load returns the fee schedule for the draft's jurisdiction and entity type.
// The state fee is written once per pair.
func (s *expediteStep) load(ctx context.Context, sc *StepContext) (domain.FeeSchedule, error) {
	session := sc.Session
	key := feeScheduleKey(session.Draft)
	if key == "" {
		return domain.FeeSchedule{}, fmt.Errorf("%w: jurisdiction and entity type are required", ErrStepIncomplete)
	}
	if ref := session.Reference; ref.FeeSchedule != nil && ref.FeeScheduleKey == key {
		if session.Draft.StateFee == nil {
			session.Draft.SetStateFee(ref.FeeSchedule.StateFee)
			sc.MarkDirty()
		}
		return *ref.FeeSchedule, nil
	}
	schedule, err := s.gateway.FetchFeeSchedule(ctx, session.Draft.Jurisdiction.ID, session.Draft.EntityType.ID)
	if err != nil {
		s.logger(ctx, "checkout.reference_fetch_failed", map[string]any{
			"sessionId": session.ID,
			"resource":  "fee_schedule",
			"key":       key,
			"error":     err.Error(),
		})
		return domain.FeeSchedule{}, fmt.Errorf("%w: fee schedule: %v", ErrReferenceDataUnavailable, err)
	}
	session.Reference.FeeSchedule = &schedule
	session.Reference.FeeScheduleKey = key
	session.Draft.SetStateFee(schedule.StateFee)
	sc.MarkDirty()
	return schedule, nil
}

func (s *expediteStep) View(ctx context.Context, sc *StepContext) StepView {
	view := StepView{Expedite: &ExpediteView{}}
	if fee := sc.Session.Draft.ExpediteFee; fee != nil {
		view.Expedite.Selected = fee.ID
	}
	schedule, err := s.load(ctx, sc)
	if err != nil {
		if isStepIncomplete(err) {
			view.Error = "Choose an entity type and jurisdiction first."
		} else {
			view.Error = "Filing fees could not be loaded. Please try again."
		}
		return view
	}
	if fee := sc.Session.Draft.StateFee; fee != nil {
		stateFee := *fee
		view.Expedite.StateFee = &stateFee
	}
	view.Expedite.Options = s.catalog.ExpediteOptions(schedule.ExpeditedFees)
	view.Ready = len(view.Expedite.Options) > 0
	return view
}

func (s *expediteStep) Commit(ctx context.Context, sc *StepContext, input StepInput) (bool, error) {
	id := strings.TrimSpace(input.ExpediteFeeID)
	if id == "" {
		return false, fmt.Errorf("%w: expediteFeeId is required", ErrStepIncomplete)
	}
	schedule, err := s.load(ctx, sc)
	if err != nil {
		return false, err
	}
	for _, option := range s.catalog.ExpediteOptions(schedule.ExpeditedFees) {
		if option.ID == id {
			sc.Session.Draft.SetExpediteFee(option.ExpediteFee())
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: unknown expedite option %q", ErrStepInvalidInput, id)
}

type reviewStep struct {
	catalog *catalog.Catalog
}

func (s *reviewStep) ID() StepID { return StepReview }

func (s *reviewStep) View(_ context.Context, sc *StepContext) StepView {
	draft := sc.Session.Draft.Clone()
	missing := draft.MissingFields()
	return StepView{
		Ready: len(missing) == 0,
		Review: &ReviewView{
			Draft:    draft,
			Total:    draft.Total(),
			Currency: s.catalog.Currency(),
			Missing:  missing,
		},
	}
}

// Commit only validates; the order leaves through Submit.
func (s *reviewStep) Commit(_ context.Context, sc *StepContext, _ StepInput) (bool, error) {
	if missing := sc.Session.Draft.MissingFields(); len(missing) > 0 {
		return false, fmt.Errorf("%w: missing %s", ErrStepIncomplete, strings.Join(missing, ", "))
	}
	return false, nil
}
