package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/domain"
)

type wizardFeatureContext struct {
	svc     CheckoutWizardService
	gateway *stubGateway
	state   CheckoutState
}

func (c *wizardFeatureContext) reset() error {
	cat, err := catalog.Default()
	if err != nil {
		return err
	}
	c.gateway = newStubGateway()
	clock := &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	c.svc, err = NewCheckoutWizardService(CheckoutWizardServiceDeps{
		Sessions: newStubSessionRepository(),
		Gateway:  c.gateway,
		Catalog:  cat,
		Clock:    clock.Now,
	})
	c.state = CheckoutState{}
	return err
}

func (c *wizardFeatureContext) aNewCheckoutSession() error {
	state, err := c.svc.StartSession(context.Background())
	if err != nil {
		return err
	}
	c.state = state
	return nil
}

func (c *wizardFeatureContext) commit(step StepID, input StepInput) error {
	state, err := c.svc.CommitStep(context.Background(), CommitStepCommand{
		SessionID: c.state.Session.ID,
		StepID:    step,
		Input:     input,
	})
	if err != nil {
		return fmt.Errorf("commit %s: %w", step, err)
	}
	c.state = state
	return nil
}

func (c *wizardFeatureContext) iChooseTheEntityType(name string) error {
	view := c.state.View.EntityType
	if view == nil {
		return fmt.Errorf("expected entity type step, got %s", c.state.View.Step)
	}
	for _, option := range view.Options {
		if option.Name == name {
			return c.commit(StepEntityType, StepInput{EntityTypeID: option.ID})
		}
	}
	return fmt.Errorf("entity type %q not offered", name)
}

func (c *wizardFeatureContext) iChooseTheJurisdiction(name string) error {
	view := c.state.View.Jurisdiction
	if view == nil {
		return fmt.Errorf("expected jurisdiction step, got %s", c.state.View.Step)
	}
	for _, option := range view.Options {
		if option.Name == name {
			return c.commit(StepJurisdiction, StepInput{JurisdictionID: option.ID})
		}
	}
	return fmt.Errorf("jurisdiction %q not offered", name)
}

func (c *wizardFeatureContext) iNameTheCompany(name, designator string) error {
	return c.commit(StepNaming, StepInput{CompanyName: name, Designator: designator})
}

func (c *wizardFeatureContext) iChooseThePricingTier(tier string) error {
	return c.commit(StepPricingTier, StepInput{TierID: tier})
}

func (c *wizardFeatureContext) iChooseTheExpediteOption(tierName string) error {
	view := c.state.View.Expedite
	if view == nil {
		return fmt.Errorf("expected expedite step, got %s", c.state.View.Step)
	}
	for _, option := range view.Options {
		if strings.EqualFold(option.TierName, tierName) {
			return c.commit(StepExpedite, StepInput{ExpediteFeeID: option.ID})
		}
	}
	return fmt.Errorf("expedite option %q not offered", tierName)
}

func (c *wizardFeatureContext) iDeclineEveryAddon() error {
	decline := false
	for c.state.View.Step == StepAddons {
		if err := c.commit(StepAddons, StepInput{Accept: &decline}); err != nil {
			return err
		}
	}
	return nil
}

func (c *wizardFeatureContext) theWizardShowsTheStep(step string) error {
	if got := string(c.state.View.Step); got != step {
		return fmt.Errorf("expected step %s, got %s", step, got)
	}
	return nil
}

func (c *wizardFeatureContext) theOrderTotalIsPlusTheStateFee(dollars int) error {
	fee := c.state.Session.Draft.StateFee
	if fee == nil {
		return fmt.Errorf("state fee not set")
	}
	want := domain.Dollars(int64(dollars)) + fee.Amount
	if got := c.state.Session.Draft.Total(); got != want {
		return fmt.Errorf("expected total %s, got %s", want, got)
	}
	if review := c.state.View.Review; review == nil || review.Total != want {
		return fmt.Errorf("review view does not show total %s", want)
	}
	return nil
}

func (c *wizardFeatureContext) iSubmitTheOrder() error {
	state, err := c.svc.Submit(context.Background(), SubmitOrderCommand{SessionID: c.state.Session.ID, IdempotencyKey: "feature-key"})
	if err != nil {
		return err
	}
	c.state = state
	return nil
}

func (c *wizardFeatureContext) submitted() (domain.OrderSubmission, error) {
	if len(c.gateway.submitted) != 1 {
		return domain.OrderSubmission{}, fmt.Errorf("expected one submission, got %d", len(c.gateway.submitted))
	}
	return c.gateway.submitted[0], nil
}

func (c *wizardFeatureContext) theSubmittedOrderHasAllSixTopLevelFields() error {
	order, err := c.submitted()
	if err != nil {
		return err
	}
	if order.CompanyInfo.Name != "Acme" || order.CompanyInfo.Designator != "LLC" {
		return fmt.Errorf("unexpected company info %+v", order.CompanyInfo)
	}
	fields := map[string]string{
		"entityTypeId":   order.EntityTypeID,
		"jurisdictionId": order.JurisdictionID,
		"pricingTierId":  order.PricingTierID,
		"stateFeeId":     order.StateFeeID,
		"expediteFeeId":  order.ExpediteFeeID,
	}
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("submission is missing %s", name)
		}
	}
	return nil
}

func (c *wizardFeatureContext) theSubmittedOrderHasNoAddons() error {
	order, err := c.submitted()
	if err != nil {
		return err
	}
	if len(order.Addons) != 0 {
		return fmt.Errorf("expected no add-ons, got %+v", order.Addons)
	}
	return nil
}

func (c *wizardFeatureContext) noAddonsAreAvailable() error {
	view := c.state.View.Addons
	if view == nil || !view.NoAddonsAvailable {
		return fmt.Errorf("expected no add-ons available, got %+v", view)
	}
	return nil
}

func (c *wizardFeatureContext) iResetTheSession() error {
	state, err := c.svc.Reset(context.Background(), c.state.Session.ID)
	if err != nil {
		return err
	}
	c.state = state
	return nil
}

func (c *wizardFeatureContext) theOrderIsEmpty() error {
	draft := c.state.Session.Draft
	if draft.EntityType != nil || draft.Jurisdiction != nil || draft.CompanyInfo != nil ||
		draft.PricingTier != nil || draft.StateFee != nil || draft.ExpediteFee != nil || len(draft.Addons) != 0 {
		return fmt.Errorf("expected empty draft, got %+v", draft)
	}
	if draft.Total() != 0 {
		return fmt.Errorf("expected zero total, got %s", draft.Total())
	}
	return nil
}

func initializeWizardScenario(sc *godog.ScenarioContext) {
	c := &wizardFeatureContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, c.reset()
	})

	sc.Step(`^a new checkout session$`, c.aNewCheckoutSession)
	sc.Step(`^I choose the entity type "([^"]*)"$`, c.iChooseTheEntityType)
	sc.Step(`^I choose the jurisdiction "([^"]*)"$`, c.iChooseTheJurisdiction)
	sc.Step(`^I name the company "([^"]*)" with designator "([^"]*)"$`, c.iNameTheCompany)
	sc.Step(`^I choose the pricing tier "([^"]*)"$`, c.iChooseThePricingTier)
	sc.Step(`^I choose the expedite option "([^"]*)"$`, c.iChooseTheExpediteOption)
	sc.Step(`^I decline every add-on$`, c.iDeclineEveryAddon)
	sc.Step(`^I submit the order$`, c.iSubmitTheOrder)
	sc.Step(`^I reset the session$`, c.iResetTheSession)

	sc.Step(`^the wizard shows the "([^"]*)" step$`, c.theWizardShowsTheStep)
	sc.Step(`^the order total is \$(\d+) plus the state fee$`, c.theOrderTotalIsPlusTheStateFee)
	sc.Step(`^the submitted order has all six top-level fields$`, c.theSubmittedOrderHasAllSixTopLevelFields)
	sc.Step(`^the submitted order has no add-ons$`, c.theSubmittedOrderHasNoAddons)
	sc.Step(`^no add-ons are available$`, c.noAddonsAreAvailable)
	sc.Step(`^the order is empty$`, c.theOrderIsEmpty)
}

func TestCheckoutWizardFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeWizardScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/checkout_wizard.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
