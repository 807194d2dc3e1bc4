package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/formation-desk/api/internal/catalog"
)

// addonsStep walks the add-ons eligible for the chosen tier one at a time.
// Session.AddonIndex is the 0-based position within that list.
type addonsStep struct {
	catalog *catalog.Catalog
}

func (s *addonsStep) ID() StepID { return StepAddons }

func (s *addonsStep) eligible(sc *StepContext) ([]catalog.AddonProduct, error) {
	tier := sc.Session.Draft.PricingTier
	if tier == nil {
		return nil, fmt.Errorf("%w: pricing tier is required", ErrStepIncomplete)
	}
	products, err := s.catalog.EligibleAddons(tier.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStepInvalidInput, err)
	}
	return products, nil
}

func clampAddonIndex(index, count int) int {
	if index >= count {
		index = count - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

func (s *addonsStep) Enter(sc *StepContext, fromBack bool) {
	index := 0
	if fromBack {
		if products, err := s.eligible(sc); err == nil {
			index = clampAddonIndex(len(products)-1, len(products))
		}
	}
	sc.Session.AddonIndex = index
}

func (s *addonsStep) Back(sc *StepContext) bool {
	if sc.Session.AddonIndex <= 0 {
		return false
	}
	sc.Session.AddonIndex--
	return true
}

func (s *addonsStep) View(_ context.Context, sc *StepContext) StepView {
	view := StepView{Addons: &AddonsView{}}
	products, err := s.eligible(sc)
	if err != nil {
		view.Error = "Choose a package first."
		return view
	}
	view.Ready = true
	if len(products) == 0 {
		view.Addons.NoAddonsAvailable = true
		return view
	}
	index := clampAddonIndex(sc.Session.AddonIndex, len(products))
	product := products[index]
	view.Addons.Position = index + 1
	view.Addons.Count = len(products)
	view.Addons.Product = &product
	if current, ok := sc.Session.Draft.Addon(product.ID); ok {
		view.Addons.Current = &current
	}
	return view
}

// Commit accepts or declines the add-on on screen. Declining removes any
// selection made on an earlier pass. Only the last add-on advances the wizard.
func (s *addonsStep) Commit(_ context.Context, sc *StepContext, input StepInput) (bool, error) {
	products, err := s.eligible(sc)
	if err != nil {
		return false, err
	}
	if len(products) == 0 {
		return true, nil
	}
	if input.Accept == nil {
		return false, fmt.Errorf("%w: accept is required", ErrStepIncomplete)
	}
	session := sc.Session
	index := clampAddonIndex(session.AddonIndex, len(products))
	product := products[index]

	if *input.Accept {
		selection, err := product.Selection(input.PriceID)
		if err != nil {
			if errors.Is(err, catalog.ErrPriceOptionRequired) {
				return false, fmt.Errorf("%w: %v", ErrStepIncomplete, err)
			}
			return false, fmt.Errorf("%w: %v", ErrStepInvalidInput, err)
		}
		if !session.Draft.AddOrReplaceAddon(selection) {
			return false, fmt.Errorf("%w: pricing tier is required", ErrStepIncomplete)
		}
	} else {
		session.Draft.RemoveAddon(product.ID)
	}

	if index < len(products)-1 {
		session.AddonIndex = index + 1
		return false, nil
	}
	session.AddonIndex = index
	return true, nil
}

func isStepIncomplete(err error) bool {
	return errors.Is(err, ErrStepIncomplete)
}
