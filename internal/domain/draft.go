package domain

import (
	"errors"
	"strings"
)

// ErrDraftIncomplete is returned when a submission payload is requested before every field is set.
var ErrDraftIncomplete = errors.New("order draft: required fields missing")

// OrderDraft accumulates the order while the checkout wizard runs.
// Nil fields are unset. Add-ons keep insertion order and are keyed by product id.
type OrderDraft struct {
	CompanyInfo  *CompanyInfo
	EntityType   *EntityType
	Jurisdiction *Jurisdiction
	PricingTier  *PricingTier
	StateFee     *StateFee
	ExpediteFee  *ExpediteFee
	Addons       []AddonSelection
}

func (d *OrderDraft) SetCompanyInfo(name, designator string) {
	d.CompanyInfo = &CompanyInfo{Name: name, Designator: designator}
}

func (d *OrderDraft) SetEntityType(entityType EntityType) {
	d.EntityType = &entityType
}

func (d *OrderDraft) SetJurisdiction(jurisdiction Jurisdiction) {
	d.Jurisdiction = &jurisdiction
}

func (d *OrderDraft) SetPricingTier(tier PricingTier) {
	d.PricingTier = &tier
}

func (d *OrderDraft) SetStateFee(fee StateFee) {
	d.StateFee = &fee
}

func (d *OrderDraft) SetExpediteFee(fee ExpediteFee) {
	d.ExpediteFee = &fee
}

// ClearCompanyInfo drops the company name, used when the chosen designator no longer applies.
func (d *OrderDraft) ClearCompanyInfo() {
	d.CompanyInfo = nil
}

// ClearFees drops the state and expedite fees fetched for a previous jurisdiction and entity type.
func (d *OrderDraft) ClearFees() {
	d.StateFee = nil
	d.ExpediteFee = nil
}

// AddOrReplaceAddon upserts the selection by product id. It reports false and
// leaves the draft untouched when no pricing tier has been chosen yet.
func (d *OrderDraft) AddOrReplaceAddon(selection AddonSelection) bool {
	if d.PricingTier == nil {
		return false
	}
	selection = cloneAddon(selection)
	for i := range d.Addons {
		if d.Addons[i].ProductID == selection.ProductID {
			d.Addons[i] = selection
			return true
		}
	}
	d.Addons = append(d.Addons, selection)
	return true
}

// RemoveAddon drops the entry for productID and reports whether one existed.
func (d *OrderDraft) RemoveAddon(productID string) bool {
	for i := range d.Addons {
		if d.Addons[i].ProductID == productID {
			d.Addons = append(d.Addons[:i], d.Addons[i+1:]...)
			return true
		}
	}
	return false
}

// Addon returns the selection stored for productID.
func (d OrderDraft) Addon(productID string) (AddonSelection, bool) {
	for _, addon := range d.Addons {
		if addon.ProductID == productID {
			return cloneAddon(addon), true
		}
	}
	return AddonSelection{}, false
}

// Reset returns the draft to its empty initial state.
func (d *OrderDraft) Reset() {
	*d = OrderDraft{}
}

// Total sums tier, state fee, expedite fee and add-on prices. Unset fields count as zero.
func (d OrderDraft) Total() Money {
	var total Money
	if d.PricingTier != nil {
		total += d.PricingTier.Price
	}
	if d.StateFee != nil {
		total += d.StateFee.Amount
	}
	if d.ExpediteFee != nil {
		total += d.ExpediteFee.Price
	}
	for _, addon := range d.Addons {
		total += addon.Price
	}
	return total
}

// MissingFields lists the required fields that are still unset.
func (d OrderDraft) MissingFields() []string {
	var missing []string
	if d.CompanyInfo == nil || strings.TrimSpace(d.CompanyInfo.Name) == "" || strings.TrimSpace(d.CompanyInfo.Designator) == "" {
		missing = append(missing, "companyInfo")
	}
	if d.EntityType == nil {
		missing = append(missing, "entityType")
	}
	if d.Jurisdiction == nil {
		missing = append(missing, "jurisdiction")
	}
	if d.PricingTier == nil {
		missing = append(missing, "pricingTier")
	}
	if d.StateFee == nil {
		missing = append(missing, "stateFee")
	}
	if d.ExpediteFee == nil {
		missing = append(missing, "expediteFee")
	}
	return missing
}

func (d OrderDraft) Complete() bool {
	return len(d.MissingFields()) == 0
}

// SubmissionPayload serialises the draft into the backend order shape.
func (d OrderDraft) SubmissionPayload() (OrderSubmission, error) {
	if !d.Complete() {
		return OrderSubmission{}, ErrDraftIncomplete
	}
	payload := OrderSubmission{
		CompanyInfo:    *d.CompanyInfo,
		EntityTypeID:   d.EntityType.ID,
		JurisdictionID: d.Jurisdiction.ID,
		PricingTierID:  d.PricingTier.ID,
		StateFeeID:     d.StateFee.ID,
		ExpediteFeeID:  d.ExpediteFee.ID,
		Addons:         make([]OrderAddon, 0, len(d.Addons)),
	}
	for _, addon := range d.Addons {
		payload.Addons = append(payload.Addons, OrderAddon{
			ProductID:       addon.ProductID,
			SelectedPriceID: cloneString(addon.SelectedPriceID),
		})
	}
	return payload, nil
}

// Clone returns a deep copy of the draft.
func (d OrderDraft) Clone() OrderDraft {
	out := OrderDraft{}
	if d.CompanyInfo != nil {
		info := *d.CompanyInfo
		out.CompanyInfo = &info
	}
	if d.EntityType != nil {
		entityType := *d.EntityType
		out.EntityType = &entityType
	}
	if d.Jurisdiction != nil {
		jurisdiction := *d.Jurisdiction
		out.Jurisdiction = &jurisdiction
	}
	if d.PricingTier != nil {
		tier := *d.PricingTier
		out.PricingTier = &tier
	}
	if d.StateFee != nil {
		fee := *d.StateFee
		out.StateFee = &fee
	}
	if d.ExpediteFee != nil {
		fee := *d.ExpediteFee
		out.ExpediteFee = &fee
	}
	if len(d.Addons) > 0 {
		out.Addons = make([]AddonSelection, 0, len(d.Addons))
		for _, addon := range d.Addons {
			out.Addons = append(out.Addons, cloneAddon(addon))
		}
	}
	return out
}

func cloneAddon(addon AddonSelection) AddonSelection {
	addon.SelectedPriceID = cloneString(addon.SelectedPriceID)
	addon.ProductTier = cloneString(addon.ProductTier)
	return addon
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
