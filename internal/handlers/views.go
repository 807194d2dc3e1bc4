package handlers

import (
	"github.com/formation-desk/api/internal/catalog"
	"github.com/formation-desk/api/internal/domain"
	"github.com/formation-desk/api/internal/services"
)

type amountPayload struct {
	Amount  int64  `json:"amount"`
	Display string `json:"display"`
}

func newAmount(m domain.Money, currency string) amountPayload {
	return amountPayload{Amount: int64(m), Display: m.Format(currency)}
}

type namedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type pricedPayload struct {
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Price amountPayload `json:"price"`
}

type companyPayload struct {
	Name       string `json:"name"`
	Designator string `json:"designator"`
}

type addonSelectionPayload struct {
	ProductID       string        `json:"productId"`
	ProductName     string        `json:"productName"`
	SelectedPriceID *string       `json:"selectedPriceId"`
	ProductTier     *string       `json:"productTier,omitempty"`
	Price           amountPayload `json:"price"`
}

type draftPayload struct {
	CompanyInfo  *companyPayload         `json:"companyInfo"`
	EntityType   *namedPayload           `json:"entityType"`
	Jurisdiction *namedPayload           `json:"jurisdiction"`
	PricingTier  *pricedPayload          `json:"pricingTier"`
	StateFee     *pricedPayload          `json:"stateFee"`
	ExpediteFee  *pricedPayload          `json:"expediteFee"`
	Addons       []addonSelectionPayload `json:"addons"`
	Total        amountPayload           `json:"total"`
}

type priceOptionPayload struct {
	ID     string        `json:"id"`
	Tier   string        `json:"tier"`
	Label  string        `json:"label"`
	Amount amountPayload `json:"amount"`
}

type addonProductPayload struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	BasePrice   *amountPayload       `json:"basePrice,omitempty"`
	Options     []priceOptionPayload `json:"options,omitempty"`
}

type tierPayload struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Price       amountPayload `json:"price"`
	Features    []string      `json:"features"`
}

type expediteOptionPayload struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	ProcessingTime string        `json:"processingTime,omitempty"`
	Price          amountPayload `json:"price"`
}

type stepPayload struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`

	EntityType   *optionsPayload      `json:"entityType,omitempty"`
	Jurisdiction *optionsPayload      `json:"jurisdiction,omitempty"`
	Naming       *namingPayload       `json:"naming,omitempty"`
	PricingTier  *tierStepPayload     `json:"pricingTier,omitempty"`
	Expedite     *expediteStepPayload `json:"expedite,omitempty"`
	Addons       *addonsStepPayload   `json:"addons,omitempty"`
	Review       *reviewStepPayload   `json:"review,omitempty"`
}

type optionsPayload struct {
	Options  []namedPayload `json:"options"`
	Selected string         `json:"selected,omitempty"`
}

type namingPayload struct {
	Name        string   `json:"name"`
	Designator  string   `json:"designator"`
	Designators []string `json:"designators"`
}

type tierStepPayload struct {
	Tiers    []tierPayload `json:"tiers"`
	Selected string        `json:"selected,omitempty"`
}

type expediteStepPayload struct {
	StateFee *pricedPayload          `json:"stateFee"`
	Options  []expediteOptionPayload `json:"options"`
	Selected string                  `json:"selected,omitempty"`
}

type addonsStepPayload struct {
	NoAddonsAvailable bool                   `json:"noAddonsAvailable"`
	Position          int                    `json:"position,omitempty"`
	Count             int                    `json:"count,omitempty"`
	Product           *addonProductPayload   `json:"product,omitempty"`
	Current           *addonSelectionPayload `json:"current,omitempty"`
}

type reviewStepPayload struct {
	Missing []string `json:"missing"`
}

type receiptPayload struct {
	OrderID     string        `json:"orderId"`
	Total       amountPayload `json:"total"`
	Message     string        `json:"message,omitempty"`
	SubmittedAt string        `json:"submittedAt"`
}

type sessionResponse struct {
	SessionID string          `json:"sessionId"`
	Status    string          `json:"status"`
	Step      stepPayload     `json:"step"`
	Draft     draftPayload    `json:"draft"`
	Receipt   *receiptPayload `json:"receipt,omitempty"`
	ExpiresAt string          `json:"expiresAt,omitempty"`
}

func newSessionResponse(state services.CheckoutState, currency string) sessionResponse {
	session := state.Session
	resp := sessionResponse{
		SessionID: session.ID,
		Status:    string(session.Status),
		Step:      newStepPayload(state.View, currency),
		Draft:     newDraftPayload(session.Draft, currency),
		ExpiresAt: formatTime(session.ExpiresAt),
	}
	if receipt := session.Receipt; receipt != nil {
		resp.Receipt = &receiptPayload{
			OrderID:     receipt.OrderID,
			Total:       newAmount(receipt.Total, currency),
			Message:     receipt.Message,
			SubmittedAt: formatTime(receipt.SubmittedAt),
		}
	}
	return resp
}

func newDraftPayload(draft domain.OrderDraft, currency string) draftPayload {
	out := draftPayload{
		Addons: make([]addonSelectionPayload, 0, len(draft.Addons)),
		Total:  newAmount(draft.Total(), currency),
	}
	if info := draft.CompanyInfo; info != nil {
		out.CompanyInfo = &companyPayload{Name: info.Name, Designator: info.Designator}
	}
	if et := draft.EntityType; et != nil {
		out.EntityType = &namedPayload{ID: et.ID, Name: et.Name}
	}
	if j := draft.Jurisdiction; j != nil {
		out.Jurisdiction = &namedPayload{ID: j.ID, Name: j.Name}
	}
	if tier := draft.PricingTier; tier != nil {
		out.PricingTier = &pricedPayload{ID: tier.ID, Name: tier.Name, Price: newAmount(tier.Price, currency)}
	}
	if fee := draft.StateFee; fee != nil {
		out.StateFee = &pricedPayload{ID: fee.ID, Price: newAmount(fee.Amount, currency)}
	}
	if fee := draft.ExpediteFee; fee != nil {
		out.ExpediteFee = &pricedPayload{ID: fee.ID, Name: fee.Name, Price: newAmount(fee.Price, currency)}
	}
	for _, addon := range draft.Addons {
		out.Addons = append(out.Addons, newAddonSelectionPayload(addon, currency))
	}
	return out
}

func newAddonSelectionPayload(addon domain.AddonSelection, currency string) addonSelectionPayload {
	return addonSelectionPayload{
		ProductID:       addon.ProductID,
		ProductName:     addon.ProductName,
		SelectedPriceID: addon.SelectedPriceID,
		ProductTier:     addon.ProductTier,
		Price:           newAmount(addon.Price, currency),
	}
}

func newTierPayload(tier catalog.Tier, currency string) tierPayload {
	features := tier.Features
	if features == nil {
		features = []string{}
	}
	return tierPayload{
		ID:          tier.ID,
		Name:        tier.Name,
		Description: tier.Description,
		Price:       newAmount(tier.Price, currency),
		Features:    features,
	}
}

func newAddonProductPayload(product catalog.AddonProduct, currency string) addonProductPayload {
	out := addonProductPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
	}
	if product.BasePrice != nil {
		base := newAmount(*product.BasePrice, currency)
		out.BasePrice = &base
	}
	for _, option := range product.Options {
		out.Options = append(out.Options, priceOptionPayload{
			ID:     option.ID,
			Tier:   option.Tier,
			Label:  option.Label,
			Amount: newAmount(option.Amount, currency),
		})
	}
	return out
}

func newStepPayload(view services.StepView, currency string) stepPayload {
	out := stepPayload{
		ID:    string(view.Step),
		Index: view.Index,
		Total: view.Total,
		Ready: view.Ready,
		Error: view.Error,
	}
	switch {
	case view.EntityType != nil:
		opts := make([]namedPayload, 0, len(view.EntityType.Options))
		for _, et := range view.EntityType.Options {
			opts = append(opts, namedPayload{ID: et.ID, Name: et.Name})
		}
		out.EntityType = &optionsPayload{Options: opts, Selected: view.EntityType.Selected}
	case view.Jurisdiction != nil:
		opts := make([]namedPayload, 0, len(view.Jurisdiction.Options))
		for _, j := range view.Jurisdiction.Options {
			opts = append(opts, namedPayload{ID: j.ID, Name: j.Name})
		}
		out.Jurisdiction = &optionsPayload{Options: opts, Selected: view.Jurisdiction.Selected}
	case view.Naming != nil:
		designators := view.Naming.Designators
		if designators == nil {
			designators = []string{}
		}
		out.Naming = &namingPayload{Name: view.Naming.Name, Designator: view.Naming.Designator, Designators: designators}
	case view.PricingTier != nil:
		tiers := make([]tierPayload, 0, len(view.PricingTier.Tiers))
		for _, tier := range view.PricingTier.Tiers {
			tiers = append(tiers, newTierPayload(tier, currency))
		}
		out.PricingTier = &tierStepPayload{Tiers: tiers, Selected: view.PricingTier.Selected}
	case view.Expedite != nil:
		step := &expediteStepPayload{
			Options:  make([]expediteOptionPayload, 0, len(view.Expedite.Options)),
			Selected: view.Expedite.Selected,
		}
		if fee := view.Expedite.StateFee; fee != nil {
			step.StateFee = &pricedPayload{ID: fee.ID, Price: newAmount(fee.Amount, currency)}
		}
		for _, option := range view.Expedite.Options {
			step.Options = append(step.Options, expediteOptionPayload{
				ID:             option.ID,
				Name:           option.Name,
				Description:    option.Description,
				ProcessingTime: option.ProcessingTime,
				Price:          newAmount(option.Price, currency),
			})
		}
		out.Expedite = step
	case view.Addons != nil:
		step := &addonsStepPayload{
			NoAddonsAvailable: view.Addons.NoAddonsAvailable,
			Position:          view.Addons.Position,
			Count:             view.Addons.Count,
		}
		if view.Addons.Product != nil {
			product := newAddonProductPayload(*view.Addons.Product, currency)
			step.Product = &product
		}
		if view.Addons.Current != nil {
			current := newAddonSelectionPayload(*view.Addons.Current, currency)
			step.Current = &current
		}
		out.Addons = step
	case view.Review != nil:
		missing := view.Review.Missing
		if missing == nil {
			missing = []string{}
		}
		out.Review = &reviewStepPayload{Missing: missing}
	}
	return out
}
